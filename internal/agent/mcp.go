package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MegaGrindStone/go-mcp"
	"github.com/MegaGrindStone/hitl-web-ui/internal/models"
)

// MCPTool is a tool served by an MCP server. Its definition comes from configuration, the call is
// forwarded to the server once a human approved it.
type MCPTool struct {
	definition models.Tool
	callTool   func(ctx context.Context, params mcp.CallToolParams) ([]mcp.Content, bool, error)
}

// NewMCPTool creates a tool that calls def.Name on the server behind cli. cli must be connected.
func NewMCPTool(def models.Tool, cli *mcp.Client) MCPTool {
	return MCPTool{
		definition: def,
		callTool: func(ctx context.Context, params mcp.CallToolParams) ([]mcp.Content, bool, error) {
			res, err := cli.CallTool(ctx, params)
			if err != nil {
				return nil, false, err
			}
			return res.Content, res.IsError, nil
		},
	}
}

// Definition describes the tool to the model.
func (t MCPTool) Definition() models.Tool {
	return t.definition
}

// Call forwards input to the MCP server and returns the text contents of the result. A result the
// server flagged as an error is returned as an error.
func (t MCPTool) Call(ctx context.Context, input json.RawMessage) (string, error) {
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}

	contents, isError, err := t.callTool(ctx, mcp.CallToolParams{
		Name:      t.definition.Name,
		Arguments: input,
	})
	if err != nil {
		return "", fmt.Errorf("mcp call failed: %w", err)
	}

	var texts []string
	for _, c := range contents {
		if c.Type == mcp.ContentTypeText && c.Text != "" {
			texts = append(texts, c.Text)
		}
	}
	text := strings.Join(texts, "\n")

	if isError {
		if text == "" {
			text = "tool returned an error"
		}
		return "", errors.New(text)
	}
	return text, nil
}
