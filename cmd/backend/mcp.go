package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"

	"github.com/MegaGrindStone/go-mcp"
	"github.com/MegaGrindStone/hitl-web-ui/internal/agent"
)

var mcpClientInfo = mcp.Info{
	Name:    "hitl-backend",
	Version: "0.1.0",
}

type mcpServer struct {
	name   string
	client *mcp.Client
	tools  []mcpToolConfig
}

// mcpServers holds the connected MCP servers and everything needed to let them go.
type mcpServers struct {
	servers []mcpServer
	cmds    []*exec.Cmd
	cancels []context.CancelFunc
}

func populateMCPClients(cfg backendConfig) (mcpServers, error) {
	var res mcpServers

	for _, name := range sortedKeys(cfg.MCPSSEServers) {
		srvCfg := cfg.MCPSSEServers[name]
		sseClient := mcp.NewSSEClient(srvCfg.URL, nil)
		res.servers = append(res.servers, mcpServer{
			name:   name,
			client: mcp.NewClient(mcpClientInfo, sseClient),
			tools:  srvCfg.Tools,
		})
	}

	for _, name := range sortedKeys(cfg.MCPStdIOServers) {
		srvCfg := cfg.MCPStdIOServers[name]
		cmd := exec.Command(srvCfg.Command, srvCfg.Args...)

		in, err := cmd.StdinPipe()
		if err != nil {
			return res, fmt.Errorf("failed to open stdin of mcp server %s: %w", name, err)
		}
		out, err := cmd.StdoutPipe()
		if err != nil {
			return res, fmt.Errorf("failed to open stdout of mcp server %s: %w", name, err)
		}
		if err := cmd.Start(); err != nil {
			return res, fmt.Errorf("failed to start mcp server %s: %w", name, err)
		}
		res.cmds = append(res.cmds, cmd)

		cliStdIO := mcp.NewStdIO(out, in)
		res.servers = append(res.servers, mcpServer{
			name:   name,
			client: mcp.NewClient(mcpClientInfo, cliStdIO),
			tools:  srvCfg.Tools,
		})
	}

	return res, nil
}

// connect connects every server and returns the tools they declare. The connections stay open until
// close is called.
func (m *mcpServers) connect(logger *slog.Logger) ([]agent.Tool, error) {
	var tools []agent.Tool
	for _, srv := range m.servers {
		logger.Info("Connecting to MCP server", slog.String("name", srv.name))

		connectCtx, connectCancel := context.WithCancel(context.Background())
		m.cancels = append(m.cancels, connectCancel)

		ready := make(chan struct{})
		errs := make(chan error, 1)

		go func() {
			if err := srv.client.Connect(connectCtx, ready); err != nil {
				errs <- err
			}
		}()

		select {
		case err := <-errs:
			return nil, fmt.Errorf("failed to connect to mcp server %s: %w", srv.name, err)
		case <-ready:
		}

		logger.Info("Connected to MCP server",
			slog.String("name", srv.name),
			slog.String("serverName", srv.client.ServerInfo().Name))

		for _, toolCfg := range srv.tools {
			def, err := toolCfg.definition()
			if err != nil {
				return nil, fmt.Errorf("mcp server %s: %w", srv.name, err)
			}
			tools = append(tools, agent.NewMCPTool(def, srv.client))
		}
	}
	return tools, nil
}

func (m *mcpServers) close(logger *slog.Logger) {
	for _, cancel := range m.cancels {
		cancel()
	}
	for _, cmd := range m.cmds {
		if err := cmd.Process.Kill(); err != nil {
			logger.Error("Failed to stop MCP server", slog.String("err", err.Error()))
		}
		// The process was killed, so Wait only reaps it.
		_ = cmd.Wait()
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
