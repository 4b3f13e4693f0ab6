package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MegaGrindStone/hitl-web-ui/internal/models"
)

// WeatherSearch is a stub weather lookup. Every city is sunny.
type WeatherSearch struct{}

type weatherSearchInput struct {
	City string `json:"city"`
}

// Definition describes the tool to the model.
func (WeatherSearch) Definition() models.Tool {
	return models.Tool{
		Name:        "weather_search",
		Description: "Search for the weather in the given city.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"city":{"type":"string","description":"Name of the city"}},"required":["city"]}`),
	}
}

// Call returns the weather for the city in input.
func (WeatherSearch) Call(_ context.Context, input json.RawMessage) (string, error) {
	var in weatherSearchInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}
	if in.City == "" {
		return "", errors.New("city is required")
	}
	return "Sunny!", nil
}
