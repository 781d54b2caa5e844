package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/speak4all/coursefeed/internal/model"
)

// GetMyChannels returns the channels the token's user is entitled to
// subscribe to. The backend has served both a bare array and a paginated
// {items: [...]} shape over time; both are accepted.
func (c *Client) GetMyChannels(ctx context.Context, token string) (model.ChannelSet, error) {
	body, err := c.doWithRetry(ctx, http.MethodGet, "/courses/my", token, nil)
	if err != nil {
		return nil, fmt.Errorf("get channels: %w", err)
	}

	var page struct {
		Items []model.Channel `json:"items"`
	}
	if err := json.Unmarshal(body, &page); err == nil && page.Items != nil {
		return page.Items, nil
	}

	var channels []model.Channel
	if err := json.Unmarshal(body, &channels); err != nil {
		return nil, fmt.Errorf("unmarshal channels: %w", err)
	}
	return channels, nil
}
