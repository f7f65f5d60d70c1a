// Package push delivers notifications to chat members' devices through
// the Expo push gateway. Delivery is best effort: a failed send never
// fails the message write that triggered it.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const batchSize = 100

// Notification is one push message fanned out to a set of device tokens.
type Notification struct {
	Title string
	Body  string
	// Data rides along for the receiving client to route the tap,
	// typically the chat id.
	Data map[string]string
}

// Client talks to the push gateway.
type Client struct {
	hc     *resty.Client
	logger *zap.Logger
}

// NewClient creates a push client for the given gateway URL.
func NewClient(baseURL string, logger *zap.Logger) *Client {
	hc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(10 * time.Second)
	return &Client{hc: hc, logger: logger}
}

type ticket struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type pushMessage struct {
	To    string            `json:"to"`
	Title string            `json:"title,omitempty"`
	Body  string            `json:"body,omitempty"`
	Data  map[string]string `json:"data,omitempty"`
}

// Send fans n out to every token, batching requests to the gateway's
// limit. Tokens the gateway rejects are logged and skipped; the first
// transport-level error aborts remaining batches.
func (c *Client) Send(ctx context.Context, tokens []string, n Notification) error {
	for start := 0; start < len(tokens); start += batchSize {
		end := min(start+batchSize, len(tokens))
		batch := make([]pushMessage, 0, end-start)
		for _, tok := range tokens[start:end] {
			if tok == "" {
				continue
			}
			batch = append(batch, pushMessage{To: tok, Title: n.Title, Body: n.Body, Data: n.Data})
		}
		if len(batch) == 0 {
			continue
		}
		if err := c.sendBatch(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) sendBatch(ctx context.Context, batch []pushMessage) error {
	resp, err := c.hc.R().
		SetContext(ctx).
		SetBody(batch).
		Post("/--/api/v2/push/send")
	if err != nil {
		return fmt.Errorf("push send: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("push send: status %d", resp.StatusCode())
	}

	var out struct {
		Data []ticket `json:"data"`
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return fmt.Errorf("push send: decode tickets: %w", err)
	}
	for i, tk := range out.Data {
		if i >= len(batch) {
			break
		}
		if tk.Status != "ok" && c.logger != nil {
			c.logger.Warn("push ticket rejected",
				zap.String("token", batch[i].To), zap.String("message", tk.Message))
		}
	}
	return nil
}
