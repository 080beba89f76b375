// Package classifier calls the externally-owned reply classification
// service. The scheduler core only sees the narrow Client surface.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"dealflow/internal/config"
)

// ErrBadResponse marks a reply that could not be parsed into the expected
// shape. Callers route the message to human review instead of retrying:
// re-running a deterministic parse failure wastes budget.
var ErrBadResponse = errors.New("classifier returned an unparseable response")

const bodyPreviewLimit = 2000

// Result is the classification for one inbound message. Extracted deal terms
// are optional.
type Result struct {
	Category   string   `json:"category"`
	Confidence float64  `json:"confidence"`
	Price      *float64 `json:"price,omitempty"`
	NOI        *float64 `json:"noi,omitempty"`
	CapRate    *float64 `json:"cap_rate,omitempty"`
}

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(cfg config.ClassifierConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type classifyRequest struct {
	Sender  string `json:"sender"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Classify submits sender, subject and a truncated body preview and expects
// one of the fixed categories plus a confidence in [0,1].
func (c *Client) Classify(ctx context.Context, sender, subject, body string) (*Result, error) {
	if len(body) > bodyPreviewLimit {
		body = body[:bodyPreviewLimit]
	}

	payload, err := json.Marshal(classifyRequest{Sender: sender, Subject: subject, Body: body})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/classify", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classifier request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("classifier returned status %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if result.Category == "" || result.Confidence < 0 || result.Confidence > 1 {
		return nil, fmt.Errorf("%w: category=%q confidence=%v", ErrBadResponse, result.Category, result.Confidence)
	}
	return &result, nil
}
