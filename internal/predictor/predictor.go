// Package predictor scores inbound message urgency via the external
// prediction service.
package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Priority labels the service may return.
const (
	PriorityRoutine = "routine"
	PriorityUrgent  = "urgent"
	PriorityStat    = "stat"
)

// ValidPriority reports whether the label is one the data model accepts.
func ValidPriority(p string) bool {
	return p == PriorityRoutine || p == PriorityUrgent || p == PriorityStat
}

type Client struct {
	url    string
	client *http.Client
}

func NewClient(serviceURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		url:    serviceURL,
		client: &http.Client{Timeout: timeout},
	}
}

type predictRequest struct {
	Text string `json:"text"`
}

type predictResponse struct {
	Prediction string `json:"prediction"`
}

// Predict scores the message text.  Urgency scoring is best-effort: any
// transport or protocol failure is returned alongside the routine default so
// message recording is never blocked on the prediction service.
func (c *Client) Predict(ctx context.Context, text string) (string, error) {
	if c == nil || c.url == "" {
		return PriorityRoutine, nil
	}

	body, _ := json.Marshal(predictRequest{Text: text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return PriorityRoutine, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return PriorityRoutine, err
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		return PriorityRoutine, fmt.Errorf("predictor: status=%d", res.StatusCode)
	}

	var out predictResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return PriorityRoutine, err
	}
	if !ValidPriority(out.Prediction) {
		return PriorityRoutine, fmt.Errorf("predictor: unexpected label %q", out.Prediction)
	}
	return out.Prediction, nil
}
