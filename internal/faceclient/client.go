// Package faceclient talks to the external face-feature extractor. The
// engine consumes only the feature vector and detection confidence it
// returns; how pixels become vectors is the extractor's business.
package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ExtractResult is the extractor's answer for one image.
type ExtractResult struct {
	Vector        []float64
	Confidence    float64
	FacesDetected int
}

// Client calls the face extraction microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. With skip set, Extract returns a fixed vector so
// the rest of the pipeline can run without the service (dev only).
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // extraction can be slow on cold start
		},
	}
}

// Extract requests a feature vector for a base64-encoded image. A data
// URL prefix is stripped before sending.
func (c *Client) Extract(ctx context.Context, imageBase64 string) (*ExtractResult, error) {
	if c.Skip {
		return &ExtractResult{
			Vector:        []float64{0.1, 0.2, 0.3},
			Confidence:    0.95,
			FacesDetected: 1,
		}, nil
	}
	if imageBase64 == "" {
		return nil, fmt.Errorf("image required")
	}
	if idx := strings.Index(imageBase64, "base64,"); idx >= 0 {
		imageBase64 = imageBase64[idx+len("base64,"):]
	}

	body, _ := json.Marshal(map[string]string{"image": imageBase64})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out struct {
		Embedding     []float64 `json:"embedding"`
		Score         float64   `json:"score"`
		FacesDetected int       `json:"faces_detected"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("no face detected in image")
	}

	return &ExtractResult{
		Vector:        out.Embedding,
		Confidence:    out.Score,
		FacesDetected: out.FacesDetected,
	}, nil
}

// Health pings the extractor.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}
