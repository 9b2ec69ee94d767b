package roboflow

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/couchcryptid/road-hazard-service/internal/domain"
)

// Client implements domain.Classifier using Roboflow hosted inference.
type Client struct {
	apiKey     string
	model      string
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient creates a Roboflow detection client for one model id such as
// "pothole-detection-bqu6s/9".
func NewClient(baseURL, apiKey, model string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		apiKey: apiKey,
		model:  strings.Trim(model, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// Classify sends the image base64-encoded and returns predictions in the
// order the model ranked them.
func (c *Client) Classify(ctx context.Context, image []byte) ([]domain.Prediction, error) {
	u := fmt.Sprintf("%s/%s?%s", c.baseURL, c.model, url.Values{"api_key": {c.apiKey}}.Encode())
	body := strings.NewReader(base64.StdEncoding.EncodeToString(image))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.DependencyError{Dependency: "image detector", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &domain.DependencyError{
			Dependency: "image detector",
			Err:        fmt.Errorf("roboflow API error: status %d: %s", resp.StatusCode, msg),
		}
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &domain.DependencyError{Dependency: "image detector", Err: fmt.Errorf("decode response: %w", err)}
	}

	preds := make([]domain.Prediction, 0, len(out.Predictions))
	for _, p := range out.Predictions {
		preds = append(preds, domain.Prediction{Class: p.Class, Confidence: p.Confidence})
	}
	c.logger.Debug("image classified", "predictions", len(preds), "duration", time.Since(start))
	return preds, nil
}

// Roboflow API response types.

type response struct {
	Predictions []prediction `json:"predictions"`
}

type prediction struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
}
