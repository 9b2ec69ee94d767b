// Package twilio downloads WhatsApp media and renders webhook replies.
package twilio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/couchcryptid/road-hazard-service/internal/domain"
)

// mediaHost serves message media; account credentials are only sent there.
const mediaHost = "api.twilio.com"

// MediaClient downloads message attachments with account basic auth.
type MediaClient struct {
	accountSID string
	authToken  string
	authHost   string
	maxBytes   int64
	httpClient *http.Client
	logger     *slog.Logger
}

// NewMediaClient creates a media downloader. Attachments larger than
// maxBytes are refused.
func NewMediaClient(accountSID, authToken string, timeout time.Duration, maxBytes int64, logger *slog.Logger) *MediaClient {
	return &MediaClient{
		accountSID: accountSID,
		authToken:  authToken,
		authHost:   mediaHost,
		maxBytes:   maxBytes,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Fetch downloads mediaURL. Every failure is a *domain.DependencyError so
// the chat flow can ask the sender to retry.
func (c *MediaClient) Fetch(ctx context.Context, mediaURL string) (domain.Media, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return domain.Media{}, dependencyErr(fmt.Errorf("create request: %w", err))
	}
	if c.sendsCredentials(req) {
		req.SetBasicAuth(c.accountSID, c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Media{}, dependencyErr(fmt.Errorf("media request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.Media{}, dependencyErr(fmt.Errorf("media host returned status %d", resp.StatusCode))
	}
	if resp.ContentLength > c.maxBytes {
		return domain.Media{}, dependencyErr(fmt.Errorf("media is %d bytes, limit is %d", resp.ContentLength, c.maxBytes))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return domain.Media{}, dependencyErr(fmt.Errorf("read media: %w", err))
	}
	if int64(len(data)) > c.maxBytes {
		return domain.Media{}, dependencyErr(fmt.Errorf("media exceeds %d bytes", c.maxBytes))
	}

	c.logger.Debug("media downloaded", "bytes", len(data), "content_type", resp.Header.Get("Content-Type"))
	return domain.Media{Data: data, ContentType: resp.Header.Get("Content-Type")}, nil
}

// sendsCredentials reports whether req targets the media host over TLS.
// Webhook input is unauthenticated, so any other URL is fetched anonymously.
func (c *MediaClient) sendsCredentials(req *http.Request) bool {
	return c.accountSID != "" &&
		req.URL.Scheme == "https" &&
		strings.EqualFold(req.URL.Hostname(), c.authHost)
}

func dependencyErr(err error) error {
	return &domain.DependencyError{Dependency: "media host", Err: err}
}
