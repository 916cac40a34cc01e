package llm

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// ClientConfig holds credentials and limits for one provider client
type ClientConfig struct {
	APIKey    string
	BaseURL   string // empty = provider default
	MaxTokens int
	Timeout   time.Duration // HTTP client timeout, 0 = none (streams are bounded by ctx)

	// HTTPClient overrides the client built from Timeout (tests)
	HTTPClient *http.Client
}

func (c ClientConfig) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: c.Timeout}
}

// MaxInlineBytes caps attachments downloaded for inline upload
const MaxInlineBytes = 20 * 1024 * 1024

// fetchURL downloads url and returns its bytes and MIME type. The
// Content-Type header is used when present, otherwise the bytes are sniffed.
func fetchURL(ctx context.Context, client *http.Client, url string, limit int64) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch attachment: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > limit {
		return nil, "", fmt.Errorf("fetch attachment: exceeds %d bytes", limit)
	}

	mimeType := ""
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil && mt != "application/octet-stream" {
			mimeType = mt
		}
	}
	if mimeType == "" {
		mimeType = mimetype.Detect(data).String()
		if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
			mimeType = mt
		}
	}
	return data, mimeType, nil
}
