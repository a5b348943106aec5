// Package extract talks to the attachment text-extraction service.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxSummaryRunes caps what is stored per attachment.
const MaxSummaryRunes = 4000

var ErrNoText = errors.New("extract: no text")

type Extractor interface {
	Extract(ctx context.Context, fileURL, mimeType string) (string, error)
}

type HTTPExtractor struct {
	URL    string
	Client *http.Client
}

func NewHTTPExtractor(url string, timeout time.Duration) *HTTPExtractor {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPExtractor{URL: url, Client: &http.Client{Timeout: timeout}}
}

type extractReq struct {
	FileURL  string `json:"file_url"`
	MimeType string `json:"mime_type"`
}

type extractResp struct {
	Summary string `json:"summary"`
	Error   string `json:"error,omitempty"`
}

func (x *HTTPExtractor) Extract(ctx context.Context, fileURL, mimeType string) (string, error) {
	b, err := json.Marshal(extractReq{FileURL: fileURL, MimeType: mimeType})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.URL, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := x.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("extract: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded extractResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("extract: decode: %w", err)
	}
	if decoded.Error != "" {
		return "", errors.New(decoded.Error)
	}
	text := strings.TrimSpace(decoded.Summary)
	if text == "" {
		return "", ErrNoText
	}
	return Truncate(text, MaxSummaryRunes), nil
}

// Nop never extracts anything; used when no extraction service is configured.
type Nop struct{}

func (Nop) Extract(context.Context, string, string) (string, error) { return "", ErrNoText }

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
