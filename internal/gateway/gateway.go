// Package gateway is the client of the outbound messaging gateway used to
// reach contacts outside the portal (SMS / WhatsApp style delivery).
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"portalchat/internal/models"

	"github.com/h2non/filetype"
	"golang.org/x/time/rate"
)

// DefaultCountryCodes are the destination prefixes accepted when none are configured.
var DefaultCountryCodes = []string{"1", "34", "44", "52", "54", "55", "56", "57"}

const maxErrorBody = 64 << 10

type Config struct {
	URL          string
	Token        string
	CountryCodes []string
	// Rate is the number of messages per second; Burst defaults to 1.
	Rate    float64
	Burst   int
	Timeout time.Duration
}

func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("gateway URL is required")
	}
	if len(c.CountryCodes) == 0 {
		c.CountryCodes = DefaultCountryCodes
	}
	for _, cc := range c.CountryCodes {
		if cc == "" || strings.Trim(cc, "0123456789") != "" {
			return fmt.Errorf("invalid country code %q", cc)
		}
	}
	if c.Rate < 0 {
		return errors.New("gateway rate must not be negative")
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	return nil
}

// File is an attachment sent along with a message.
type File struct {
	Name string
	Data []byte
}

type OutboundMessage struct {
	Destination string
	Text        string
	Attachment  *File
}

type DeliveryResult struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Destination string `json:"to"`
}

// Error is returned for every non-2xx answer of the gateway.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway: %d %s", e.Status, e.Message)
}

type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
}

func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, cfg.Burst),
	}, nil
}

// NormalizeDestination keeps only the digits of dest and checks the country
// code prefix.
func NormalizeDestination(dest string, countryCodes []string) (string, error) {
	var b strings.Builder
	for _, r := range dest {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return "", fmt.Errorf("%w: %q", models.ErrInvalidDestination, dest)
	}
	for _, cc := range countryCodes {
		if strings.HasPrefix(digits, cc) && len(digits) > len(cc) {
			return digits, nil
		}
	}
	return "", fmt.Errorf("%w: unsupported country code in %q", models.ErrInvalidDestination, dest)
}

// SendMessage validates msg before any network call and then posts it to the
// gateway. Messages with an attachment go as multipart/form-data.
func (c *Client) SendMessage(ctx context.Context, msg OutboundMessage) (DeliveryResult, error) {
	to, err := NormalizeDestination(msg.Destination, c.cfg.CountryCodes)
	if err != nil {
		return DeliveryResult{}, err
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" && (msg.Attachment == nil || len(msg.Attachment.Data) == 0) {
		return DeliveryResult{}, models.ErrEmptyMessage
	}

	var (
		body        io.Reader
		contentType string
	)
	if msg.Attachment != nil && len(msg.Attachment.Data) > 0 {
		body, contentType, err = multipartBody(to, text, msg.Attachment)
	} else {
		body, contentType, err = jsonBody(to, text)
	}
	if err != nil {
		return DeliveryResult{}, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return DeliveryResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, body)
	if err != nil {
		return DeliveryResult{}, fmt.Errorf("failed to create gateway request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return DeliveryResult{}, fmt.Errorf("gateway request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return DeliveryResult{}, fmt.Errorf("failed to read gateway response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return DeliveryResult{}, &Error{Status: resp.StatusCode, Message: errorMessage(resp.StatusCode, data)}
	}

	result := DeliveryResult{Destination: to}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &result); err != nil {
			return DeliveryResult{}, fmt.Errorf("failed to decode gateway response: %w", err)
		}
	}
	if result.Destination == "" {
		result.Destination = to
	}
	return result, nil
}

func jsonBody(to, text string) (io.Reader, string, error) {
	data, err := json.Marshal(struct {
		To   string `json:"to"`
		Text string `json:"text"`
	}{to, text})
	if err != nil {
		return nil, "", err
	}
	return bytes.NewReader(data), "application/json", nil
}

func multipartBody(to, text string, f *File) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("to", to); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("text", text); err != nil {
		return nil, "", err
	}

	mimeType := "application/octet-stream"
	if kind, err := filetype.Match(f.Data); err == nil && kind != filetype.Unknown {
		mimeType = kind.MIME.Value
	}
	name := f.Name
	if name == "" {
		name = "attachment"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", mimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(f.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// errorMessage digs the human readable message out of an error body.
func errorMessage(status int, body []byte) string {
	var payload map[string]any
	if json.Unmarshal(body, &payload) == nil {
		if s, ok := payload["message"].(string); ok && s != "" {
			return s
		}
		switch e := payload["error"].(type) {
		case string:
			if e != "" {
				return e
			}
		case map[string]any:
			if s, ok := e["message"].(string); ok && s != "" {
				return s
			}
		}
		if s, ok := payload["detail"].(string); ok && s != "" {
			return s
		}
	}
	return http.StatusText(status)
}
