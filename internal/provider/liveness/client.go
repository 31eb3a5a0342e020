// Package liveness is the client of the remote active-liveness service.
package liveness

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

	"github.com/saturnino-fabrica-de-software/ekyc/internal/domain"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/provider"
)

const endpoint = "/mw/e-kyc/fr-active-liveness"

var (
	ErrServiceUnavailable = errors.New("liveness service unavailable")
	ErrInvalidResponse    = errors.New("invalid response from liveness service")
	ErrEmptyClip          = errors.New("clip is empty")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("liveness service returned status %d: %s", e.Code, e.Body)
}

// Config holds the credentials and endpoint of the liveness service.
type Config struct {
	BaseURL         string
	APIKey          string
	ReferenceNumber string
	Timeout         time.Duration
	RetryCount      int
	RetryBase       time.Duration
}

// DefaultConfig returns a Config with sensible defaults. Credentials have no
// default.
func DefaultConfig() Config {
	return Config{
		BaseURL:    "https://ml-uat.appman.co.th",
		Timeout:    30 * time.Second,
		RetryCount: 1,
		RetryBase:  500 * time.Millisecond,
	}
}

// Client posts recorded clips for active-liveness verification.
type Client struct {
	httpClient *http.Client
	config     Config
}

// NewClient creates a new liveness client
func NewClient(config Config) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		config: config,
	}
}

type response struct {
	Data *struct {
		Pass bool `json:"pass"`
	} `json:"data"`
}

// Sequence joins gesture codes the way the service expects them.
func Sequence(gestures ...domain.Gesture) string {
	codes := make([]string, len(gestures))
	for i, g := range gestures {
		codes[i] = string(g)
	}
	return strings.Join(codes, ",")
}

// VerifyLiveness uploads the clip and asks the service to check the gesture.
func (c *Client) VerifyLiveness(ctx context.Context, clip *domain.Clip, gesture domain.Gesture) (*provider.LivenessResult, error) {
	if clip.Size() == 0 {
		return nil, ErrEmptyClip
	}

	body, contentType, err := encodeForm(clip, Sequence(gesture))
	if err != nil {
		return nil, fmt.Errorf("encode form: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryBase << (attempt - 1)):
			}
		}

		var res *provider.LivenessResult
		res, lastErr = c.post(ctx, body, contentType)
		if lastErr == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !retryable(lastErr) {
			return nil, lastErr
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, lastErr)
}

// retryable reports whether err is a transport failure or a 5xx response.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	return !errors.Is(err, ErrInvalidResponse)
}

func (c *Client) post(ctx context.Context, body []byte, contentType string) (*provider.LivenessResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-api-key", c.config.APIKey)
	req.Header.Set("reference-number", c.config.ReferenceNumber)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(respBody)}
	}

	var out response
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if out.Data == nil {
		return nil, fmt.Errorf("%w: missing data", ErrInvalidResponse)
	}

	return &provider.LivenessResult{Pass: out.Data.Pass}, nil
}

func encodeForm(clip *domain.Clip, sequence string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	filename := clip.Filename
	if filename == "" {
		filename = "clip"
	}
	mimeType := clip.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="video"; filename=%q`, filename))
	h.Set("Content-Type", mimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(clip.Data); err != nil {
		return nil, "", err
	}

	if err := w.WriteField("rotate", "true"); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("sequence", sequence); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}

	return buf.Bytes(), w.FormDataContentType(), nil
}

var _ provider.LivenessVerifier = (*Client)(nil)
