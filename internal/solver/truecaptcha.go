package solver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ABeGood/reservation-pl/internal/domain"
)

// DefaultTrueCaptchaURL is the public text recognition endpoint.
const DefaultTrueCaptchaURL = "https://api.apitruecaptcha.org/one/gettext"

const maxResponseBodySize = 64 << 10

type trueCaptchaRequest struct {
	UserID string `json:"userid"`
	APIKey string `json:"apikey"`
	Data   string `json:"data"`
}

type trueCaptchaResponse struct {
	Result  string `json:"result"`
	Error   string `json:"error"`
	Message string `json:"error_message"`
}

// TrueCaptcha solves image challenges through the TrueCaptcha HTTP API.
type TrueCaptcha struct {
	endpoint   string
	userID     string
	apiKey     string
	httpClient *http.Client
}

// TrueCaptchaOption configures a [TrueCaptcha].
type TrueCaptchaOption func(*TrueCaptcha)

// WithEndpoint overrides the API endpoint.
func WithEndpoint(url string) TrueCaptchaOption {
	return func(t *TrueCaptcha) { t.endpoint = url }
}

// WithHTTPClient sets the HTTP client. Timeouts come from the caller's
// context, so the client should not set one of its own.
func WithHTTPClient(c *http.Client) TrueCaptchaOption {
	return func(t *TrueCaptcha) { t.httpClient = c }
}

// NewTrueCaptcha returns a solver for the given account.
func NewTrueCaptcha(userID, apiKey string, opts ...TrueCaptchaOption) (*TrueCaptcha, error) {
	if userID == "" || apiKey == "" {
		return nil, errors.New("truecaptcha user id and api key are required")
	}
	t := &TrueCaptcha{
		endpoint:   DefaultTrueCaptchaURL,
		userID:     userID,
		apiKey:     apiKey,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Solve sends the image and returns the recognised text.
func (t *TrueCaptcha) Solve(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", errors.New("empty challenge image")
	}
	payload, err := json.Marshal(trueCaptchaRequest{
		UserID: t.userID,
		APIKey: t.apiKey,
		Data:   base64.StdEncoding.EncodeToString(image),
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: solver request failed: %w", domain.ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return "", fmt.Errorf("%w: read solver response: %w", domain.ErrTransient, err)
	}
	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("%w: solver status %d", domain.ErrTransient, resp.StatusCode)
	}

	var out trueCaptchaResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode solver response (status %d): %w", resp.StatusCode, err)
	}
	if msg := firstNonEmpty(out.Message, out.Error); msg != "" {
		return "", fmt.Errorf("solver error: %s", msg)
	}
	text := strings.TrimSpace(out.Result)
	if text == "" {
		return "", errors.New("solver returned no text")
	}
	return text, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
