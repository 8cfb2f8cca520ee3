package pyannote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"speakerscribe/internal/services"
)

const huggingFaceWhoAmIEndpoint = "https://huggingface.co/api/whoami-v2"

var defaultHTTPClient = &http.Client{Timeout: 10 * time.Second}

// TokenValidationResult reports the account a token belongs to.
type TokenValidationResult struct {
	Account string
}

// TokenValidator checks a Hugging Face token. Rejected tokens return an error
// marked services.ErrAuthentication; other errors mean the check itself
// could not be completed.
type TokenValidator func(ctx context.Context, token string) (TokenValidationResult, error)

// NewHTTPValidator returns a validator calling the Hugging Face whoami
// endpoint. An empty endpoint selects the public API.
func NewHTTPValidator(client *http.Client, endpoint string) TokenValidator {
	if client == nil {
		client = defaultHTTPClient
	}
	if endpoint == "" {
		endpoint = huggingFaceWhoAmIEndpoint
	}
	return func(ctx context.Context, token string) (TokenValidationResult, error) {
		return validateToken(ctx, client, endpoint, token)
	}
}

func validateToken(ctx context.Context, client *http.Client, endpoint, token string) (TokenValidationResult, error) {
	if strings.TrimSpace(token) == "" {
		return TokenValidationResult{}, services.Wrap(services.ErrAuthentication, stageDiarize, "validate token", "empty Hugging Face token", nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return TokenValidationResult{}, fmt.Errorf("build validation request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	if err != nil {
		return TokenValidationResult{}, fmt.Errorf("contact Hugging Face: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var payload struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return TokenValidationResult{}, fmt.Errorf("parse Hugging Face response: %w", err)
		}
		account := strings.TrimSpace(payload.Name)
		if account == "" {
			account = "huggingface"
		}
		return TokenValidationResult{Account: account}, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return TokenValidationResult{}, services.Wrap(services.ErrAuthentication, stageDiarize, "validate token",
			fmt.Sprintf("Hugging Face rejected token (%s)", resp.Status), nil)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = resp.Status
		}
		return TokenValidationResult{}, fmt.Errorf("unexpected Hugging Face response: %s", msg)
	}
}
