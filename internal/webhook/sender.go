// Package webhook posts VM notifications to the external manager endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

const (
	requestTimeout   = 5 * time.Second
	maxResponseBytes = 2048
)

// Result classifies the outcome of one notification attempt.
type Result int

const (
	// Success covers any 2xx response.
	Success Result = iota
	// AuthFailure is a 401; the key is wrong and retrying this call is
	// pointless, but later cycles keep trying in case the remote side is
	// fixed.
	AuthFailure
	// BadRequest is a 400; the response body is logged for diagnosis.
	BadRequest
	// NetworkFailure covers transport errors, timeouts, and every other
	// non-2xx status.
	NetworkFailure
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case AuthFailure:
		return "auth_failure"
	case BadRequest:
		return "bad_request"
	default:
		return "network_failure"
	}
}

// Identity is the notification payload: who the VM is, not what happened
// to it. The remote side owns interpretation. Values pass through with
// their original casing.
type Identity struct {
	ResourceGroup string `json:"resourceGroup"`
	VMName        string `json:"vmName"`
}

// Sender posts bearer-authenticated identity payloads to a single webhook
// URL. It never mutates any monitor state; callers decide what a given
// Result means for dedup and retry.
type Sender struct {
	url    string
	apiKey string
	client *http.Client
	logger *log.Logger
}

// NewSender returns a Sender for the given URL and key. The transport is
// wrapped for tracing when rt is non-nil.
func NewSender(url, apiKey string, rt http.RoundTripper, logger *log.Logger) *Sender {
	client := &http.Client{Timeout: requestTimeout}
	if rt != nil {
		client.Transport = rt
	}
	return &Sender{
		url:    url,
		apiKey: apiKey,
		client: client,
		logger: logger,
	}
}

// Send posts the identity payload and classifies the HTTP outcome. The
// response body of a 2xx is inspected best-effort for diagnostics only;
// an unparseable body never demotes a Success.
func (s *Sender) Send(ctx context.Context, id Identity) Result {
	body, err := json.Marshal(id)
	if err != nil {
		s.logger.Printf("ERROR marshal webhook payload: %v", err)
		return NetworkFailure
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		s.logger.Printf("ERROR create webhook request: %v", err)
		return NetworkFailure
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("X-Request-ID", uuid.NewString())

	s.logger.Printf("INFO sending webhook notification: %s", body)

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Printf("ERROR sending webhook: %v", err)
		return NetworkFailure
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		s.logger.Printf("ERROR webhook authentication failed - check the configured API key")
		return AuthFailure
	case resp.StatusCode == http.StatusBadRequest:
		s.logger.Printf("ERROR bad request to webhook: %s", strings.TrimSpace(string(data)))
		return BadRequest
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		s.logger.Printf("ERROR webhook returned status %d", resp.StatusCode)
		return NetworkFailure
	}

	s.logger.Printf("INFO webhook sent successfully: %d", resp.StatusCode)
	if gjson.ValidBytes(data) {
		s.logger.Printf("INFO webhook response: %s", gjson.ParseBytes(data).String())
	} else if len(data) > 0 {
		s.logger.Printf("INFO webhook response (non-JSON): %s", strings.TrimSpace(string(data)))
	}
	return Success
}
