package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stiffinWanjohi/bulkmail/internal/domain"
	"github.com/stiffinWanjohi/bulkmail/internal/observability"
)

const (
	// Maximum response body size to read
	maxResponseBodySize = 64 * 1024
)

// HTTPAPI posts each message as JSON to a mail-sending web endpoint that
// relays it through the sender's own mailbox.
type HTTPAPI struct {
	client   *http.Client
	endpoint string
	tracer   *observability.Tracer
}

// NewHTTPAPI creates an HTTP mail-API transport.
func NewHTTPAPI(endpoint string) *HTTPAPI {
	// Configure transport for connection reuse and performance
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	return &HTTPAPI{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Don't follow redirects automatically
				return http.ErrUseLastResponse
			},
		},
		endpoint: endpoint,
		tracer:   observability.NewTracer(nil),
	}
}

// WithClient returns a copy using a custom HTTP client.
func (h *HTTPAPI) WithClient(client *http.Client) *HTTPAPI {
	return &HTTPAPI{client: client, endpoint: h.endpoint, tracer: h.tracer}
}

// WithTracer returns a copy that forwards the caller's trace context to the
// mail API. A nil tracer sends no trace headers.
func (h *HTTPAPI) WithTracer(tracer *observability.Tracer) *HTTPAPI {
	if tracer == nil {
		tracer = observability.NewTracer(nil)
	}
	return &HTTPAPI{client: h.client, endpoint: h.endpoint, tracer: tracer}
}

// Endpoint returns the configured URL.
func (h *HTTPAPI) Endpoint() string { return h.endpoint }

func (h *HTTPAPI) Name() string { return "http" }

type apiRequest struct {
	SenderGmail string            `json:"sender_gmail"`
	AppPassword string            `json:"app_password"`
	GmailName   string            `json:"gmail_name"`
	ToEmail     string            `json:"to_email"`
	Subject     string            `json:"subject"`
	MainRowHTML string            `json:"mainrow_html"`
	Variables   map[string]string `json:"variables"`
}

type apiResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Error     any    `json:"error"`
	MessageID string `json:"messageId"`
}

// failure returns the provider's error message, or "" when the response
// reports success.
func (r apiResponse) failure() string {
	errText := ""
	switch v := r.Error.(type) {
	case string:
		errText = v
	case bool:
		if v {
			errText = "email sending failed"
		}
	case nil:
	default:
		errText = fmt.Sprint(v)
	}

	if r.Status != "error" && errText == "" {
		return ""
	}
	if r.Message != "" {
		return r.Message
	}
	if errText != "" {
		return errText
	}
	return "email sending failed"
}

func (h *HTTPAPI) Send(ctx context.Context, msg domain.Message) domain.SendResult {
	start := time.Now()
	requestID := "email_" + uuid.NewString()

	vars := msg.Variables
	if vars == nil {
		vars = map[string]string{}
	}
	payload, err := json.Marshal(apiRequest{
		SenderGmail: msg.Sender.Email,
		AppPassword: msg.Sender.AppPassword,
		GmailName:   msg.Sender.Name,
		ToEmail:     msg.To,
		Subject:     msg.Subject,
		MainRowHTML: msg.HTML,
		Variables:   vars,
	})
	if err != nil {
		return domain.NewFailureResult(0, err.Error(), elapsedMs(start))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(payload))
	if err != nil {
		log.Error("failed to create request", "endpoint", h.endpoint, "error", err)
		return domain.NewFailureResult(0, err.Error(), elapsedMs(start))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "bulkmail/1.0")
	req.Header.Set("X-Request-ID", requestID)
	h.tracer.Inject(ctx, req.Header)

	resp, err := h.client.Do(req)
	if err != nil {
		durationMs := elapsedMs(start)
		log.Warn("mail api request failed", "request_id", requestID, "error", err, "duration_ms", durationMs)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.NewFailureResult(0, ctxErr.Error(), durationMs)
		}
		return domain.NewFailureResult(0,
			fmt.Sprintf("cannot connect to mail API at %s: %v", h.endpoint, err), durationMs)
	}
	defer func() { _ = resp.Body.Close() }()

	// Read the response body (limited)
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	durationMs := elapsedMs(start)
	if err != nil {
		return domain.NewFailureResult(resp.StatusCode, fmt.Sprintf("read response: %v", err), durationMs)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn("mail api returned non-2xx status",
			"request_id", requestID,
			"status_code", resp.StatusCode,
			"duration_ms", durationMs,
		)
		return domain.NewFailureResult(resp.StatusCode,
			fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), durationMs)
	}

	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return domain.NewFailureResult(resp.StatusCode, fmt.Sprintf("invalid response from mail API: %v", err), durationMs)
	}
	if reason := parsed.failure(); reason != "" {
		return domain.NewFailureResult(resp.StatusCode, reason, durationMs)
	}

	messageID := parsed.MessageID
	if messageID == "" {
		messageID = requestID
	}
	log.Debug("mail api accepted message", "request_id", requestID, "duration_ms", durationMs)
	return domain.NewSuccessResult(messageID, resp.StatusCode, durationMs)
}
