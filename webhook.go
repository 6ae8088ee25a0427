package appwrite

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ============================================================================
// Webhook Types
// ============================================================================

// Headers set by Appwrite on every webhook delivery.
const (
	HeaderWebhookID        = "X-Appwrite-Webhook-Id"
	HeaderWebhookName      = "X-Appwrite-Webhook-Name"
	HeaderWebhookEvents    = "X-Appwrite-Webhook-Events"
	HeaderWebhookProjectID = "X-Appwrite-Webhook-Project-Id"
	HeaderWebhookUserID    = "X-Appwrite-Webhook-User-Id"
	HeaderWebhookSignature = "X-Appwrite-Webhook-Signature"
)

// maxWebhookBody bounds the request body read by the HTTP handler.
const maxWebhookBody = 16 << 20

// WebhookDelivery is one webhook request from Appwrite. The body is the
// affected resource, the same JSON a realtime event carries as its payload.
type WebhookDelivery struct {
	ID        string
	Name      string
	ProjectID string
	UserID    string
	Events    []string
	Payload   json.RawMessage
}

// Event converts the delivery into the shape realtime subscribers receive, so
// one handler can consume both sources. Webhooks carry no channels.
func (d *WebhookDelivery) Event() RealtimeResponseEvent {
	return RealtimeResponseEvent{
		Events:  d.Events,
		Payload: d.Payload,
	}
}

// WebhookHandlerFunc handles a verified delivery.
type WebhookHandlerFunc func(d *WebhookDelivery) error

// ============================================================================
// Standalone Functions
// ============================================================================

// SignWebhook computes the X-Appwrite-Webhook-Signature value for a delivery
// to url with the given body: base64(HMAC-SHA1(url + body, key)).
func SignWebhook(url, body, key string) string {
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(url + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature reports whether signature matches url and body under
// key. The comparison is constant-time.
func VerifyWebhookSignature(url, body, signature, key string) bool {
	if signature == "" || key == "" {
		return false
	}
	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(url + body))
	return hmac.Equal(got, mac.Sum(nil))
}

// ParseWebhookDelivery builds a delivery from request headers and body.
func ParseWebhookDelivery(header http.Header, body []byte) (*WebhookDelivery, error) {
	if !json.Valid(body) {
		return nil, fmt.Errorf("invalid JSON in webhook body")
	}
	d := &WebhookDelivery{
		ID:        header.Get(HeaderWebhookID),
		Name:      header.Get(HeaderWebhookName),
		ProjectID: header.Get(HeaderWebhookProjectID),
		UserID:    header.Get(HeaderWebhookUserID),
		Events:    splitEvents(header.Get(HeaderWebhookEvents)),
		Payload:   json.RawMessage(body),
	}
	if len(d.Events) == 0 {
		return nil, fmt.Errorf("missing %s header", HeaderWebhookEvents)
	}
	return d, nil
}

func splitEvents(v string) []string {
	var out []string
	for _, e := range strings.Split(v, ",") {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}

// ============================================================================
// Webhook
// ============================================================================

// Webhook verifies and dispatches Appwrite webhook deliveries. url must be
// the exact URL configured in the Appwrite console since it is part of the
// signed content.
type Webhook struct {
	url     string
	key     string
	onEvent WebhookHandlerFunc
	maxBody int64
}

func NewWebhook(url, key string, onEvent WebhookHandlerFunc) (*Webhook, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	if key == "" {
		return nil, fmt.Errorf("webhook signature key is required")
	}
	if onEvent == nil {
		return nil, fmt.Errorf("webhook handler is required")
	}
	return &Webhook{url: url, key: key, onEvent: onEvent, maxBody: maxWebhookBody}, nil
}

func (w *Webhook) Verify(body, signature string) bool {
	return VerifyWebhookSignature(w.url, body, signature, w.key)
}

// Handle verifies, parses and dispatches one delivery. It returns the status
// code and response body for the caller to write.
func (w *Webhook) Handle(header http.Header, body []byte) (int, any) {
	if !w.Verify(string(body), header.Get(HeaderWebhookSignature)) {
		return http.StatusUnauthorized, map[string]string{"error": "Invalid signature"}
	}

	d, err := ParseWebhookDelivery(header, body)
	if err != nil {
		return http.StatusBadRequest, map[string]string{"error": err.Error()}
	}

	if err := w.onEvent(d); err != nil {
		return http.StatusInternalServerError, map[string]string{"error": err.Error()}
	}
	return http.StatusOK, map[string]bool{"ok": true}
}

// HTTPHandler returns an http.Handler that processes webhook requests.
//
// Example:
//
//	wh, _ := appwrite.NewWebhook("https://example.com/hook", key, handler)
//	http.Handle("/hook", wh.HTTPHandler())
func (w *Webhook) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSON(rw, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, w.maxBody))
		defer r.Body.Close()
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSON(rw, http.StatusRequestEntityTooLarge, map[string]string{"error": "Request body too large"})
				return
			}
			writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "Failed to read body"})
			return
		}

		status, data := w.Handle(r.Header, body)
		writeJSON(rw, status, data)
	})
}

func writeJSON(rw http.ResponseWriter, status int, data any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(data)
}
