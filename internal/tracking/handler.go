package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/broadcast/internal/domain"
	"github.com/ignite/broadcast/internal/pkg/httputil"
	"github.com/ignite/broadcast/internal/pkg/logger"
	"github.com/ignite/broadcast/internal/service/suppression"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

const maxWebhookBody = 1 << 20

// Handler serves tracking, unsubscribe and provider feedback endpoints.
type Handler struct {
	events    suppression.EventRecorder
	feedback  *suppression.Service
	confirmer *SubscriptionConfirmer
	now       func() time.Time
}

func NewHandler(events suppression.EventRecorder, feedback *suppression.Service) *Handler {
	return &Handler{events: events, feedback: feedback, now: time.Now}
}

// SetConfirmer enables automatic SNS subscription confirmation. Without
// one, confirmations are only acknowledged and an operator confirms the
// subscription from the SNS console.
func (h *Handler) SetConfirmer(c *SubscriptionConfirmer) { h.confirmer = c }

// Register mounts the handler's routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/api/track/open/{sendID}", h.HandleOpen)
	r.Get("/api/track/click/{sendID}", h.HandleClick)

	r.Get("/api/unsubscribe/{token}", h.HandleUnsubscribeInfo)
	r.Post("/api/unsubscribe/{token}", h.HandleUnsubscribe)
	r.Get("/unsubscribe/{token}", h.HandleUnsubscribePage)
	r.Post("/unsubscribe/{token}", h.HandleUnsubscribePage)

	r.Get("/api/webhooks/ses", h.HandleWebhookHealth)
	r.Post("/api/webhooks/ses", h.HandleSESWebhook)
}

// =============================================================================
// Open and click
// =============================================================================

// HandleOpen records an open and always answers with the pixel.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	sendID := chi.URLParam(r, "sendID")
	h.record(r, &domain.Event{SendID: sendID, Type: domain.EventOpened})
	servePixel(w)
}

// HandleClick records a click and redirects to the original link. A missing
// or non-http link redirects to the site root and records nothing.
func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if !redirectable(target) {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	sendID := chi.URLParam(r, "sendID")
	h.record(r, &domain.Event{SendID: sendID, Type: domain.EventClicked, URL: target})
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *Handler) record(r *http.Request, ev *domain.Event) {
	ev.CreatedAt = h.now().UTC()
	ua := r.UserAgent()
	ev.Metadata = map[string]any{
		"ip":        r.RemoteAddr,
		"userAgent": ua,
		"device":    detectDevice(ua),
	}
	if err := h.events.RecordEvent(r.Context(), ev); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Debug("tracking hit for unknown send", "send_id", ev.SendID, "type", ev.Type)
			return
		}
		logger.Error("record tracking event", "send_id", ev.SendID, "type", ev.Type, "error", err)
	}
}

func servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

func redirectable(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func detectDevice(ua string) string {
	ua = strings.ToLower(ua)
	if strings.Contains(ua, "tablet") || strings.Contains(ua, "ipad") {
		return "tablet"
	}
	if strings.Contains(ua, "mobile") || strings.Contains(ua, "android") || strings.Contains(ua, "iphone") {
		return "mobile"
	}
	return "desktop"
}

// =============================================================================
// Unsubscribe
// =============================================================================

type subscriberView struct {
	ID        string               `json:"id"`
	Email     string               `json:"email"`
	FirstName string               `json:"firstName"`
	LastName  string               `json:"lastName"`
	Status    domain.ContactStatus `json:"status"`
}

// HandleUnsubscribeInfo returns the contact behind a token so a page can
// confirm who is unsubscribing.
func (h *Handler) HandleUnsubscribeInfo(w http.ResponseWriter, r *http.Request) {
	c, err := h.feedback.Lookup(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeFeedbackError(w, err, "Failed to fetch unsubscribe info")
		return
	}
	httputil.OK(w, map[string]any{"contact": subscriberView{
		ID: c.ID, Email: c.Email, FirstName: c.FirstName, LastName: c.LastName, Status: c.Status,
	}})
}

// HandleUnsubscribe applies an unsubscribe with optional feedback.
func (h *Handler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Feedback string `json:"feedback"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if err := h.feedback.Unsubscribe(r.Context(), chi.URLParam(r, "token"), req.Feedback); err != nil {
		writeFeedbackError(w, err, "Failed to process unsubscribe")
		return
	}
	httputil.OK(w, map[string]bool{"success": true})
}

var unsubscribePage = template.Must(template.New("unsubscribe").Parse(`<!DOCTYPE html>
<html><body style="font-family:Arial,sans-serif;text-align:center;padding:50px;">
{{if .Done}}<h1>You have been unsubscribed</h1>
<p>{{.Email}} will no longer receive emails from us.</p>
{{else if .Email}}<h1>Unsubscribe</h1>
<p>Stop sending campaign email to {{.Email}}?</p>
<form method="post"><button type="submit">Unsubscribe</button></form>
{{else}}<h1>This link is no longer valid</h1>{{end}}
</body></html>`))

// HandleUnsubscribePage is the link target in every email. GET shows a
// confirmation form; POST (the form, or a one-click List-Unsubscribe-Post)
// performs the unsubscribe.
func (h *Handler) HandleUnsubscribePage(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	data := struct {
		Email string
		Done  bool
	}{}

	status := http.StatusOK
	c, err := h.feedback.Lookup(r.Context(), token)
	switch {
	case err != nil:
		status = http.StatusNotFound
	case r.Method == http.MethodPost:
		if err := h.feedback.Unsubscribe(r.Context(), token, ""); err != nil {
			logger.Error("unsubscribe page", "error", err)
			status = http.StatusInternalServerError
		} else {
			data.Done = true
		}
		data.Email = c.Email
	default:
		data.Email = c.Email
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := unsubscribePage.Execute(w, data); err != nil {
		logger.Error("render unsubscribe page", "error", err)
	}
}

func writeFeedbackError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, suppression.ErrInvalidToken):
		httputil.BadRequest(w, "Invalid token")
	case errors.Is(err, suppression.ErrNotFound):
		httputil.NotFound(w, "Contact not found")
	default:
		httputil.InternalError(w, message, err)
	}
}

// =============================================================================
// SES feedback over SNS
// =============================================================================

type snsEnvelope struct {
	Type         string `json:"Type"`
	MessageID    string `json:"MessageId"`
	TopicArn     string `json:"TopicArn"`
	Message      string `json:"Message"`
	SubscribeURL string `json:"SubscribeURL"`
}

type sesNotification struct {
	NotificationType string `json:"notificationType"`
	Mail             struct {
		MessageID string `json:"messageId"`
	} `json:"mail"`
	Bounce *struct {
		BounceType    string `json:"bounceType"`
		BounceSubType string `json:"bounceSubType"`
	} `json:"bounce"`
	Complaint *struct {
		ComplaintFeedbackType string `json:"complaintFeedbackType"`
	} `json:"complaint"`
}

// HandleSESWebhook consumes SES bounce, complaint and delivery
// notifications delivered by SNS.
func (h *Handler) HandleSESWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httputil.BadRequest(w, "Invalid message format")
		return
	}
	var env snsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		httputil.BadRequest(w, "Invalid message format")
		return
	}

	switch env.Type {
	case "SubscriptionConfirmation":
		logger.Info("sns subscription confirmation received", "topic", env.TopicArn)
		if h.confirmer != nil && env.SubscribeURL != "" {
			if err := h.confirmer.Confirm(r.Context(), env.SubscribeURL); err != nil {
				httputil.InternalError(w, "Failed to confirm subscription", err)
				return
			}
			logger.Info("sns subscription confirmed", "topic", env.TopicArn)
		}
		httputil.OK(w, map[string]string{"message": "Subscription confirmed"})
		return
	case "Notification":
	default:
		httputil.OK(w, map[string]string{"message": "Unknown message type"})
		return
	}

	var n sesNotification
	if err := json.Unmarshal([]byte(env.Message), &n); err != nil {
		httputil.BadRequest(w, "Invalid notification format")
		return
	}

	if err := h.applyNotification(r.Context(), &n); err != nil {
		if errors.Is(err, suppression.ErrUnknownMessage) {
			logger.Warn("ses notification for unknown message", "message_id", n.Mail.MessageID)
			httputil.OK(w, map[string]string{"message": "Email send not found"})
			return
		}
		httputil.InternalError(w, "Failed to process webhook", err)
		return
	}
	httputil.OK(w, map[string]bool{"success": true})
}

func (h *Handler) applyNotification(ctx context.Context, n *sesNotification) error {
	id := n.Mail.MessageID
	switch {
	case n.NotificationType == "Bounce" && n.Bounce != nil:
		return h.feedback.HandleBounce(ctx, id, n.Bounce.BounceType, n.Bounce.BounceSubType)
	case n.NotificationType == "Complaint" && n.Complaint != nil:
		return h.feedback.HandleComplaint(ctx, id, n.Complaint.ComplaintFeedbackType)
	case n.NotificationType == "Delivery":
		return h.feedback.HandleDelivery(ctx, id)
	}
	logger.Debug("ignoring ses notification", "type", n.NotificationType)
	return nil
}

func (h *Handler) HandleWebhookHealth(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}
