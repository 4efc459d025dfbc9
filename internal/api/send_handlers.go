package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ignite/broadcast/internal/domain"
	"github.com/ignite/broadcast/internal/pkg/httputil"
	"github.com/ignite/broadcast/internal/pkg/logger"
	"github.com/ignite/broadcast/internal/scheduler"
	"github.com/ignite/broadcast/internal/service/sending"
)

// SendHandler serves the manual send trigger.
type SendHandler struct {
	runner   SendRunner
	batch    int
	maxBatch int
	timeout  time.Duration
}

type sendRequest struct {
	CampaignID string `json:"campaignId"`
	Resend     bool   `json:"resend"`
	ResendMode string `json:"resendMode"`
	Resume     bool   `json:"resume"`
	BatchSize  int    `json:"batchSize"`
}

type sendResponse struct {
	Success bool `json:"success"`
	*sending.Result
	Message string `json:"message,omitempty"`
}

// HandleSend runs one batch of a campaign.
//
//	POST /api/send {campaignId, resend?, resendMode?, resume?, batchSize?}
func (h *SendHandler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	req.CampaignID = strings.TrimSpace(req.CampaignID)
	if req.CampaignID == "" {
		httputil.BadRequest(w, "Campaign ID is required")
		return
	}
	mode, err := domain.ParseSendMode(req.Resend, req.ResendMode, req.Resume)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.BatchSize < 0 {
		httputil.BadRequest(w, "batchSize must be positive")
		return
	}
	if req.BatchSize == 0 {
		req.BatchSize = h.batch
	}
	if h.maxBatch > 0 && req.BatchSize > h.maxBatch {
		req.BatchSize = h.maxBatch
	}

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	res, err := h.runner.Send(ctx, req.CampaignID, sending.Options{Mode: mode, BatchSize: req.BatchSize})
	if err != nil {
		switch {
		case errors.Is(err, sending.ErrNotFound):
			httputil.NotFound(w, "Campaign not found")
		case errors.Is(err, sending.ErrInvalidState):
			httputil.BadRequest(w, err.Error())
		case errors.Is(err, sending.ErrBusy):
			httputil.Conflict(w, "A send for this campaign is already running")
		default:
			httputil.InternalError(w, "Failed to send campaign", err)
		}
		return
	}

	logger.Info("send batch complete",
		"campaign_id", req.CampaignID, "mode", string(mode),
		"sent", res.Sent, "failed", res.Failed, "remaining", res.Remaining)
	httputil.OK(w, sendResponse{Success: true, Result: res, Message: batchMessage(res)})
}

func batchMessage(res *sending.Result) string {
	switch {
	case res.Total == 0:
		return "No recipients to send"
	case res.Remaining > 0:
		return fmt.Sprintf("Batch complete, %d recipients remaining. Send again with resume to continue.", res.Remaining)
	default:
		return "Campaign send complete"
	}
}

// CronHandler lets an external cron trigger a scheduler sweep.
type CronHandler struct {
	runner DueRunner
	secret string
}

// HandleCron runs one sweep. Requires "Authorization: Bearer <secret>".
//
//	GET /api/cron/send
func (h *CronHandler) HandleCron(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		httputil.Unauthorized(w)
		return
	}

	runs, err := h.runner.RunDue(r.Context())
	if errors.Is(err, scheduler.ErrBusy) {
		httputil.Conflict(w, "Scheduler sweep already running")
		return
	}
	if err != nil {
		httputil.InternalError(w, "Failed to run scheduled campaigns", err)
		return
	}
	if len(runs) == 0 {
		httputil.OK(w, map[string]string{"message": "No campaigns to send"})
		return
	}
	httputil.OK(w, map[string]any{"success": true, "results": runs})
}

func (h *CronHandler) authorized(r *http.Request) bool {
	if h.secret == "" {
		return false
	}
	want := "Bearer " + h.secret
	got := r.Header.Get("Authorization")
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
