package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/broadcast/internal/domain"
	"github.com/ignite/broadcast/internal/pkg/httputil"
	"github.com/ignite/broadcast/internal/service/campaign"
)

// CampaignHandlers exposes the campaign lifecycle service.
type CampaignHandlers struct {
	svc *campaign.Service
}

func (h *CampaignHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/api/campaigns", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/", h.HandleCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.HandleGet)
			r.Patch("/", h.HandleUpdate)
			r.Delete("/", h.HandleDelete)
			r.Post("/schedule", h.HandleSchedule)
			r.Post("/unschedule", h.HandleUnschedule)
			r.Post("/cancel", h.HandleCancel)
			r.Post("/force-status", h.HandleForceStatus)
			r.Post("/duplicate", h.HandleDuplicate)
		})
	})
}

func writeCampaignError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, campaign.ErrNotFound):
		httputil.NotFound(w, "Campaign not found")
	case errors.Is(err, campaign.ErrValidation):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, campaign.ErrInvalidTransition):
		httputil.Conflict(w, err.Error())
	default:
		httputil.InternalError(w, "Campaign operation failed", err)
	}
}

func (h *CampaignHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	p := ParsePage(r, 50, 200)
	list, total, err := h.svc.List(r.Context(), campaign.ListFilter{
		Status: r.URL.Query().Get("status"),
		Search: r.URL.Query().Get("search"),
		Limit:  p.Limit,
		Offset: p.Offset,
	})
	if err != nil {
		writeCampaignError(w, err)
		return
	}
	if list == nil {
		list = []domain.Campaign{}
	}
	httputil.OK(w, map[string]any{"campaigns": list, "pagination": p.Meta(total)})
}

func (h *CampaignHandlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var in campaign.CreateInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	c, err := h.svc.Create(r.Context(), in)
	if err != nil {
		writeCampaignError(w, err)
		return
	}
	httputil.Created(w, c)
}

func (h *CampaignHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeCampaignError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (h *CampaignHandlers) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var u campaign.UpdateFields
	if !httputil.Decode(w, r, &u) {
		return
	}
	c, err := h.svc.Update(r.Context(), chi.URLParam(r, "id"), u)
	if err != nil {
		writeCampaignError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (h *CampaignHandlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeCampaignError(w, err)
		return
	}
	httputil.NoContent(w)
}

// HandleSchedule sets the send time.
//
//	POST /api/campaigns/{id}/schedule {"scheduledAt": "2026-01-02T15:04:05Z"}
func (h *CampaignHandlers) HandleSchedule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScheduledAt string `json:"scheduledAt"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	at, err := time.Parse(time.RFC3339, req.ScheduledAt)
	if err != nil {
		httputil.BadRequest(w, "scheduledAt must be an RFC 3339 timestamp")
		return
	}
	c, err := h.svc.Schedule(r.Context(), chi.URLParam(r, "id"), at)
	if err != nil {
		writeCampaignError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (h *CampaignHandlers) HandleUnschedule(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Unschedule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeCampaignError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (h *CampaignHandlers) HandleCancel(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeCampaignError(w, err)
		return
	}
	httputil.OK(w, c)
}

// HandleForceStatus is the operator override out of a stuck SENDING.
//
//	POST /api/campaigns/{id}/force-status {"status": "DRAFT"|"SENT"}
func (h *CampaignHandlers) HandleForceStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status domain.CampaignStatus `json:"status"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	c, err := h.svc.ForceStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeCampaignError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (h *CampaignHandlers) HandleDuplicate(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Duplicate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeCampaignError(w, err)
		return
	}
	httputil.Created(w, c)
}
