package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/broadcast/internal/domain"
	"github.com/ignite/broadcast/internal/pkg/httputil"
	"github.com/ignite/broadcast/internal/service/contact"
)

// ContactHandlers exposes contact management and address validation.
type ContactHandlers struct {
	svc *contact.Service
}

func (h *ContactHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/api/contacts", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/", h.HandleCreate)
		r.Post("/bulk", h.HandleBulk)
		r.Post("/validate", h.HandleValidate)
		r.Get("/validate", h.HandleValidationStatus)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.HandleGet)
			r.Patch("/", h.HandleUpdate)
			r.Delete("/", h.HandleDelete)
		})
	})
}

func writeContactError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, contact.ErrNotFound):
		httputil.NotFound(w, "Contact not found")
	case errors.Is(err, contact.ErrValidation):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, contact.ErrDuplicate):
		httputil.Conflict(w, "Contact with this email already exists")
	default:
		httputil.InternalError(w, "Contact operation failed", err)
	}
}

func (h *ContactHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	p := ParsePage(r, 50, 200)
	q := r.URL.Query()
	list, total, err := h.svc.List(r.Context(), contact.ListFilter{
		Status:  q.Get("status"),
		GroupID: q.Get("groupId"),
		Search:  q.Get("search"),
		Limit:   p.Limit,
		Offset:  p.Offset,
	})
	if err != nil {
		writeContactError(w, err)
		return
	}
	if list == nil {
		list = []domain.Contact{}
	}
	httputil.OK(w, map[string]any{"contacts": list, "pagination": p.Meta(total)})
}

func (h *ContactHandlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var in contact.CreateInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	c, err := h.svc.Create(r.Context(), in)
	if err != nil {
		writeContactError(w, err)
		return
	}
	httputil.Created(w, c)
}

func (h *ContactHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeContactError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (h *ContactHandlers) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var u contact.UpdateFields
	if !httputil.Decode(w, r, &u) {
		return
	}
	c, err := h.svc.Update(r.Context(), chi.URLParam(r, "id"), u)
	if err != nil {
		writeContactError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (h *ContactHandlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeContactError(w, err)
		return
	}
	httputil.NoContent(w)
}

// HandleBulk applies one action to many contacts.
//
//	POST /api/contacts/bulk {"action": "group", "contactIds": [...], "groupId": "g1"}
func (h *ContactHandlers) HandleBulk(w http.ResponseWriter, r *http.Request) {
	var req contact.BulkRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	res, err := h.svc.Bulk(r.Context(), req)
	if err != nil {
		writeContactError(w, err)
		return
	}
	httputil.OK(w, map[string]any{
		"success":   true,
		"action":    res.Action,
		"processed": res.Processed,
		"errors":    res.Errors,
	})
}

// HandleValidate runs deliverability checks and stores the verdicts.
//
//	POST /api/contacts/validate {"contactId": "..."} | {"contactIds": [...]} | {"email": "..."} | {"emails": [...]}
func (h *ContactHandlers) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var req contact.ValidateRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	rep, err := h.svc.Validate(r.Context(), req)
	if err != nil {
		writeContactError(w, err)
		return
	}
	httputil.OK(w, map[string]any{
		"success":   true,
		"validated": rep.Validated,
		"failed":    rep.Failed,
		"results":   rep.Results,
	})
}

// HandleValidationStatus returns the stored verdict.
//
//	GET /api/contacts/validate?contactId=... | ?email=...
func (h *ContactHandlers) HandleValidationStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	state, err := h.svc.ValidationOf(r.Context(), q.Get("contactId"), q.Get("email"))
	if err != nil {
		writeContactError(w, err)
		return
	}
	httputil.OK(w, state)
}
