package api

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/workshop-mailer/internal/domain"
	"github.com/ignite/workshop-mailer/internal/pkg/httputil"
	"github.com/ignite/workshop-mailer/internal/service/distribution"
	"github.com/ignite/workshop-mailer/internal/service/users"
	"github.com/ignite/workshop-mailer/internal/service/workshops"
)

const defaultMaxUpload = 32 << 20

// Handlers contains all HTTP handlers
type Handlers struct {
	users      *users.Service
	workshops  *workshops.Service
	engine     *distribution.Engine
	health     *HealthChecker
	maxUpload  int64
	signingKey string
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Deps) *Handlers {
	h := &Handlers{
		users:      deps.Users,
		workshops:  deps.Workshops,
		engine:     deps.Engine,
		health:     deps.Health,
		maxUpload:  deps.Inbound.MaxUploadBytes(),
		signingKey: deps.Inbound.SigningKey,
	}
	if h.health == nil {
		h.health = NewHealthChecker()
	}
	if h.maxUpload <= 0 {
		h.maxUpload = defaultMaxUpload
	}
	return h
}

// pathParam returns a decoded chi URL parameter. Addresses arrive
// percent-encoded when clients escape '@' or '+'.
func pathParam(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if decoded, err := url.PathUnescape(v); err == nil {
		return decoded
	}
	return v
}

// Signup registers an unconfirmed user and mails the confirmation key.
//
//	POST /users
func (h *Handlers) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.users.Signup(r.Context(), req.Email, req.Attributes()); err != nil {
		writeError(w, err)
		return
	}
	httputil.Created(w, map[string]string{"email": domain.NormalizeAddress(req.Email)})
}

// Confirm consumes a confirmation key: 201 when the user became confirmed,
// 304 when nothing changed.
//
//	PUT /users
func (h *Handlers) Confirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, err)
		return
	}
	ok, err := h.users.Confirm(r.Context(), req.Email, req.Key)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		httputil.NotModified(w)
		return
	}
	httputil.Created(w, map[string]interface{}{"email": domain.NormalizeAddress(req.Email), "isConfirmed": true})
}

// CreateWorkshop provisions a workshop and returns its routing address.
//
//	POST /workshops
func (h *Handlers) CreateWorkshop(w http.ResponseWriter, r *http.Request) {
	var req WorkshopRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, err)
		return
	}
	p, err := h.workshops.Create(r.Context(), req.WorkshopID, req.Title)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.Created(w, map[string]string{
		"workshopId":     p.Workshop.WorkshopID,
		"title":          p.Workshop.Title,
		"routingAddress": p.RoutingAddress,
	})
}

// AddEmail appends an email to the workshop. It is not sent until members
// register.
//
//	POST /emails/{workshopID}
func (h *Handlers) AddEmail(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, err)
		return
	}
	email, err := h.engine.AddEmail(r.Context(), pathParam(r, "workshopID"), distribution.Draft{
		Subject: req.Subject,
		Body:    req.Text,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.Created(w, email.View())
}

// ListEmails returns the workshop's emails without their ids.
//
//	GET /emails/{workshopID}
func (h *Handlers) ListEmails(w http.ResponseWriter, r *http.Request) {
	emails, err := h.engine.ListEmails(r.Context(), pathParam(r, "workshopID"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"emails": emails})
}

// RegisterUser adds a member and sends them the emails they have not had.
//
//	PUT /emails/{workshopID}/{address}
func (h *Handlers) RegisterUser(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.RegisterUser(r.Context(), pathParam(r, "workshopID"), pathParam(r, "address"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, report)
}

// UnregisterUser removes a member.
//
//	DELETE /emails/{workshopID}/{address}
func (h *Handlers) UnregisterUser(w http.ResponseWriter, r *http.Request) {
	workshopID, address := pathParam(r, "workshopID"), pathParam(r, "address")
	if err := h.engine.UnregisterUser(r.Context(), workshopID, address); err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"success": true})
}
