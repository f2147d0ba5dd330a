// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

// Package web exposes the authentication service over a JSON HTTP API.
// Session ids and remember-me tokens travel only in cookies.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/wardenauth/warden/internal/access"
	"github.com/wardenauth/warden/internal/audit"
	"github.com/wardenauth/warden/internal/auth"
)

// Service is the subset of auth.Service the API uses.
type Service interface {
	Login(ctx context.Context, req auth.LoginRequest) (*auth.LoginResult, error)
	Logout(ctx context.Context, cs auth.ClientState) error
	CurrentUser(ctx context.Context, cs auth.ClientState) (*auth.Profile, auth.Status, error)
	Register(ctx context.Context, req auth.RegisterRequest) (ulid.ULID, error)
	ChangePassword(ctx context.Context, userID ulid.ULID, current, next string) error
	ResetPassword(ctx context.Context, email string) (string, error)
	HasPermission(ctx context.Context, cs auth.ClientState, permission string) (bool, auth.Status)
	RequireLogin(ctx context.Context, cs auth.ClientState) (auth.Status, error)
	RequirePermission(ctx context.Context, cs auth.ClientState, permission string) (auth.Status, error)
}

var _ Service = (*auth.Service)(nil)

// Permissions guarding the admin routes.
const (
	PermUsersCreate  = "users:create"
	PermActivityRead = "activity:read"
)

const (
	maxBodyBytes         = 64 << 10
	defaultActivityLimit = 50
	maxActivityLimit     = 500
)

// Options configures a Handler.
type Options struct {
	// IdleTimeout is the session cookie Max-Age.
	IdleTimeout time.Duration
	// SecureCookies sets the Secure attribute even on plain HTTP.
	SecureCookies bool
	Logger        *slog.Logger
	Metrics       HTTPMetrics
	// Activity enables GET /admin/activity when set.
	Activity audit.Reader
	// Now overrides the clock used for cookie lifetimes.
	Now func() time.Time
}

// Handler serves the auth API.
type Handler struct {
	svc      Service
	cookies  cookieJar
	logger   *slog.Logger
	metrics  HTTPMetrics
	activity audit.Reader
}

// NewHandler creates a Handler.
func NewHandler(svc Service, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = auth.DefaultSessionConfig().IdleTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handler{
		svc: svc,
		cookies: cookieJar{
			forceSecure: opts.SecureCookies,
			idle:        opts.IdleTimeout,
			now:         opts.Now,
		},
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		activity: opts.Activity,
	}
}

// Routes returns the router with middleware applied.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(Recovery(h.logger))
	r.Use(RequestID)
	r.Use(Instrument(h.logger, h.metrics))
	r.Use(ContentTypeJSON)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.handleLogin)
		r.Post("/logout", h.handleLogout)
		r.Get("/me", h.handleMe)
		r.Post("/password", h.handleChangePassword)
		r.Post("/password/reset", h.handleResetPassword)
		r.Get("/permissions/{permission}", h.handlePermission)
	})

	r.Route("/admin", func(r chi.Router) {
		r.With(h.requirePermission(PermUsersCreate)).Post("/users", h.handleCreateUser)
		if h.activity != nil {
			r.With(h.requirePermission(PermActivityRead)).Get("/activity", h.handleActivity)
		}
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "NOT_FOUND", Description: "no such route"})
	})
	return r
}

// decode reads a JSON body into dst, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: codeBadRequest, Description: "request body too large"})
			return false
		}
		writeBadRequest(w, "invalid JSON in request body")
		return false
	}
	return true
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

type userResponse struct {
	User *auth.Profile `json:"user"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}

	cs := h.cookies.clientState(r)
	res, err := h.svc.Login(r.Context(), auth.LoginRequest{
		Username:       req.Username,
		Password:       req.Password,
		Remember:       req.Remember,
		PriorSessionID: cs.SessionID,
		UserAgent:      cs.Meta.UserAgent,
		IPAddress:      cs.Meta.IPAddress,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.cookies.setSession(w, r, res.Session.ID)
	switch {
	case res.RememberToken != "":
		h.cookies.setRemember(w, r, res.RememberToken, res.RememberExpiresAt)
	case cs.RememberToken != "":
		h.cookies.clear(w, r, RememberCookie)
	}
	writeJSON(w, http.StatusOK, userResponse{User: res.User})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Logout(r.Context(), h.cookies.clientState(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.cookies.clear(w, r, SessionCookie)
	h.cookies.clear(w, r, RememberCookie)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	profile, st, err := h.svc.CurrentUser(r.Context(), h.cookies.clientState(r))
	h.cookies.apply(w, r, st)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if profile == nil {
		writeJSON(w, http.StatusUnauthorized, errorBody{
			Error:       auth.CodeAccessDenied,
			Description: "not logged in",
		})
		return
	}
	writeJSON(w, http.StatusOK, userResponse{User: profile})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !decode(w, r, &req) {
		return
	}

	st, err := h.svc.RequireLogin(r.Context(), h.cookies.clientState(r))
	h.cookies.apply(w, r, st)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.ChangePassword(r.Context(), st.Session.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type resetRequest struct {
	Email string `json:"email"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !decode(w, r, &req) {
		return
	}
	msg, err := h.svc.ResetPassword(r.Context(), req.Email)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, messageResponse{Message: msg})
}

type permissionResponse struct {
	Permission string `json:"permission"`
	Allowed    bool   `json:"allowed"`
}

func (h *Handler) handlePermission(w http.ResponseWriter, r *http.Request) {
	perm := chi.URLParam(r, "permission")
	if !access.ValidPermission(perm) {
		writeBadRequest(w, "malformed permission")
		return
	}
	allowed, st := h.svc.HasPermission(r.Context(), h.cookies.clientState(r), perm)
	h.cookies.apply(w, r, st)
	writeJSON(w, http.StatusOK, permissionResponse{Permission: perm, Allowed: allowed})
}

type createdResponse struct {
	ID string `json:"id"`
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := h.svc.Register(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if st, ok := statusFrom(r.Context()); ok {
		h.logger.InfoContext(r.Context(), "user created",
			"user_id", id.String(),
			"created_by", st.Session.UserID.String())
	}
	writeJSON(w, http.StatusCreated, createdResponse{ID: id.String()})
}

type activityEntry struct {
	Time     time.Time         `json:"time"`
	Action   string            `json:"action"`
	ActorID  string            `json:"actor_id,omitempty"`
	Severity string            `json:"severity"`
	Message  string            `json:"message"`
	Attrs    map[string]string `json:"attrs,omitempty"`
}

type activityResponse struct {
	Events []activityEntry `json:"events"`
}

func (h *Handler) handleActivity(w http.ResponseWriter, r *http.Request) {
	limit := defaultActivityLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxActivityLimit)
	}

	events, err := h.activity.Recent(r.Context(), r.URL.Query().Get("actor"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := activityResponse{Events: make([]activityEntry, 0, len(events))}
	for _, ev := range events {
		out.Events = append(out.Events, activityEntry{
			Time:     ev.Time,
			Action:   ev.Action,
			ActorID:  ev.ActorID,
			Severity: ev.Severity.String(),
			Message:  ev.Message,
			Attrs:    ev.Attrs,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
