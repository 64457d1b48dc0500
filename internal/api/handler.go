// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Elouarate Gallery Contributors

// Package api exposes the authentication orchestrator as a JSON HTTP API.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/elouarate/gallery-admin/internal/auth"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Service is the subset of *auth.Orchestrator the API drives.
type Service interface {
	Login(ctx context.Context, email, password string) (*auth.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error)
	Authenticate(ctx context.Context, accessToken string) (*auth.Claims, error)
	Logout(ctx context.Context, accessToken, refreshToken string) error
	LogoutAll(ctx context.Context, accessToken string) error
	InitiateReset(ctx context.Context, email string) error
	ValidateResetToken(ctx context.Context, rawToken string) error
	CompleteReset(ctx context.Context, rawToken, newPassword string) error
	CreatePrincipal(ctx context.Context, email, password string, role auth.Role) (*auth.Principal, error)
	CheckPassword(password string) auth.Assessment
}

var _ Service = (*auth.Orchestrator)(nil)

// Handler serves the authentication API.
type Handler struct {
	svc    Service
	logger *slog.Logger
}

// NewHandler creates a Handler. A nil logger uses slog.Default().
func NewHandler(svc Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.login)
		r.Post("/refresh", h.refresh)
		r.Post("/password/forgot", h.forgotPassword)
		r.Post("/password/reset/validate", h.validateReset)
		r.Post("/password/reset", h.completeReset)
		r.Post("/password/strength", h.passwordStrength)

		r.Group(func(r chi.Router) {
			r.Use(h.requireBearer)
			r.Get("/me", h.me)
			r.Post("/logout", h.logout)
			r.Post("/logout/all", h.logoutAll)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(h.requireBearer)
		r.Use(h.requireAdmin)
		r.Post("/principals", h.createPrincipal)
	})

	return r
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetTokenRequest struct {
	Token string `json:"token"`
}

type completeResetRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

type createPrincipalRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type principalResponse struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Role      auth.Role  `json:"role"`
	IsActive  bool       `json:"is_active"`
	LastLogin *time.Time `json:"last_login,omitempty"`
}

func newPrincipalResponse(p *auth.Principal) principalResponse {
	return principalResponse{
		ID:        p.ID.String(),
		Email:     p.Email,
		Role:      p.Role,
		IsActive:  p.IsActive,
		LastLogin: p.LastLogin,
	}
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func newTokenResponse(p *auth.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		TokenType:        "Bearer",
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}

type loginResponse struct {
	Principal   principalResponse `json:"principal"`
	Tokens      tokenResponse     `json:"tokens"`
	Provisioned bool              `json:"provisioned,omitempty"`
}

type strengthResponse struct {
	Valid      bool          `json:"valid"`
	Violations []violation   `json:"violations"`
	Strength   auth.Strength `json:"strength"`
	Points     int           `json:"points"`
}

type violation struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type meResponse struct {
	PrincipalID string    `json:"principal_id"`
	Email       string    `json:"email"`
	Role        auth.Role `json:"role"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := render.DecodeJSON(r.Body, v); err != nil {
		writeBadRequest(w, r, "request body must be valid JSON")
		return false
	}
	return true
}

func writeForbidden(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusForbidden)
	render.JSON(w, r, errorResponse{Error: "FORBIDDEN", Message: "administrator role required"})
}

func noContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	render.JSON(w, r, loginResponse{
		Principal:   newPrincipalResponse(res.Principal),
		Tokens:      newTokenResponse(res.Tokens),
		Provisioned: res.Provisioned,
	})
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decode(w, r, &req) {
		return
	}
	pair, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	render.JSON(w, r, newTokenResponse(pair))
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	resp := meResponse{
		PrincipalID: claims.Subject,
		Email:       claims.Email,
		Role:        claims.Role,
	}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Time
	}
	render.JSON(w, r, resp)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	access, _ := bearerToken(r)
	if err := h.svc.Logout(r.Context(), access, req.RefreshToken); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	noContent(w)
}

func (h *Handler) logoutAll(w http.ResponseWriter, r *http.Request) {
	access, _ := bearerToken(r)
	if err := h.svc.LogoutAll(r.Context(), access); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	noContent(w)
}

// forgotPassword answers 202 whether or not the email is registered.
func (h *Handler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.InitiateReset(r.Context(), req.Email); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) validateReset(w http.ResponseWriter, r *http.Request) {
	var req resetTokenRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.ValidateResetToken(r.Context(), req.Token); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	noContent(w)
}

func (h *Handler) completeReset(w http.ResponseWriter, r *http.Request) {
	var req completeResetRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.CompleteReset(r.Context(), req.Token, req.Password); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	noContent(w)
}

func (h *Handler) passwordStrength(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if !decode(w, r, &req) {
		return
	}
	a := h.svc.CheckPassword(req.Password)
	resp := strengthResponse{
		Valid:      a.Valid,
		Violations: make([]violation, 0, len(a.Violations)),
		Strength:   a.Strength,
		Points:     a.Points,
	}
	for _, v := range a.Violations {
		resp.Violations = append(resp.Violations, violation{Code: string(v), Message: v.Message()})
	}
	render.JSON(w, r, resp)
}

func (h *Handler) createPrincipal(w http.ResponseWriter, r *http.Request) {
	var req createPrincipalRequest
	if !decode(w, r, &req) {
		return
	}
	role := auth.RoleUser
	if req.Role != "" {
		parsed, err := auth.ParseRole(req.Role)
		if err != nil {
			writeBadRequest(w, r, "role must be USER or ADMIN")
			return
		}
		role = parsed
	}

	p, err := h.svc.CreatePrincipal(r.Context(), req.Email, req.Password, role)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrEmailTaken):
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, errorResponse{Error: "EMAIL_TAKEN", Message: "email already registered"})
		return
	case errors.Is(err, auth.ErrInvalidEmail):
		writeBadRequest(w, r, "email address is invalid")
		return
	default:
		writeError(w, r, h.logger, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, newPrincipalResponse(p))
}
