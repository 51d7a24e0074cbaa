package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jasonw10105-ux/artflow-sub000/internal/auth/device"
	"github.com/jasonw10105-ux/artflow-sub000/internal/platform/middleware"
	"github.com/jasonw10105-ux/artflow-sub000/internal/profile"
	"github.com/jasonw10105-ux/artflow-sub000/internal/transport/httputil"
	dErrors "github.com/jasonw10105-ux/artflow-sub000/pkg/domainerrors"
)

// clientIDHeader identifies the logical presentation client across
// stateless REST requests.
const clientIDHeader = "X-Client-ID"

// Handler is the thin REST layer over the controller registry. It decodes,
// resolves the caller's controller, delegates, and translates errors;
// session semantics live in the controller.
type Handler struct {
	registry *Registry
	logger   *slog.Logger
}

// NewHandler builds a Handler over the registry.
func NewHandler(registry *Registry, logger *slog.Logger) *Handler {
	return &Handler{registry: registry, logger: logger}
}

// Register wires the session routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/session", h.handleGetSession)
	r.Post("/session/signup", h.handleSignUp)
	r.Post("/session/signup/complete", h.handleCompleteSignUp)
	r.Post("/session/link", h.handleCompleteLink)
	r.Post("/session/signin", h.handleSignIn)
	r.Post("/session/signout", h.handleSignOut)
	r.Patch("/session/profile", h.handleUpdateProfile)
	r.Delete("/session", h.handleEvict)
}

// client resolves the caller's Client from the X-Client-ID header.
func (h *Handler) client(w http.ResponseWriter, r *http.Request) (*Client, bool) {
	clientID := r.Header.Get(clientIDHeader)
	if clientID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "missing "+clientIDHeader+" header"))
		return nil, false
	}
	c, err := h.registry.Client(r.Context(), clientID, device.Label(r.UserAgent()))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "client resolution failed",
			"error", err,
			"request_id", middleware.GetRequestID(r.Context()),
		)
		httputil.WriteError(w, err)
		return nil, false
	}
	return c, true
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	c, ok := h.client(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c.Controller.Snapshot())
}

func (h *Handler) handleSignUp(w http.ResponseWriter, r *http.Request) {
	c, ok := h.client(w, r)
	if !ok {
		return
	}
	req, ok := httputil.Decode[signUpRequest](w, r)
	if !ok {
		return
	}

	conf, err := c.Controller.SignUp(r.Context(), req.Email)
	if err != nil {
		h.logFailure(r, "sign-up failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, conf)
}

func (h *Handler) handleCompleteSignUp(w http.ResponseWriter, r *http.Request) {
	c, ok := h.client(w, r)
	if !ok {
		return
	}
	req, ok := httputil.Decode[completeSignUpRequest](w, r)
	if !ok {
		return
	}

	row, err := c.Controller.CompleteSignUp(r.Context(), req.Email, req.Password, profile.Category(req.Category), req.Bio)
	if err != nil {
		h.logFailure(r, "sign-up completion failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, row)
}

func (h *Handler) handleCompleteLink(w http.ResponseWriter, r *http.Request) {
	c, ok := h.client(w, r)
	if !ok {
		return
	}
	req, ok := httputil.Decode[completeLinkRequest](w, r)
	if !ok {
		return
	}

	// The controller observes the resulting session through its change
	// listener; the response just confirms the link was consumed.
	if _, err := c.Provider.CompleteLink(r.Context(), req.Token); err != nil {
		h.logFailure(r, "link completion failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c.Controller.Snapshot())
}

func (h *Handler) handleSignIn(w http.ResponseWriter, r *http.Request) {
	c, ok := h.client(w, r)
	if !ok {
		return
	}
	req, ok := httputil.Decode[signInRequest](w, r)
	if !ok {
		return
	}

	row, err := c.Controller.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logFailure(r, "sign-in failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, row)
}

func (h *Handler) handleSignOut(w http.ResponseWriter, r *http.Request) {
	c, ok := h.client(w, r)
	if !ok {
		return
	}

	if err := c.Controller.SignOut(r.Context()); err != nil {
		// Local state is cleared regardless; surface the remote failure.
		h.logFailure(r, "sign-out degraded", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c.Controller.Snapshot())
}

func (h *Handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	c, ok := h.client(w, r)
	if !ok {
		return
	}
	req, ok := httputil.Decode[updateProfileRequest](w, r)
	if !ok {
		return
	}

	fields := profile.Fields{
		DisplayName: req.DisplayName,
		Bio:         req.Bio,
	}
	if req.Category != nil {
		category := profile.Category(*req.Category)
		fields.Category = &category
	}

	row, err := c.Controller.UpdateProfile(r.Context(), fields)
	if err != nil {
		h.logFailure(r, "profile update failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, row)
}

func (h *Handler) handleEvict(w http.ResponseWriter, r *http.Request) {
	clientID := r.Header.Get(clientIDHeader)
	if clientID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "missing "+clientIDHeader+" header"))
		return
	}
	h.registry.Evict(clientID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) logFailure(r *http.Request, msg string, err error) {
	h.logger.WarnContext(r.Context(), msg,
		"error", err,
		"request_id", middleware.GetRequestID(r.Context()),
	)
}
