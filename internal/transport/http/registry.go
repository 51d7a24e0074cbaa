package httptransport

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jasonw10105-ux/artflow-sub000/internal/auth"
	"github.com/jasonw10105-ux/artflow-sub000/internal/platform/metrics"
	"github.com/jasonw10105-ux/artflow-sub000/internal/session"
)

// Client bundles the per-client controller with the auth provider it is
// bound to. Handlers talk to the controller; link callbacks land on the
// provider directly.
type Client struct {
	Controller *session.Controller
	Provider   *auth.ClientProvider
}

// Registry keeps one live Client per REST caller. Unlike the websocket
// gateway, where the connection scope bounds the controller, REST callers
// are identified by the X-Client-ID header and their controller survives
// between requests until Shutdown.
type Registry struct {
	directory      *auth.Directory
	profiles       session.ProfileStore
	logger         *slog.Logger
	metrics        *metrics.Metrics
	signupRedirect string

	mu      sync.Mutex
	clients map[string]*Client
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryMetrics enables Prometheus metrics on controllers the
// registry creates.
func WithRegistryMetrics(m *metrics.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// WithRegistrySignupRedirect overrides the sign-up link destination.
func WithRegistrySignupRedirect(target string) RegistryOption {
	return func(r *Registry) {
		if target != "" {
			r.signupRedirect = target
		}
	}
}

// NewRegistry builds a Registry over the shared directory and profile store.
func NewRegistry(directory *auth.Directory, profiles session.ProfileStore, logger *slog.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		directory: directory,
		profiles:  profiles,
		logger:    logger,
		clients:   make(map[string]*Client),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Client returns the caller's Client, creating and initializing it on
// first use.
func (r *Registry) Client(ctx context.Context, clientID, deviceLabel string) (*Client, error) {
	r.mu.Lock()
	if c, ok := r.clients[clientID]; ok {
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()

	provider := auth.NewClient(r.directory, auth.WithDeviceLabel(deviceLabel))
	controller, err := session.New(provider, r.profiles,
		session.WithLogger(r.logger),
		session.WithMetrics(r.metrics),
		session.WithTracer(session.NewOTelTracer()),
		session.WithSignupRedirect(r.signupRedirect),
	)
	if err != nil {
		return nil, err
	}
	if err := controller.Initialize(ctx); err != nil {
		r.logger.Warn("controller initialization degraded", "client_id", clientID, "error", err)
	}
	c := &Client{Controller: controller, Provider: provider}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.clients[clientID]; ok {
		// Lost the creation race; keep the first one.
		controller.Close()
		return existing, nil
	}
	r.clients[clientID] = c
	return c, nil
}

// Evict closes and removes one caller's controller.
func (r *Registry) Evict(clientID string) {
	r.mu.Lock()
	c, ok := r.clients[clientID]
	delete(r.clients, clientID)
	r.mu.Unlock()
	if ok {
		c.Controller.Close()
	}
}

// Shutdown closes every controller.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]*Client)
	r.mu.Unlock()
	for _, c := range clients {
		c.Controller.Close()
	}
}
