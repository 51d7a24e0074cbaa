// Package ws exposes the session controller over a websocket: one
// connection is one presentation client, owning one controller for its
// lifetime. Commands arrive as JSON envelopes; every controller state
// change is pushed back as a state frame.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jasonw10105-ux/artflow-sub000/internal/auth"
	"github.com/jasonw10105-ux/artflow-sub000/internal/auth/device"
	"github.com/jasonw10105-ux/artflow-sub000/internal/platform/metrics"
	"github.com/jasonw10105-ux/artflow-sub000/internal/profile"
	"github.com/jasonw10105-ux/artflow-sub000/internal/session"
	dErrors "github.com/jasonw10105-ux/artflow-sub000/pkg/domainerrors"
)

const (
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
	maxFrameSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// command is the client-to-server envelope.
type command struct {
	Type     string          `json:"type"`
	Email    string          `json:"email,omitempty"`
	Password string          `json:"password,omitempty"`
	Category string          `json:"category,omitempty"`
	Bio      string          `json:"bio,omitempty"`
	Token    string          `json:"token,omitempty"`
	Fields   *profile.Fields `json:"fields,omitempty"`
}

// frame is the server-to-client envelope.
type frame struct {
	Type    string `json:"type"`
	Op      string `json:"op,omitempty"`
	Body    any    `json:"body,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// Gateway upgrades HTTP requests and binds each connection to its own
// controller backed by a per-client auth provider.
type Gateway struct {
	directory      *auth.Directory
	profiles       session.ProfileStore
	logger         *slog.Logger
	metrics        *metrics.Metrics
	signupRedirect string
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithSignupRedirect overrides the sign-up link destination passed to
// controllers.
func WithSignupRedirect(target string) Option {
	return func(g *Gateway) {
		if target != "" {
			g.signupRedirect = target
		}
	}
}

// NewGateway builds a Gateway over the shared directory and profile store.
func NewGateway(directory *auth.Directory, profiles session.ProfileStore, logger *slog.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		directory: directory,
		profiles:  profiles,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// conn serializes writes; gorilla/websocket allows one concurrent writer.
type conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *conn) send(f frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// ServeHTTP upgrades the connection, builds the per-client controller, and
// runs the read loop until the peer goes away.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	label := device.Label(r.UserAgent())
	provider := auth.NewClient(g.directory, auth.WithDeviceLabel(label))
	controller, err := session.New(provider, g.profiles,
		session.WithLogger(g.logger),
		session.WithMetrics(g.metrics),
		session.WithTracer(session.NewOTelTracer()),
		session.WithSignupRedirect(g.signupRedirect),
	)
	if err != nil {
		g.logger.Error("controller construction failed", "error", err)
		return
	}
	defer controller.Close()

	ctx := r.Context()
	if err := controller.Initialize(ctx); err != nil {
		g.logger.Warn("controller initialization degraded", "error", err)
	}

	g.metrics.AddWebsocketSessions(1)
	defer g.metrics.AddWebsocketSessions(-1)
	g.logger.Info("websocket client connected", "device", label)

	c := &conn{ws: ws}

	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)

	// State pusher: every controller transition becomes a state frame.
	watch := controller.Watch()
	go func() {
		for snap := range watch {
			if err := c.send(frame{Type: "state", Body: snap}); err != nil {
				_ = ws.Close()
				return
			}
		}
	}()

	// Keepalive pings.
	go func() {
		ticker := time.NewTicker(pongWait * 9 / 10)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				deadline := time.Now().Add(writeWait)
				if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					_ = ws.Close()
					return
				}
			}
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			_ = c.send(errorFrame("", dErrors.New(dErrors.CodeBadRequest, "malformed command")))
			continue
		}
		g.dispatch(ctx, c, controller, provider, cmd)
	}
}

func (g *Gateway) dispatch(ctx context.Context, c *conn, controller *session.Controller, provider *auth.ClientProvider, cmd command) {
	switch cmd.Type {
	case "ping":
		_ = c.send(frame{Type: "pong"})

	case "sign_up":
		conf, err := controller.SignUp(ctx, cmd.Email)
		if err != nil {
			_ = c.send(errorFrame(cmd.Type, err))
			return
		}
		_ = c.send(frame{Type: "result", Op: cmd.Type, Body: conf})

	case "complete_sign_up":
		row, err := controller.CompleteSignUp(ctx, cmd.Email, cmd.Password, profile.Category(cmd.Category), cmd.Bio)
		if err != nil {
			_ = c.send(errorFrame(cmd.Type, err))
			return
		}
		_ = c.send(frame{Type: "result", Op: cmd.Type, Body: row})

	case "complete_link":
		// Link callbacks land on the provider; the controller observes the
		// resulting session through its change listener.
		if _, err := provider.CompleteLink(ctx, cmd.Token); err != nil {
			_ = c.send(errorFrame(cmd.Type, err))
			return
		}
		_ = c.send(frame{Type: "result", Op: cmd.Type})

	case "sign_in":
		row, err := controller.SignIn(ctx, cmd.Email, cmd.Password)
		if err != nil {
			_ = c.send(errorFrame(cmd.Type, err))
			return
		}
		_ = c.send(frame{Type: "result", Op: cmd.Type, Body: row})

	case "sign_out":
		if err := controller.SignOut(ctx); err != nil {
			_ = c.send(errorFrame(cmd.Type, err))
			return
		}
		_ = c.send(frame{Type: "result", Op: cmd.Type})

	case "update_profile":
		if cmd.Fields == nil {
			_ = c.send(errorFrame(cmd.Type, dErrors.New(dErrors.CodeBadRequest, "fields are required")))
			return
		}
		row, err := controller.UpdateProfile(ctx, *cmd.Fields)
		if err != nil {
			_ = c.send(errorFrame(cmd.Type, err))
			return
		}
		_ = c.send(frame{Type: "result", Op: cmd.Type, Body: row})

	default:
		_ = c.send(errorFrame(cmd.Type, dErrors.New(dErrors.CodeBadRequest, "unknown command type")))
	}
}

func errorFrame(op string, err error) frame {
	f := frame{Type: "error", Op: op, Message: err.Error()}
	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		f.Error = string(domainErr.Code)
	} else {
		f.Error = string(dErrors.CodeInternal)
	}
	return f
}
