package session

import (
	"context"

	"github.com/jasonw10105-ux/artflow-sub000/internal/platform/middleware"
)

// Observability helpers for audit-style logging. These are on *Controller
// to access the logger.

func (c *Controller) logAudit(ctx context.Context, event string, attributes ...any) {
	if requestID := middleware.GetRequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	c.logger.InfoContext(ctx, event, args...)
}

func (c *Controller) logFailure(ctx context.Context, reason string, attributes ...any) {
	if requestID := middleware.GetRequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", "session_op_failed", "reason", reason, "log_type", "standard")
	c.logger.WarnContext(ctx, "session_op_failed", args...)
}
