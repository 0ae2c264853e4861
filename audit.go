package membergate

import (
	"context"

	"github.com/membergate/membergate/internal/audit"
)

// AuditEvent is re-exported for custom sink implementations.
type AuditEvent = audit.Event

// AuditSink receives the engine's security audit trail.
type AuditSink = audit.Sink

// NewChannelAuditSink returns a sink backed by a buffered channel.
func NewChannelAuditSink(buffer int) *audit.ChannelSink {
	return audit.NewChannelSink(buffer)
}

const (
	auditEventRegister        = "register"
	auditEventVerifyConfirm   = "verify_confirm"
	auditEventResendRequest   = "resend_request"
	auditEventResetRequest    = "reset_request"
	auditEventResetConfirm    = "reset_confirm"
	auditEventLogin           = "login"
	auditEventAuthorize       = "authorize"
	auditEventEmailDispatch   = "email_dispatch"
	auditEventRoleAssignment  = "role_assignment"
)

// emitAudit records one security-relevant outcome. metaFn is evaluated only
// when audit is enabled so disabled audit costs nothing.
func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	identityID string,
	opErr error,
	metaFn func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	event := audit.Event{
		Timestamp:  e.clock.Now(),
		EventType:  eventType,
		IdentityID: identityID,
		Origin:     originFromContext(ctx),
		Success:    success,
	}
	if opErr != nil {
		event.Error = opErr.Error()
	}
	if metaFn != nil {
		event.Metadata = metaFn()
	}

	e.audit.Emit(ctx, event)
}
