package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pdfchat/rolebroker/broker"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditAssumeRoleSuccess     AuditEvent = "assume_role_success"
	AuditAssumeRoleFailure     AuditEvent = "assume_role_failure"
	AuditAssumeRoleRateLimited AuditEvent = "assume_role_rate_limited"
	AuditSessionCleared        AuditEvent = "session_cleared"
	AuditSessionNotFound       AuditEvent = "session_not_found"
	AuditBucketCreated         AuditEvent = "object_bucket_created"
	AuditBucketDeleted         AuditEvent = "object_bucket_deleted"
	AuditObjectUploaded        AuditEvent = "object_uploaded"
	AuditObjectDeleted         AuditEvent = "object_deleted"
)

// auditLogger wraps slog.Logger for structured security audit logging and
// fans events out to the hash chain and the optional webhook.
type auditLogger struct {
	logger  *slog.Logger
	metrics *metricsCollector
	store   *auditStore
	webhook *auditWebhook
	now     func() time.Time
	// clientIP resolves the remote address recorded with each event.
	clientIP func(*http.Request) string
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger:   logger.With("component", "audit"),
		now:      time.Now,
		clientIP: extractClientIP,
	}
}

// maxAuditRoleARNLen bounds caller-supplied ARNs written to the audit trail.
const maxAuditRoleARNLen = 256

// auditRoleARN is the form of a role ARN that may be recorded: account IDs
// are replaced and the length is bounded.
func auditRoleARN(roleARN string) string {
	roleARN = strings.TrimSpace(roleARN)
	if roleARN == "" {
		return ""
	}
	if len(roleARN) > maxAuditRoleARNLen {
		roleARN = roleARN[:maxAuditRoleARNLen]
	}
	return broker.SanitizeMessage(roleARN)
}

// auditRecord is what one audit event carries. Session is a fingerprint,
// never a raw session ID.
type auditRecord struct {
	RoleARN string
	Session string
	Detail  string
}

// log writes a structured audit log entry, appends it to the chain and
// queues it for the webhook.
func (al *auditLogger) log(event AuditEvent, r *http.Request, rec auditRecord) {
	ts := al.now().UTC()
	remote := al.clientIP(r)
	attrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", remote),
		slog.String("timestamp", ts.Format(time.RFC3339)),
	}
	if rec.RoleARN != "" {
		attrs = append(attrs, slog.String("role_arn", rec.RoleARN))
	}
	if rec.Session != "" {
		attrs = append(attrs, slog.String("session", rec.Session))
	}
	if rec.Detail != "" {
		attrs = append(attrs, slog.String("detail", rec.Detail))
	}
	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", attrs...)

	if al.store != nil {
		if err := al.store.append(event, remote, rec, ts); err != nil {
			al.logger.Error("failed to append audit entry", "event", string(event), "error", err)
		}
	}
	if al.webhook != nil {
		al.webhook.enqueue(newWebhookEvent(event, remote, rec, ts))
	}
	if al.metrics != nil {
		al.metrics.recordEvent(event)
	}
}
