package broker

import (
	"log/slog"
	"time"
)

const (
	// DefaultSessionDuration is the lifetime requested from STS.
	DefaultSessionDuration = time.Hour
	// DefaultExpiryMargin is subtracted from the issuer's expiry so the
	// broker stops handing out credentials before they lapse upstream.
	DefaultExpiryMargin = 10 * time.Minute
	// DefaultExternalID must match the sts:ExternalId condition in the
	// target role's trust policy.
	DefaultExternalID = "pdf-chat-external-id"
	// DefaultCallTimeout bounds each call to the provider.
	DefaultCallTimeout = 15 * time.Second
	// DefaultSessionNamePrefix prefixes the STS role session name.
	DefaultSessionNamePrefix = "ChatPDF-Session-"
)

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source used for session bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithExternalID sets the external ID sent with every AssumeRole call.
func WithExternalID(id string) Option {
	return func(s *Service) {
		s.externalID = id
	}
}

// WithSessionDuration sets the credential lifetime requested from STS.
func WithSessionDuration(d time.Duration) Option {
	return func(s *Service) {
		s.sessionDuration = d
	}
}

// WithExpiryMargin sets how much earlier than the issuer's expiry a session
// stops being served. Negative values are treated as zero.
func WithExpiryMargin(d time.Duration) Option {
	return func(s *Service) {
		if d < 0 {
			d = 0
		}
		s.expiryMargin = d
	}
}

// WithCallTimeout bounds each provider call. Zero disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.callTimeout = d
	}
}

// WithIDGenerator overrides the session ID source. The generator must
// return values with at least 128 bits of cryptographic randomness.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		s.newID = fn
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}
