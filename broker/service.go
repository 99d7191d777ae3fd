package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/pdfchat/rolebroker/internal/uuid"
)

// AssumeRoleInput is the request a Service sends to its RoleProvider.
type AssumeRoleInput struct {
	RoleARN     string
	SessionName string
	ExternalID  string
	Duration    time.Duration
}

// RoleProvider is the identity service the broker assumes roles through.
type RoleProvider interface {
	// AssumeRole exchanges a role ARN for temporary credentials. It returns
	// ErrNoCredentials when the call succeeded without a credential set.
	AssumeRole(ctx context.Context, in AssumeRoleInput) (Credentials, error)
	// RoleExists returns nil if the named role can be looked up.
	RoleExists(ctx context.Context, roleName string) error
}

// AssumeResult is returned for a successful role assumption.
type AssumeResult struct {
	SessionID string
	ExpiresAt time.Time
}

// Service assumes roles on behalf of clients and caches the resulting
// credentials behind opaque session IDs.
type Service struct {
	provider        RoleProvider
	cache           *Cache
	externalID      string
	sessionDuration time.Duration
	expiryMargin    time.Duration
	callTimeout     time.Duration
	newID           func() string
	now             func() time.Time
	logger          *slog.Logger
}

// NewService creates a Service that stores sessions in cache. The caller
// owns cache and is responsible for closing it.
func NewService(provider RoleProvider, cache *Cache, opts ...Option) *Service {
	s := &Service{
		provider:        provider,
		cache:           cache,
		externalID:      DefaultExternalID,
		sessionDuration: DefaultSessionDuration,
		expiryMargin:    DefaultExpiryMargin,
		callTimeout:     DefaultCallTimeout,
		newID:           uuid.New,
		now:             time.Now,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "role-broker")
	return s
}

// AssumeRoleAndCache validates roleARN, assumes the role and caches the
// credentials under a new session ID. A non-nil error is always an *Error
// whose Message can be returned to the client as-is; no credentials are
// returned on failure.
func (s *Service) AssumeRoleAndCache(ctx context.Context, roleARN string) (result AssumeResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic while assuming role", "panic", r)
			result = AssumeResult{}
			err = newError(KindInternal, MessageInternal, fmt.Errorf("panic: %v", r))
		}
	}()

	roleARN = strings.TrimSpace(roleARN)
	if roleARN == "" {
		return AssumeResult{}, newError(KindInvalidArnFormat, MessageRoleARNRequired, nil)
	}
	if !ValidRoleARN(roleARN) {
		return AssumeResult{}, newError(KindInvalidArnFormat, MessageInvalidARNFormat, nil)
	}

	s.checkRoleExists(ctx, roleARN)

	s.logger.Info("attempting to assume role", "role_arn", roleARN)
	creds, err := s.assumeRole(ctx, roleARN)
	if err != nil {
		return AssumeResult{}, s.classify(err)
	}

	sessionID := s.newID()
	expiresAt := creds.Expiration.Add(-s.expiryMargin)
	if err := s.cache.Put(sessionID, SessionRecord{
		Credentials: creds,
		RoleARN:     roleARN,
		CreatedAt:   s.now(),
		ExpiresAt:   expiresAt,
	}); err != nil {
		s.logger.Error("failed to cache credentials", "error", err)
		return AssumeResult{}, newError(KindInternal, MessageInternal, err)
	}

	s.logger.Info("assumed role and cached credentials",
		"role_arn", roleARN,
		"session", Fingerprint(sessionID),
		"credentials", creds,
		"expires_at", expiresAt)
	return AssumeResult{SessionID: sessionID, ExpiresAt: expiresAt}, nil
}

// SessionCredentials returns the cached credentials for a live session.
func (s *Service) SessionCredentials(sessionID string) (Credentials, bool) {
	return s.cache.Get(sessionID)
}

// ClearSession removes a session and reports whether it existed.
func (s *Service) ClearSession(sessionID string) bool {
	cleared := s.cache.Delete(sessionID)
	if cleared {
		s.logger.Info("session cleared", "session", Fingerprint(sessionID))
	}
	return cleared
}

// CacheStats reports session counts for status endpoints.
func (s *Service) CacheStats() Stats {
	return s.cache.Stats()
}

// checkRoleExists is best effort: the caller may be allowed to assume a
// role it cannot describe, so failures are only logged.
func (s *Service) checkRoleExists(ctx context.Context, roleARN string) {
	roleName, err := RoleNameFromARN(roleARN)
	if err == nil {
		callCtx, cancel := s.callContext(ctx)
		err = s.provider.RoleExists(callCtx, roleName)
		cancel()
	}
	if err != nil {
		s.logger.Warn("could not validate role existence, continuing",
			"role_arn", roleARN, "error", SanitizeError(err))
	}
}

func (s *Service) assumeRole(ctx context.Context, roleARN string) (Credentials, error) {
	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	creds, err := s.provider.AssumeRole(callCtx, AssumeRoleInput{
		RoleARN:     roleARN,
		SessionName: DefaultSessionNamePrefix + strconv.FormatInt(s.now().UnixMilli(), 10),
		ExternalID:  s.externalID,
		Duration:    s.sessionDuration,
	})
	if err != nil {
		return Credentials{}, err
	}
	if !creds.Valid() {
		return Credentials{}, ErrNoCredentials
	}
	return creds, nil
}

func (s *Service) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.callTimeout)
}

// classify maps a provider failure to a client-safe *Error. The raw error
// is logged here and nowhere else.
func (s *Service) classify(err error) *Error {
	s.logger.Error("sts assume role error", "error", err)
	switch {
	case errors.Is(err, ErrNoCredentials):
		return newError(KindNoCredentialsReturned, MessageNoCredentials, err)
	case errors.Is(err, context.DeadlineExceeded):
		return newError(KindTimeout, MessageTimeout, err)
	case upstreamCode(err) != "":
		return newError(KindRoleAssumptionDenied, SanitizeError(err), err)
	case errors.Is(err, context.Canceled):
		return newError(KindInternal, MessageInternal, err)
	default:
		return newError(KindUpstreamUnavailable, MessageUnavailable, err)
	}
}
