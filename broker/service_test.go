package broker_test

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdfchat/rolebroker/aws/mocks"
	"github.com/pdfchat/rolebroker/broker"
)

const demoRoleARN = "arn:aws:iam::123456789012:role/Demo"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// issuingProvider returns credentials that expire ttl after the clock's now.
func issuingProvider(clock *testClock, ttl time.Duration) *mocks.Provider {
	return &mocks.Provider{
		AssumeRoleFunc: func(ctx context.Context, in broker.AssumeRoleInput) (broker.Credentials, error) {
			return broker.Credentials{
				AccessKeyID:     "ASIAEXAMPLE",
				SecretAccessKey: "secret",
				SessionToken:    "token",
				Expiration:      clock.Now().Add(ttl),
			}, nil
		},
		RoleExistsFunc: func(ctx context.Context, roleName string) error {
			return nil
		},
	}
}

func newTestService(t *testing.T, provider broker.RoleProvider, clock *testClock, opts ...broker.Option) *broker.Service {
	t.Helper()
	cache := broker.NewCache(broker.WithCacheClock(clock.Now), broker.WithSweepInterval(0))
	t.Cleanup(cache.Close)
	opts = append([]broker.Option{broker.WithClock(clock.Now)}, opts...)
	return broker.NewService(provider, cache, opts...)
}

func newClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func TestAssumeRoleAndCache_EndToEnd(t *testing.T) {
	clock := newClock()
	provider := issuingProvider(clock, 60*time.Minute)
	svc := newTestService(t, provider, clock)

	result, err := svc.AssumeRoleAndCache(context.Background(), demoRoleARN)
	require.NoError(t, err)
	require.NotEmpty(t, result.SessionID)
	assert.Equal(t, clock.Now().Add(50*time.Minute), result.ExpiresAt)

	creds, ok := svc.SessionCredentials(result.SessionID)
	require.True(t, ok)
	assert.Equal(t, "ASIAEXAMPLE", creds.AccessKeyID)
	assert.Equal(t, "secret", creds.SecretAccessKey)
	assert.Equal(t, "token", creds.SessionToken)
	assert.True(t, result.ExpiresAt.Before(creds.Expiration))

	assert.True(t, svc.ClearSession(result.SessionID))
	_, ok = svc.SessionCredentials(result.SessionID)
	assert.False(t, ok)
	assert.False(t, svc.ClearSession(result.SessionID))
}

func TestAssumeRoleAndCache_SendsRequestParameters(t *testing.T) {
	clock := newClock()
	provider := issuingProvider(clock, time.Hour)
	svc := newTestService(t, provider, clock,
		broker.WithExternalID("tenant-secret"),
		broker.WithSessionDuration(30*time.Minute))

	_, err := svc.AssumeRoleAndCache(context.Background(), "  "+demoRoleARN+"\n")
	require.NoError(t, err)

	in := provider.LastAssumeInput()
	assert.Equal(t, demoRoleARN, in.RoleARN)
	assert.Equal(t, "tenant-secret", in.ExternalID)
	assert.Equal(t, 30*time.Minute, in.Duration)
	assert.Equal(t, "ChatPDF-Session-1748768400000", in.SessionName)
	assert.Equal(t, "Demo", provider.LastRoleName())
}

func TestAssumeRoleAndCache_InvalidARNSkipsProvider(t *testing.T) {
	inputs := []struct {
		arn     string
		message string
	}{
		{"", broker.MessageRoleARNRequired},
		{"   ", broker.MessageRoleARNRequired},
		{"not-an-arn", broker.MessageInvalidARNFormat},
		{"arn:aws:iam::12345:role/MyRole", broker.MessageInvalidARNFormat},
		{"arn:aws:iam::123456789012:user/Bob", broker.MessageInvalidARNFormat},
		{"arn:aws:iam::123456789012:role/path/Name", broker.MessageInvalidARNFormat},
	}
	for _, tt := range inputs {
		t.Run(tt.arn, func(t *testing.T) {
			clock := newClock()
			provider := issuingProvider(clock, time.Hour)
			svc := newTestService(t, provider, clock)

			result, err := svc.AssumeRoleAndCache(context.Background(), tt.arn)
			require.Error(t, err)
			assert.Equal(t, broker.KindInvalidArnFormat, broker.KindOf(err))
			assert.Equal(t, tt.message, err.Error())
			assert.Empty(t, result.SessionID)
			assert.Zero(t, provider.AssumeRoleCalls())
			assert.Zero(t, provider.RoleExistsCalls())
			assert.Equal(t, 0, svc.CacheStats().Total)
		})
	}
}

func TestAssumeRoleAndCache_ExistenceCheckIsBestEffort(t *testing.T) {
	clock := newClock()
	provider := issuingProvider(clock, time.Hour)
	provider.RoleExistsFunc = func(ctx context.Context, roleName string) error {
		return &smithy.GenericAPIError{Code: "AccessDenied", Message: "not allowed to call iam:GetRole"}
	}
	svc := newTestService(t, provider, clock)

	result, err := svc.AssumeRoleAndCache(context.Background(), demoRoleARN)
	require.NoError(t, err)
	assert.NotEmpty(t, result.SessionID)
	assert.Equal(t, 1, provider.RoleExistsCalls())
	assert.Equal(t, 1, provider.AssumeRoleCalls())
}

func TestAssumeRoleAndCache_NoCredentials(t *testing.T) {
	for name, assume := range map[string]func(context.Context, broker.AssumeRoleInput) (broker.Credentials, error){
		"sentinel": func(context.Context, broker.AssumeRoleInput) (broker.Credentials, error) {
			return broker.Credentials{}, broker.ErrNoCredentials
		},
		"empty set": func(context.Context, broker.AssumeRoleInput) (broker.Credentials, error) {
			return broker.Credentials{}, nil
		},
	} {
		t.Run(name, func(t *testing.T) {
			clock := newClock()
			provider := issuingProvider(clock, time.Hour)
			provider.AssumeRoleFunc = assume
			svc := newTestService(t, provider, clock)

			_, err := svc.AssumeRoleAndCache(context.Background(), demoRoleARN)
			require.Error(t, err)
			assert.Equal(t, broker.KindNoCredentialsReturned, broker.KindOf(err))
			assert.Equal(t, broker.MessageNoCredentials, err.Error())
			assert.Equal(t, 0, svc.CacheStats().Total)
		})
	}
}

func TestAssumeRoleAndCache_DeniedIsSanitized(t *testing.T) {
	clock := newClock()
	provider := issuingProvider(clock, time.Hour)
	provider.AssumeRoleFunc = func(ctx context.Context, in broker.AssumeRoleInput) (broker.Credentials, error) {
		return broker.Credentials{}, &smithy.GenericAPIError{
			Code: "AccessDenied",
			Message: "User: arn:aws:sts::111122223333:assumed-role/broker/sess is not authorized to perform: " +
				"sts:AssumeRole on resource: arn:aws:iam::123456789012:role/Demo",
		}
	}
	svc := newTestService(t, provider, clock)

	_, err := svc.AssumeRoleAndCache(context.Background(), demoRoleARN)
	require.Error(t, err)
	assert.Equal(t, broker.KindRoleAssumptionDenied, broker.KindOf(err))
	assert.True(t, strings.HasPrefix(err.Error(), "Not authorized to assume the specified role."))
	assert.False(t, regexp.MustCompile(`\d{12}`).MatchString(err.Error()))

	var apiErr smithy.APIError
	assert.True(t, errors.As(err, &apiErr), "cause should stay reachable for server-side logging")
}

func TestAssumeRoleAndCache_Timeout(t *testing.T) {
	clock := newClock()
	provider := issuingProvider(clock, time.Hour)
	provider.AssumeRoleFunc = func(ctx context.Context, in broker.AssumeRoleInput) (broker.Credentials, error) {
		<-ctx.Done()
		return broker.Credentials{}, ctx.Err()
	}
	svc := newTestService(t, provider, clock, broker.WithCallTimeout(20*time.Millisecond))

	_, err := svc.AssumeRoleAndCache(context.Background(), demoRoleARN)
	require.Error(t, err)
	assert.Equal(t, broker.KindTimeout, broker.KindOf(err))
	assert.Equal(t, broker.MessageTimeout, err.Error())
}

func TestAssumeRoleAndCache_TransportFailure(t *testing.T) {
	clock := newClock()
	provider := issuingProvider(clock, time.Hour)
	provider.AssumeRoleFunc = func(ctx context.Context, in broker.AssumeRoleInput) (broker.Credentials, error) {
		return broker.Credentials{}, errors.New("dial tcp: lookup sts.us-east-1.amazonaws.com: no such host")
	}
	svc := newTestService(t, provider, clock)

	_, err := svc.AssumeRoleAndCache(context.Background(), demoRoleARN)
	require.Error(t, err)
	assert.Equal(t, broker.KindUpstreamUnavailable, broker.KindOf(err))
	assert.Equal(t, broker.MessageUnavailable, err.Error())
}

func TestAssumeRoleAndCache_PanicIsContained(t *testing.T) {
	clock := newClock()
	provider := issuingProvider(clock, time.Hour)
	provider.AssumeRoleFunc = func(ctx context.Context, in broker.AssumeRoleInput) (broker.Credentials, error) {
		panic("boom")
	}
	svc := newTestService(t, provider, clock)

	result, err := svc.AssumeRoleAndCache(context.Background(), demoRoleARN)
	require.Error(t, err)
	assert.Equal(t, broker.KindInternal, broker.KindOf(err))
	assert.Equal(t, broker.MessageInternal, err.Error())
	assert.Empty(t, result.SessionID)
}

func TestAssumeRoleAndCache_SessionExpiresBeforeCredentials(t *testing.T) {
	clock := newClock()
	provider := issuingProvider(clock, 60*time.Minute)
	svc := newTestService(t, provider, clock)

	result, err := svc.AssumeRoleAndCache(context.Background(), demoRoleARN)
	require.NoError(t, err)

	clock.Advance(50*time.Minute - time.Second)
	_, ok := svc.SessionCredentials(result.SessionID)
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = svc.SessionCredentials(result.SessionID)
	assert.False(t, ok, "session must lapse at the effective expiry, 10 minutes before the credentials")
	assert.Equal(t, broker.Stats{}, svc.CacheStats())
}

func TestAssumeRoleAndCache_CustomMargin(t *testing.T) {
	clock := newClock()
	provider := issuingProvider(clock, time.Hour)
	svc := newTestService(t, provider, clock, broker.WithExpiryMargin(-time.Minute))

	result, err := svc.AssumeRoleAndCache(context.Background(), demoRoleARN)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(time.Hour), result.ExpiresAt, "negative margins are clamped to zero")
}

func TestAssumeRoleAndCache_UniqueSessionIDs(t *testing.T) {
	clock := newClock()
	provider := issuingProvider(clock, time.Hour)
	svc := newTestService(t, provider, clock)

	const n = 10000
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		result, err := svc.AssumeRoleAndCache(context.Background(), demoRoleARN)
		require.NoError(t, err)
		_, dup := seen[result.SessionID]
		require.False(t, dup, "duplicate session ID %s", result.SessionID)
		seen[result.SessionID] = struct{}{}
	}
	assert.Equal(t, broker.Stats{Total: n, Active: n}, svc.CacheStats())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "InvalidArnFormat", broker.KindInvalidArnFormat.String())
	assert.Equal(t, "RoleAssumptionDenied", broker.KindRoleAssumptionDenied.String())
	assert.Equal(t, "NoCredentialsReturned", broker.KindNoCredentialsReturned.String())
	assert.Equal(t, "Timeout", broker.KindTimeout.String())
	assert.Equal(t, "UpstreamUnavailable", broker.KindUpstreamUnavailable.String())
	assert.Equal(t, "Internal", broker.KindInternal.String())
	assert.Equal(t, broker.KindInternal, broker.KindOf(errors.New("other")))
}
