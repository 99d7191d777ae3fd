// Package api exposes the role broker over HTTP: session endpoints, the S3
// file proxy built on cached session credentials, and the audit trail.
package api

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/pdfchat/rolebroker/broker"
	"github.com/pdfchat/rolebroker/storage"
	"github.com/pdfchat/rolebroker/storage/memory"
)

// Broker is the session broker contract the handlers are built on.
// *broker.Service implements it.
type Broker interface {
	AssumeRoleAndCache(ctx context.Context, roleARN string) (broker.AssumeResult, error)
	SessionCredentials(sessionID string) (broker.Credentials, bool)
	ClearSession(sessionID string) bool
	CacheStats() broker.Stats
}

// ObjectStore is the bucket/object API the file proxy needs.
type ObjectStore interface {
	CreateBucket(ctx context.Context, bucket string) error
	ListObjects(ctx context.Context, bucket string) ([]string, error)
	PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error
	DeleteObject(ctx context.Context, bucket, key string) error
	DeleteBucket(ctx context.Context, bucket string) error
}

// ObjectStoreFactory builds an ObjectStore signed with a session's
// credentials.
type ObjectStoreFactory func(creds broker.Credentials) ObjectStore

// rateLimitSweepInterval is how often idle rate-limit entries are dropped.
const rateLimitSweepInterval = 5 * time.Minute

// API holds the dependencies needed by the REST handlers.
type API struct {
	broker         Broker
	objectStores   ObjectStoreFactory
	audit          *auditLogger
	assumeLimiter  *ipWindowLimiter
	trustedProxies []netip.Prefix
	environment    string
	now            func() time.Time

	auditRepo       storage.Repository
	auditMaxEntries int
	webhookURL      string
	webhookHeader   string
	alertFn         AlertFunc
	exposeAudit     bool

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.audit = newAuditLogger(logger)
	}
}

// WithObjectStores enables the S3 file proxy.
func WithObjectStores(factory ObjectStoreFactory) Option {
	return func(a *API) {
		a.objectStores = factory
	}
}

// WithAuditRepository persists the hash-chained audit trail in repo. Without
// it the trail is kept in memory.
func WithAuditRepository(repo storage.Repository) Option {
	return func(a *API) {
		a.auditRepo = repo
	}
}

// WithAuditRetention caps the number of retained audit entries. Zero keeps
// everything.
func WithAuditRetention(maxEntries int) Option {
	return func(a *API) {
		a.auditMaxEntries = maxEntries
	}
}

// WithAuditWebhook forwards every audit event to url. header, if set, is a
// "Name: Value" pair added to each request.
func WithAuditWebhook(url, header string) Option {
	return func(a *API) {
		a.webhookURL = url
		a.webhookHeader = header
	}
}

// WithAlertFunc sets the callback for anomaly alerts.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.alertFn = fn
	}
}

// WithAssumeRateLimit sets the per-IP assume-role limit. A limit <= 0
// disables it.
func WithAssumeRateLimit(limit int, window time.Duration) Option {
	return func(a *API) {
		a.assumeLimiter = newIPWindowLimiter(limit, window)
	}
}

// WithAuditEndpoint mounts GET /auth/audit. The trail records client
// addresses and object names, so the route is off unless an operator
// enables it.
func WithAuditEndpoint(enabled bool) Option {
	return func(a *API) {
		a.exposeAudit = enabled
	}
}

// WithEnvironment sets the environment name reported by Health.
func WithEnvironment(env string) Option {
	return func(a *API) {
		a.environment = env
	}
}

// WithTrustedProxies parses CIDRs (or bare IPs) whose proxy headers are
// trusted when resolving client IPs.
func WithTrustedProxies(cidrs []string) (Option, error) {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, raw := range cidrs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			addr, err := netip.ParseAddr(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
			}
			prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
		}
		prefixes = append(prefixes, prefix.Masked())
	}
	return func(a *API) {
		a.trustedProxies = prefixes
	}, nil
}

// New creates a new API instance. Call Close to stop its background work.
func New(b Broker, opts ...Option) (*API, error) {
	a := &API{
		broker:        b,
		assumeLimiter: newIPWindowLimiter(defaultAssumeRateLimit, defaultAssumeRateWindow),
		environment:   "development",
		now:           time.Now,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.audit == nil {
		a.audit = newAuditLogger(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	}
	a.audit.clientIP = a.extractClientIP

	repo := a.auditRepo
	if repo == nil {
		repo = memory.NewRepository()
	}
	maxEntries := a.auditMaxEntries
	if maxEntries == 0 && a.auditRepo == nil {
		maxEntries = defaultAuditMaxEntries
	}
	store, err := newAuditStore(repo, maxEntries)
	if err != nil {
		return nil, err
	}
	a.audit.store = store
	if a.alertFn != nil {
		a.audit.metrics = newMetricsCollector(a.alertFn)
	}
	if a.webhookURL != "" {
		a.audit.webhook = newAuditWebhook(a.webhookURL, a.webhookHeader)
	}

	go a.cleanupLoop()
	return a, nil
}

// Close stops the rate-limit sweep and drains the audit webhook. It is
// safe to call more than once.
func (a *API) Close() {
	a.stopOnce.Do(func() {
		close(a.stopCh)
		<-a.doneCh
		if a.audit != nil && a.audit.webhook != nil {
			a.audit.webhook.close()
		}
	})
}

func (a *API) cleanupLoop() {
	defer close(a.doneCh)
	ticker := time.NewTicker(rateLimitSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			if a.assumeLimiter != nil {
				a.assumeLimiter.sweep()
			}
		}
	}
}

// Router returns a chi.Router with all API routes mounted. It is meant to
// be mounted at /api.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/openapi.yaml",
		Path:    "api/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/openapi.yaml",
		Path:    "api/redoc",
	}, nil))

	r.Get("/", a.Root)

	r.Route("/auth", func(r chi.Router) {
		r.With(a.rateLimitAssume).Post("/assume-role", a.AssumeRole)
		r.Post("/logout", a.Logout)
		r.Get("/status", a.Status)
		if a.exposeAudit {
			r.Get("/audit", a.AuditLog)
		}
	})

	r.Route("/s3", func(r chi.Router) {
		r.Post("/create-bucket", a.CreateBucket)
		r.Post("/list-files", a.ListFiles)
		r.Post("/upload-file", a.UploadFile)
		r.Post("/delete-file", a.DeleteFile)
		r.Post("/delete-bucket", a.DeleteBucket)
	})

	return r
}

// Root handles GET /.
func (a *API) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, RootResponse{Message: "AWS Bedrock PDF Chat API"})
}

// Health handles GET /health. It is mounted outside the API router.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		Timestamp:   formatTime(a.now()),
		Environment: a.environment,
	})
}
