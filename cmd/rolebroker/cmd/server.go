package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/pdfchat/rolebroker/api"
	awsprovider "github.com/pdfchat/rolebroker/aws"
	"github.com/pdfchat/rolebroker/broker"
	bboltstorage "github.com/pdfchat/rolebroker/storage/bbolt"
)

var (
	addr               string
	region             string
	externalID         string
	corsOrigin         string
	environment        string
	dataDir            string
	auditMaxEntries    int
	sweepInterval      time.Duration
	expiryMargin       time.Duration
	sessionDuration    time.Duration
	awsTimeout         time.Duration
	assumeRateLimit    int
	assumeRateWindow   time.Duration
	trustedProxies     []string
	tlsCert            string
	tlsKey             string
	auditWebhook       string
	auditWebhookHeader string
	exposeAudit        bool
	logLevel           string
	logFormat          string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the role broker HTTP server",
	RunE:  runServer,
}

func runServer(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(os.Stderr, logLevel, logFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if err := checkSessionTimings(logger, sweepInterval, expiryMargin, sessionDuration); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := awsprovider.NewProvider(ctx, region)
	if err != nil {
		return err
	}

	cache := broker.NewCache(
		broker.WithSweepInterval(sweepInterval),
		broker.WithCacheLogger(logger),
	)
	defer cache.Close()

	svc := broker.NewService(provider, cache,
		broker.WithExternalID(externalID),
		broker.WithSessionDuration(sessionDuration),
		broker.WithExpiryMargin(expiryMargin),
		broker.WithCallTimeout(awsTimeout),
		broker.WithLogger(logger),
	)

	opts := []api.Option{
		api.WithLogger(logger),
		api.WithEnvironment(environment),
		api.WithAssumeRateLimit(assumeRateLimit, assumeRateWindow),
		api.WithAuditEndpoint(exposeAudit),
		api.WithObjectStores(func(creds broker.Credentials) api.ObjectStore {
			return awsprovider.NewObjectStore(region, creds)
		}),
		api.WithAlertFunc(func(e api.AlertEvent) {
			logger.Warn("security alert",
				"type", string(e.Type),
				"message", e.Message,
				"count", e.Count,
				"threshold", e.Threshold)
		}),
	}

	if dataDir != "" {
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		repo, err := bboltstorage.NewRepositoryFromFile(filepath.Join(dataDir, "audit.db"), nil)
		if err != nil {
			return fmt.Errorf("failed to open audit storage: %w", err)
		}
		defer repo.Close()
		opts = append(opts, api.WithAuditRepository(repo), api.WithAuditRetention(auditMaxEntries))
	}
	if auditWebhook != "" {
		opts = append(opts, api.WithAuditWebhook(auditWebhook, auditWebhookHeader))
	}
	if len(trustedProxies) > 0 {
		opt, err := api.WithTrustedProxies(trustedProxies)
		if err != nil {
			return err
		}
		opts = append(opts, opt)
	}

	a, err := api.New(svc, opts...)
	if err != nil {
		return fmt.Errorf("failed to initialize API: %w", err)
	}
	defer a.Close()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(api.SecurityHeaders)
	r.Use(api.CORS(corsOrigin))

	r.Get("/health", a.Health)
	r.Mount("/api", a.Router())

	server := &http.Server{
		Addr:              listenAddr(addr),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	useTLS := tlsCert != "" && tlsKey != ""
	if useTLS {
		cert, err := tls.LoadX509KeyPair(tlsCert, tlsKey)
		if err != nil {
			return fmt.Errorf("failed to load TLS key pair: %w", err)
		}
		server.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	done := make(chan error, 1)
	go func() {
		var err error
		if useTLS {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			done <- fmt.Errorf("server failed: %w", err)
			return
		}
		done <- nil
	}()

	printBanner()
	logger.Info("starting server",
		"addr", server.Addr,
		"tls", useTLS,
		"region", region,
		"environment", environment,
		"cors_origin", corsOrigin,
		"audit_persistent", dataDir != "")

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-done:
		return err
	}
}

func init() {
	rootCmd.AddCommand(serverCmd)
	f := serverCmd.Flags()
	f.StringVarP(&addr, "addr", "a", envString("PORT", "3001"), "Listen address or port (env PORT)")
	f.StringVar(&region, "region", envString("AWS_REGION", "us-east-1"), "AWS region (env AWS_REGION)")
	f.StringVar(&externalID, "external-id", envString("EXTERNAL_ID", broker.DefaultExternalID), "External ID sent with every AssumeRole call (env EXTERNAL_ID)")
	f.StringVar(&corsOrigin, "cors-origin", envString("CORS_ORIGIN", "http://localhost:5173"), "Allowed browser origin (env CORS_ORIGIN)")
	f.StringVar(&environment, "environment", envString("NODE_ENV", "development"), "Environment name reported by /health (env NODE_ENV)")
	f.StringVar(&dataDir, "data-dir", envString("DATA_DIR", ""), "Directory for the persistent audit log; empty keeps it in memory (env DATA_DIR)")
	f.IntVar(&auditMaxEntries, "audit-max-entries", envInt("AUDIT_MAX_ENTRIES", 10000), "Audit entries retained on disk; 0 keeps all")
	f.DurationVar(&sweepInterval, "sweep-interval", envDuration("SWEEP_INTERVAL", broker.DefaultSweepInterval), "How often expired sessions are evicted")
	f.DurationVar(&expiryMargin, "expiry-margin", envDuration("EXPIRY_MARGIN", broker.DefaultExpiryMargin), "Sessions expire this long before their credentials")
	f.DurationVar(&sessionDuration, "session-duration", envDuration("SESSION_DURATION", broker.DefaultSessionDuration), "Credential lifetime requested from STS")
	f.DurationVar(&awsTimeout, "aws-timeout", envDuration("AWS_TIMEOUT", broker.DefaultCallTimeout), "Timeout for each STS/IAM call")
	f.IntVar(&assumeRateLimit, "assume-rate-limit", envInt("ASSUME_RATE_LIMIT", 10), "Assume-role requests allowed per client IP per window; 0 disables")
	f.DurationVar(&assumeRateWindow, "assume-rate-window", envDuration("ASSUME_RATE_WINDOW", 15*time.Minute), "Assume-role rate limit window")
	f.StringSliceVar(&trustedProxies, "trusted-proxies", envList("TRUSTED_PROXIES"), "CIDRs whose X-Forwarded-For headers are trusted")
	f.StringVar(&tlsCert, "tls-cert", envString("TLS_CERT", ""), "Path to TLS certificate file")
	f.StringVar(&tlsKey, "tls-key", envString("TLS_KEY", ""), "Path to TLS key file")
	f.StringVar(&auditWebhook, "audit-webhook", envString("AUDIT_WEBHOOK_URL", ""), "URL that receives every audit event")
	f.StringVar(&auditWebhookHeader, "audit-webhook-header", envString("AUDIT_WEBHOOK_HEADER", ""), `Extra webhook header as "Name: Value"`)
	f.BoolVar(&exposeAudit, "expose-audit", envBool("EXPOSE_AUDIT", false), "Serve GET /api/auth/audit (lists client addresses and object names)")
	f.StringVar(&logLevel, "log-level", envString("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	f.StringVar(&logFormat, "log-format", envString("LOG_FORMAT", "json"), "Log format: json or text")
}
