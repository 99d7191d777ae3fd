package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// envString returns the value of key, or def when it is unset or empty.
func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// envList splits a comma-separated variable.
func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// checkSessionTimings rejects cache settings that would leave expired
// sessions in memory or hand out credentials up to their hard expiry.
// A zero margin is allowed but logged.
func checkSessionTimings(logger *slog.Logger, sweep, margin, duration time.Duration) error {
	if sweep <= 0 {
		return fmt.Errorf("--sweep-interval must be positive, got %s", sweep)
	}
	if margin < 0 {
		return fmt.Errorf("--expiry-margin must not be negative, got %s", margin)
	}
	if duration > 0 && margin >= duration {
		return fmt.Errorf("--expiry-margin %s leaves no usable time in a %s session", margin, duration)
	}
	if margin == 0 {
		logger.Warn("expiry margin is zero; sessions stay usable until their credentials expire")
	}
	return nil
}

// listenAddr accepts a bare port ("3001") or a host:port.
func listenAddr(addr string) string {
	if _, err := strconv.Atoi(addr); err == nil {
		return ":" + addr
	}
	return addr
}

func parseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

// newLogger builds the process logger. format is "json" or "text".
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := parseLogLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q (want json or text)", format)
	}
}
