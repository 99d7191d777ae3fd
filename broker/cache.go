package broker

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultSweepInterval is how often the cache evicts expired sessions.
const DefaultSweepInterval = 5 * time.Minute

// SessionRecord is the server-side state behind one session identifier.
type SessionRecord struct {
	Credentials Credentials
	// RoleARN is kept for audit logging only.
	RoleARN   string
	CreatedAt time.Time
	// ExpiresAt is the effective expiry the broker enforces. It is never
	// later than Credentials.Expiration.
	ExpiresAt time.Time
}

// Stats summarizes the cache contents.
type Stats struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Expired int `json:"expired"`
}

type cachedSession struct {
	roleARN     string
	createdAt   time.Time
	expiresAt   time.Time
	credentials *sealedCredentials
}

// Cache is a thread-safe in-memory store of sessions keyed by session ID.
// Expired sessions are removed lazily by Get and proactively by a
// background sweep. Sessions are lost on restart.
type Cache struct {
	mu            sync.Mutex
	data          map[string]cachedSession
	now           func() time.Time
	sweepInterval time.Duration
	logger        *slog.Logger
	// open decrypts a cached credential set.
	open          func(*sealedCredentials) (Credentials, error)
	stopOnce      sync.Once
	stopCh        chan struct{}
	doneCh        chan struct{}
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithCacheClock sets the time source used for expiry checks.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.now = now
	}
}

// WithSweepInterval sets the background sweep period. A value <= 0 disables
// the background sweep; Sweep can still be called directly.
func WithSweepInterval(d time.Duration) CacheOption {
	return func(c *Cache) {
		c.sweepInterval = d
	}
}

// WithCacheLogger sets the logger for eviction messages.
func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *Cache) {
		c.logger = logger
	}
}

// NewCache creates a cache and starts its sweep loop. Call Close to stop it.
func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{
		data:          make(map[string]cachedSession),
		now:           time.Now,
		sweepInterval: DefaultSweepInterval,
		logger:        slog.Default(),
		open:          (*sealedCredentials).open,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "credential-cache")
	if c.sweepInterval > 0 {
		go c.cleanupLoop()
	} else {
		close(c.doneCh)
	}
	return c
}

// Close stops the background sweep and waits for it to exit. It is safe to
// call more than once.
func (c *Cache) Close() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	<-c.doneCh
}

// Put stores a session, replacing any existing session with the same ID.
func (c *Cache) Put(sessionID string, rec SessionRecord) error {
	sealed, err := sealCredentials(rec.Credentials)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.data[sessionID] = cachedSession{
		roleARN:     rec.RoleARN,
		createdAt:   rec.CreatedAt,
		expiresAt:   rec.ExpiresAt,
		credentials: sealed,
	}
	c.mu.Unlock()
	return nil
}

// Get returns the credentials for a session that exists and has not reached
// its effective expiry. An expired session is deleted as a side effect.
// Absence is not an error: ok is false for missing and expired sessions.
// A session whose credentials cannot be decrypted right now (for example
// when locked memory is exhausted) is reported as absent but kept; expiry
// removes it if the failure persists.
func (c *Cache) Get(sessionID string) (creds Credentials, ok bool) {
	c.mu.Lock()
	session, found := c.data[sessionID]
	if !found {
		c.mu.Unlock()
		c.logger.Debug("session not found", "session", Fingerprint(sessionID))
		return Credentials{}, false
	}
	if !c.now().Before(session.expiresAt) {
		delete(c.data, sessionID)
		c.mu.Unlock()
		c.logger.Debug("session expired", "session", Fingerprint(sessionID))
		return Credentials{}, false
	}
	c.mu.Unlock()

	creds, err := c.open(session.credentials)
	if err != nil {
		c.logger.Error("cached credentials unreadable",
			"session", Fingerprint(sessionID), "error", err)
		return Credentials{}, false
	}
	return creds, true
}

// Delete removes a session and reports whether one was present.
func (c *Cache) Delete(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.data[sessionID]; !ok {
		return false
	}
	delete(c.data, sessionID)
	return true
}

// Stats counts stored sessions. Total includes sessions that have expired
// but have not been evicted yet.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	active := 0
	for _, session := range c.data {
		if now.Before(session.expiresAt) {
			active++
		}
	}
	return Stats{
		Total:   len(c.data),
		Active:  active,
		Expired: len(c.data) - active,
	}
}

// Sweep deletes every session whose effective expiry has passed and returns
// how many were removed. The clock is read once per sweep; a session
// inserted after that survives until the next sweep.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for id, session := range c.data {
		if !now.Before(session.expiresAt) {
			delete(c.data, id)
			removed++
			c.logger.Debug("cleaned up expired session", "session", Fingerprint(id))
		}
	}
	return removed
}

func (c *Cache) cleanupLoop() {
	defer close(c.doneCh)
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("swept expired sessions", "count", n)
			}
		}
	}
}
