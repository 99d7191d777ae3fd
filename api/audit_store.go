package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pdfchat/rolebroker/internal/uuid"
	"github.com/pdfchat/rolebroker/storage"
)

const (
	auditBucket = "audit"

	// auditGenesisHash anchors the first entry of a chain.
	auditGenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

	// defaultAuditMaxEntries bounds the retained chain.
	defaultAuditMaxEntries = 1000
	// auditRetentionThreshold is how many appends may accumulate before
	// retention runs again.
	auditRetentionThreshold = 50
)

type auditEntry struct {
	ID         string     `json:"id"`
	Seq        uint64     `json:"seq"`
	Event      AuditEvent `json:"event"`
	RoleARN    string     `json:"role_arn,omitempty"`
	Session    string     `json:"session,omitempty"`
	RemoteAddr string     `json:"remote_addr,omitempty"`
	Detail     string     `json:"detail,omitempty"`
	CreatedAt  string     `json:"created_at"`
	PrevHash   string     `json:"prev_hash"`
}

// auditChainHash computes the SHA-256 chain link.
// hash = SHA-256( entryID || prevHash || createdAt )
func auditChainHash(entryID, prevHash, createdAt string) string {
	h := sha256.Sum256([]byte(entryID + prevHash + createdAt))
	return hex.EncodeToString(h[:])
}

func (e auditEntry) hash() string {
	return auditChainHash(e.ID, e.PrevHash, e.CreatedAt)
}

// auditKey orders entries by sequence number under byte-wise key order.
func auditKey(seq uint64) string {
	return fmt.Sprintf("%020d", seq)
}

// auditStore is an append-only, hash-chained log of audit entries kept in
// a storage.Repository. Appends are serialized by mu.
type auditStore struct {
	mu         sync.Mutex
	repo       storage.Repository
	maxEntries int
	seq        uint64
	head       string
	sinceTrim  int
}

// newAuditStore resumes the chain found in repo, if any.
func newAuditStore(repo storage.Repository, maxEntries int) (*auditStore, error) {
	s := &auditStore{
		repo:       repo,
		maxEntries: maxEntries,
		head:       auditGenesisHash,
	}
	ids, err := repo.List(auditBucket)
	if err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}
	if len(ids) == 0 {
		return s, nil
	}
	last, err := s.load(ids[len(ids)-1])
	if err != nil {
		return nil, err
	}
	s.seq = last.Seq
	s.head = last.hash()
	return s, nil
}

func (s *auditStore) load(key string) (auditEntry, error) {
	var entry auditEntry
	data, err := s.repo.Get(auditBucket, key)
	if err != nil {
		return entry, err
	}
	if err := json.Unmarshal(data, &entry); err != nil {
		return entry, fmt.Errorf("decoding audit entry %s: %w", key, err)
	}
	return entry, nil
}

func (s *auditStore) append(event AuditEvent, remoteAddr string, rec auditRecord, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := auditEntry{
		ID:         uuid.New(),
		Seq:        s.seq + 1,
		Event:      event,
		RoleARN:    rec.RoleARN,
		Session:    rec.Session,
		RemoteAddr: remoteAddr,
		Detail:     rec.Detail,
		CreatedAt:  at.UTC().Format(time.RFC3339Nano),
		PrevHash:   s.head,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := s.repo.Put(auditBucket, auditKey(entry.Seq), data); err != nil {
		return err
	}
	s.seq = entry.Seq
	s.head = entry.hash()

	s.sinceTrim++
	if s.maxEntries > 0 && s.sinceTrim >= s.retentionCheckThreshold() {
		s.sinceTrim = 0
		return s.applyRetention()
	}
	return nil
}

// retentionCheckThreshold is auditRetentionThreshold, halved for small
// caps so the chain never grows far past maxEntries.
func (s *auditStore) retentionCheckThreshold() int {
	if s.maxEntries <= 0 || s.maxEntries >= 2*auditRetentionThreshold {
		return auditRetentionThreshold
	}
	if t := s.maxEntries / 2; t > 0 {
		return t
	}
	return 1
}

// applyRetention drops the oldest entries beyond maxEntries and re-anchors
// the oldest survivor to the genesis hash, rewriting the links after it.
// Must be called with mu held.
func (s *auditStore) applyRetention() error {
	ids, err := s.repo.List(auditBucket)
	if err != nil {
		return err
	}
	excess := len(ids) - s.maxEntries
	if excess <= 0 {
		return nil
	}
	kept := make([]auditEntry, 0, s.maxEntries)
	for _, id := range ids[excess:] {
		entry, err := s.load(id)
		if err != nil {
			return err
		}
		kept = append(kept, entry)
	}

	prev := auditGenesisHash
	for i := range kept {
		kept[i].PrevHash = prev
		prev = kept[i].hash()
	}

	err = s.repo.Batch(auditBucket, func(tx storage.BatchTx) error {
		for _, id := range ids[:excess] {
			if err := tx.Delete(id); err != nil {
				return err
			}
		}
		for _, entry := range kept {
			data, err := json.Marshal(entry)
			if err != nil {
				return err
			}
			if err := tx.Put(auditKey(entry.Seq), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.head = prev
	return nil
}

// entries returns the retained chain, oldest first, and its head hash.
func (s *auditStore) entries() ([]auditEntry, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.repo.List(auditBucket)
	if err != nil {
		return nil, "", err
	}
	out := make([]auditEntry, 0, len(ids))
	for _, id := range ids {
		entry, err := s.load(id)
		if err != nil {
			return nil, "", err
		}
		out = append(out, entry)
	}
	return out, s.head, nil
}
