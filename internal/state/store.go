// Package state persists the sync checkpoint: the last-run watermark,
// the set of already-sent orders, and the cached Shopify access token.
//
// The file is a single JSON document rewritten in full on every mutation
// via write-to-temp + exclusive lock + atomic rename, so a crash leaves
// either the old or the new state on disk, never a torn write. The lock
// does not make concurrent processes safe; operators must run a single
// instance per state file.
package state

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const firstRunWindow = 30 * time.Minute

// SentRecord marks one order as delivered to Netvisor. Presence of the
// record is the sole idempotency guard; NetvisorKey may be empty when
// the response carried no key.
type SentRecord struct {
	SentAt      string `json:"sentAt"`
	NetvisorKey string `json:"netvisorKey"`
}

type shopifyCredential struct {
	AccessToken string `json:"access_token,omitempty"`
	ExpiresAt   int64  `json:"expires_at,omitempty"`
}

type persistedState struct {
	LastRunISO string                `json:"lastRunIso,omitempty"`
	Sent       map[string]SentRecord `json:"sent"`
	Shopify    shopifyCredential     `json:"shopify"`
}

// Store owns the checkpoint file. Not safe for concurrent use.
type Store struct {
	path  string
	state persistedState

	now func() time.Time
}

// New loads the checkpoint at path. A missing or corrupt file starts
// from an empty default state; construction never fails the process.
func New(path string) *Store {
	s := &Store{path: path, now: time.Now}
	s.state = s.load()
	if s.state.Sent == nil {
		s.state.Sent = make(map[string]SentRecord)
	}
	return s
}

// LastRunISO returns the persisted watermark, or now-30m on first run.
func (s *Store) LastRunISO() string {
	if s.state.LastRunISO != "" {
		return s.state.LastRunISO
	}
	return s.now().UTC().Add(-firstRunWindow).Format(time.RFC3339)
}

// SetLastRunISO overwrites the watermark and persists synchronously.
func (s *Store) SetLastRunISO(iso string) {
	s.state.LastRunISO = iso
	s.save()
}

// WasSent reports whether the order was already delivered in this or a
// prior run.
func (s *Store) WasSent(orderID string) bool {
	_, ok := s.state.Sent[orderID]
	return ok
}

// MarkSent records a successful delivery and persists before returning.
func (s *Store) MarkSent(orderID, netvisorKey string) {
	s.state.Sent[orderID] = SentRecord{
		SentAt:      s.now().UTC().Format(time.RFC3339),
		NetvisorKey: netvisorKey,
	}
	s.save()
}

// AccessToken returns the cached Shopify token and its expiry epoch.
// ok is false when no token is cached.
func (s *Store) AccessToken() (token string, expiresAt int64, ok bool) {
	if s.state.Shopify.AccessToken == "" {
		return "", 0, false
	}
	return s.state.Shopify.AccessToken, s.state.Shopify.ExpiresAt, true
}

// SetAccessToken caches a fetched token and persists synchronously.
func (s *Store) SetAccessToken(token string, expiresAt int64) {
	s.state.Shopify = shopifyCredential{AccessToken: token, ExpiresAt: expiresAt}
	s.save()
}

func (s *Store) load() persistedState {
	empty := persistedState{Sent: make(map[string]SentRecord)}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return empty
	}

	var loaded persistedState
	if err := json.Unmarshal(raw, &loaded); err != nil {
		log.Printf("State file %s is not valid JSON, starting from empty state: %v", s.path, err)
		return empty
	}
	return loaded
}

// save rewrites the whole state file atomically. On any failure the
// write is logged and dropped; the in-memory state stays authoritative
// for the rest of the process.
func (s *Store) save() {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Printf("Failed to create state directory %s: %v", dir, err)
			return
		}
	}

	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		log.Printf("Failed to serialize state: %v", err)
		return
	}

	tmp := s.path + ".tmp"
	lock := flock.New(tmp)
	locked, err := lock.TryLock()
	if err != nil || !locked {
		log.Printf("Failed to acquire lock on temp state file %s: %v", tmp, err)
		return
	}
	defer lock.Unlock()

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		log.Printf("Failed to open temp state file %s: %v", tmp, err)
		return
	}
	if _, err := f.Write(data); err != nil {
		log.Printf("Failed to write state: %v", err)
		f.Close()
		return
	}
	if err := f.Sync(); err != nil {
		log.Printf("Failed to flush state: %v", err)
		f.Close()
		return
	}
	if err := f.Close(); err != nil {
		log.Printf("Failed to close temp state file: %v", err)
		return
	}

	if err := os.Rename(tmp, s.path); err != nil {
		log.Printf("Failed to replace state file %s: %v", s.path, err)
	}
}
