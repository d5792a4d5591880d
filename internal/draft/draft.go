// Package draft persists in-progress free-form résumé edits to local disk
// so a crash or closed terminal does not lose unsaved work. It is a
// last-writer-wins snapshot layer over the document file and is entirely
// separate from the revision workflow engine, which never reads or writes
// drafts.
package draft

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Snapshot is one persisted draft.
type Snapshot struct {
	DocumentID string `json:"document_id"`
	// Baseline is the checksum of the server copy the edit session started
	// from.
	Baseline string    `json:"baseline"`
	Content  string    `json:"content"`
	SavedAt  time.Time `json:"saved_at"`
}

// Store keeps one snapshot file per document under the drafts directory.
type Store struct {
	dir    string
	expiry time.Duration
	now    func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithClock injects a deterministic clock for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewStore builds a draft store. Snapshots older than expiry are treated as
// absent and removed on sight.
func NewStore(dir string, expiry time.Duration, opts ...Option) *Store {
	store := &Store{dir: dir, expiry: expiry, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Checksum fingerprints a document body for baseline comparison.
func Checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Save persists the in-memory content when it differs from the last-known
// server copy. A content identical to the baseline clears any existing
// draft instead: there is nothing unsaved to protect.
func (s *Store) Save(documentID string, content, serverCopy []byte) error {
	if string(content) == string(serverCopy) {
		return s.Clear(documentID)
	}
	snapshot := Snapshot{
		DocumentID: documentID,
		Baseline:   Checksum(serverCopy),
		Content:    string(content),
		SavedAt:    s.now().UTC(),
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("draft: encode snapshot: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("draft: ensure dir: %w", err)
	}
	if err := os.WriteFile(s.path(documentID), data, 0o644); err != nil {
		return fmt.Errorf("draft: write snapshot: %w", err)
	}
	return nil
}

// Load returns the draft content to restore for a document, or ok=false
// when no usable draft exists. The draft is preferred over the server copy
// only while the server copy still matches the baseline the edit session
// started from. A server copy that equals the draft content means the
// edits were saved elsewhere; any other divergence from the baseline means
// the document was written after the draft was taken, and the later write
// wins. Expired snapshots are dropped.
func (s *Store) Load(documentID string, serverCopy []byte) ([]byte, bool, error) {
	data, err := os.ReadFile(s.path(documentID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("draft: read snapshot: %w", err)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, false, fmt.Errorf("draft: parse snapshot: %w", err)
	}
	if snapshot.DocumentID != documentID {
		return nil, false, fmt.Errorf("draft: snapshot belongs to %s", snapshot.DocumentID)
	}
	if s.expired(snapshot) {
		_ = s.Clear(documentID)
		return nil, false, nil
	}
	if snapshot.Content == string(serverCopy) {
		_ = s.Clear(documentID)
		return nil, false, nil
	}
	if snapshot.Baseline != Checksum(serverCopy) {
		// The document moved on after this draft was taken.
		_ = s.Clear(documentID)
		return nil, false, nil
	}
	return []byte(snapshot.Content), true, nil
}

// Clear removes any snapshot for the document.
func (s *Store) Clear(documentID string) error {
	err := os.Remove(s.path(documentID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("draft: clear snapshot: %w", err)
	}
	return nil
}

// Sweep removes every expired snapshot in the store.
func (s *Store) Sweep() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("draft: sweep: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var snapshot Snapshot
		if err := json.Unmarshal(data, &snapshot); err != nil || s.expired(snapshot) {
			_ = os.Remove(path)
		}
	}
	return nil
}

func (s *Store) expired(snapshot Snapshot) bool {
	if s.expiry <= 0 {
		return false
	}
	return s.now().Sub(snapshot.SavedAt) > s.expiry
}

func (s *Store) path(documentID string) string {
	name := strings.ReplaceAll(filepath.Clean(documentID), string(filepath.Separator), "_")
	return filepath.Join(s.dir, name+".json")
}
