package resume

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/quillhq/retouch/internal/revision"
)

// ErrNotFound indicates the résumé file does not exist yet.
var ErrNotFound = errors.New("resume: document not found")

// Store manages résumé IO rooted at the project directory and implements
// the apply collaborator of the revision engine.
type Store struct {
	dir string
	now func() time.Time
}

// StoreOption customizes a Store during construction.
type StoreOption func(*Store)

// WithClock overrides the clock used for the updated timestamp.
func WithClock(clock func() time.Time) StoreOption {
	return func(s *Store) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewStore builds a store rooted at the given directory.
func NewStore(dir string, opts ...StoreOption) *Store {
	store := &Store{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Path resolves a document ID (a file name relative to the store root).
func (s *Store) Path(documentID string) string {
	return filepath.Join(s.dir, filepath.Clean(documentID))
}

// Load reads and parses one résumé.
func (s *Store) Load(documentID string) (Document, error) {
	data, err := os.ReadFile(s.Path(documentID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Document{}, fmt.Errorf("%w: %s", ErrNotFound, documentID)
		}
		return Document{}, fmt.Errorf("resume: read %s: %w", documentID, err)
	}
	return Parse(data)
}

// Raw returns the document's current bytes without parsing, for the draft
// autosave layer.
func (s *Store) Raw(documentID string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(documentID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, documentID)
		}
		return nil, fmt.Errorf("resume: read %s: %w", documentID, err)
	}
	return data, nil
}

// SaveRaw persists document bytes without parsing, for the free-form
// editor. The content must still carry valid frontmatter.
func (s *Store) SaveRaw(documentID string, content []byte) error {
	if _, _, err := ParseFrontMatter(content); err != nil {
		return err
	}
	path := s.Path(documentID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("resume: ensure dir for %s: %w", documentID, err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("resume: write %s: %w", documentID, err)
	}
	return nil
}

// Save renders and persists one résumé.
func (s *Store) Save(documentID string, doc Document) error {
	content, err := doc.Render()
	if err != nil {
		return err
	}
	path := s.Path(documentID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("resume: ensure dir for %s: %w", documentID, err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("resume: write %s: %w", documentID, err)
	}
	return nil
}

// Apply implements revision.Applier: it loads the current document,
// replaces the patched items' content, bumps the revision counter, and
// persists the result. Nothing is written when any patch fails to match.
func (s *Store) Apply(ctx context.Context, documentID string, approved []revision.Patch) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(approved) == 0 {
		return 0, fmt.Errorf("resume: apply called with no patches")
	}
	doc, err := s.Load(documentID)
	if err != nil {
		return 0, err
	}
	applied, err := doc.ApplyPatches(approved)
	if err != nil {
		return 0, err
	}
	doc.Meta.Revision++
	doc.Meta.Updated = s.now().UTC()
	if err := s.Save(documentID, doc); err != nil {
		return 0, err
	}
	return applied, nil
}
