// Package history persists a small append-only record of completed
// revision runs so the user can see what was applied, and when, after the
// fact.
package history

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Book writes one line per completed run to a plain text file.
type Book struct {
	path string
	mu   sync.Mutex
}

// New creates a history book that writes to the provided path.
func New(path string) (*Book, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &Book{path: path}, nil
}

// Path returns the file backing this book.
func (b *Book) Path() string {
	if b == nil {
		return ""
	}
	return b.path
}

// Record appends one completed-run entry.
func (b *Book) Record(mode, runID string, appliedCount int) {
	b.append(fmt.Sprintf("%s run %s applied %d patches", mode, runID, appliedCount))
}

func (b *Book) append(message string) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	line := fmt.Sprintf("%s %s\n",
		time.Now().UTC().Format(time.RFC3339),
		strings.TrimSpace(message),
	)
	file, err := os.OpenFile(b.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer file.Close()
	_, _ = file.WriteString(line)
}

// Tail returns up to maxLines of the most recent entries and the total
// number of entries on disk.
func (b *Book) Tail(maxLines int) ([]string, int) {
	if b == nil || maxLines <= 0 {
		return nil, 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	file, err := os.Open(b.path)
	if err != nil {
		return nil, 0
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	total := len(lines)
	if total == 0 {
		return nil, 0
	}
	if total > maxLines {
		lines = lines[total-maxLines:]
	}
	return lines, total
}
