package resume

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingFrontMatter indicates the document did not start with a YAML fence.
	ErrMissingFrontMatter = errors.New("resume: missing frontmatter")
	// ErrMalformedFrontMatter indicates the YAML block could not be parsed.
	ErrMalformedFrontMatter = errors.New("resume: malformed frontmatter")
)

// Metadata is the résumé's frontmatter block: contact details plus the
// revision counter bumped on every apply.
type Metadata struct {
	Name     string
	Label    string
	Email    string
	Phone    string
	Location string
	Revision int
	Updated  time.Time
}

// ParseFrontMatter extracts the metadata block and body from a document that
// starts with `---` YAML fences.
func ParseFrontMatter(content []byte) (Metadata, []byte, error) {
	if len(content) == 0 {
		return Metadata{}, nil, ErrMissingFrontMatter
	}
	normalized := normalizeNewlines(content)
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return Metadata{}, nil, ErrMissingFrontMatter
	}
	rest := normalized[4:]
	parts := bytes.SplitN(rest, []byte("\n---\n"), 2)
	if len(parts) < 2 {
		return Metadata{}, nil, ErrMalformedFrontMatter
	}
	var envelope retouchEnvelope
	if err := yaml.Unmarshal(parts[0], &envelope); err != nil {
		return Metadata{}, nil, fmt.Errorf("resume: parse frontmatter: %w", err)
	}
	meta, err := envelope.toMetadata()
	if err != nil {
		return Metadata{}, nil, err
	}
	return meta, parts[1], nil
}

// WriteFrontMatter renders metadata + body with YAML fences.
func WriteFrontMatter(meta Metadata, body []byte) ([]byte, error) {
	if meta.Name == "" {
		return nil, fmt.Errorf("resume: metadata missing name")
	}
	envelope := retouchEnvelope{}
	envelope.fromMetadata(meta)
	data, err := yaml.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("resume: encode frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(bytes.TrimRight(data, "\n"))
	buf.WriteString("\n---\n\n")
	buf.Write(body)
	return buf.Bytes(), nil
}

type retouchEnvelope struct {
	Retouch retouchMetadata `yaml:"retouch"`
}

type retouchMetadata struct {
	Name     string `yaml:"name"`
	Label    string `yaml:"label,omitempty"`
	Email    string `yaml:"email,omitempty"`
	Phone    string `yaml:"phone,omitempty"`
	Location string `yaml:"location,omitempty"`
	Revision int    `yaml:"revision"`
	Updated  string `yaml:"updated,omitempty"`
}

func (e retouchEnvelope) toMetadata() (Metadata, error) {
	if e.Retouch.Name == "" {
		return Metadata{}, ErrMalformedFrontMatter
	}
	meta := Metadata{
		Name:     e.Retouch.Name,
		Label:    e.Retouch.Label,
		Email:    e.Retouch.Email,
		Phone:    e.Retouch.Phone,
		Location: e.Retouch.Location,
		Revision: e.Retouch.Revision,
	}
	if strings.TrimSpace(e.Retouch.Updated) != "" {
		updated, err := time.Parse(timeLayout, e.Retouch.Updated)
		if err != nil {
			return Metadata{}, fmt.Errorf("resume: parse updated timestamp: %w", err)
		}
		meta.Updated = updated.UTC()
	}
	return meta, nil
}

func (e *retouchEnvelope) fromMetadata(meta Metadata) {
	e.Retouch.Name = meta.Name
	e.Retouch.Label = meta.Label
	e.Retouch.Email = meta.Email
	e.Retouch.Phone = meta.Phone
	e.Retouch.Location = meta.Location
	e.Retouch.Revision = meta.Revision
	if !meta.Updated.IsZero() {
		e.Retouch.Updated = meta.Updated.UTC().Format(timeLayout)
	}
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

func normalizeNewlines(content []byte) []byte {
	return bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
}
