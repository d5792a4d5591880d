// Package resume models the host document: a markdown résumé with YAML
// frontmatter, parsed into typed sections whose entries become the
// revisable items the workflow engine operates on. The parser models only
// section headings and bullet lines; every other body line is carried
// verbatim so a load/apply/save cycle never drops content it does not
// understand.
package resume

import (
	"fmt"
	"strings"

	"github.com/quillhq/retouch/internal/revision"
)

// Document is one parsed résumé.
type Document struct {
	Meta Metadata
	// Preamble holds the raw body lines before the first section heading
	// (a title line, a summary paragraph).
	Preamble []string
	Sections []Section
}

// Section is one `##` block of the résumé. Body holds the raw lines
// between the heading and the first entry; sections without entries (the
// skills block, typically) carry their bullets there.
type Section struct {
	Kind    revision.ItemType
	Heading string
	Body    []string
	Entries []Entry
}

// Entry is one `### Title — Subtitle` block. Body holds the raw lines of
// the block, bullet lines included.
type Entry struct {
	Title    string
	Subtitle string
	Body     []string
}

// Bullets returns the section's direct bullet contents.
func (s Section) Bullets() []string { return bulletLines(s.Body) }

// Bullets returns the entry's bullet contents.
func (e Entry) Bullets() []string { return bulletLines(e.Body) }

// sectionKinds maps section headings to item types. Unknown headings are
// kept in the document but produce no revisable items.
var sectionKinds = map[string]revision.ItemType{
	"experience":     revision.ItemExperience,
	"projects":       revision.ItemProject,
	"skills":         revision.ItemSkills,
	"publications":   revision.ItemPublication,
	"positions":      revision.ItemPosition,
	"certifications": revision.ItemCertification,
	"achievements":   revision.ItemAchievement,
	"education":      revision.ItemEducation,
}

// Parse reads a full résumé file (frontmatter plus body). Lines outside
// the heading/bullet grammar are kept in place, not rejected.
func Parse(content []byte) (Document, error) {
	meta, body, err := ParseFrontMatter(content)
	if err != nil {
		return Document{}, err
	}
	doc := Document{Meta: meta}
	var section *Section
	var entry *Entry
	for _, rawLine := range strings.Split(string(body), "\n") {
		line := strings.TrimRight(rawLine, " \t")
		switch {
		case strings.HasPrefix(line, "## "):
			heading := strings.TrimSpace(strings.TrimPrefix(line, "## "))
			doc.Sections = append(doc.Sections, Section{
				Kind:    sectionKinds[strings.ToLower(heading)],
				Heading: heading,
			})
			section = &doc.Sections[len(doc.Sections)-1]
			entry = nil
		case strings.HasPrefix(line, "### "):
			if section == nil {
				return Document{}, fmt.Errorf("resume: entry before any section: %q", line)
			}
			title, subtitle := splitEntryHeading(strings.TrimPrefix(line, "### "))
			section.Entries = append(section.Entries, Entry{Title: title, Subtitle: subtitle})
			entry = &section.Entries[len(section.Entries)-1]
		default:
			switch {
			case entry != nil:
				entry.Body = append(entry.Body, line)
			case section != nil:
				section.Body = append(section.Body, line)
			default:
				doc.Preamble = append(doc.Preamble, line)
			}
		}
	}
	return doc, nil
}

// splitEntryHeading splits "Title — Subtitle" on the first em- or
// hyphen-dash separator.
func splitEntryHeading(heading string) (string, string) {
	for _, sep := range []string{" — ", " -- ", " - "} {
		if idx := strings.Index(heading, sep); idx >= 0 {
			return strings.TrimSpace(heading[:idx]), strings.TrimSpace(heading[idx+len(sep):])
		}
	}
	return strings.TrimSpace(heading), ""
}

func isBulletLine(line string) bool {
	return strings.HasPrefix(line, "- ")
}

func bulletLines(body []string) []string {
	var bullets []string
	for _, line := range body {
		if !isBulletLine(line) {
			continue
		}
		if bullet := strings.TrimSpace(strings.TrimPrefix(line, "- ")); bullet != "" {
			bullets = append(bullets, bullet)
		}
	}
	return bullets
}

// Render writes the document back to markdown. Headings are re-rendered
// canonically; all other lines come through exactly as parsed.
func (d Document) Render() ([]byte, error) {
	var lines []string
	lines = append(lines, d.Preamble...)
	for _, section := range d.Sections {
		lines = append(lines, "## "+section.Heading)
		lines = append(lines, section.Body...)
		for _, entry := range section.Entries {
			heading := entry.Title
			if entry.Subtitle != "" {
				heading = fmt.Sprintf("%s — %s", entry.Title, entry.Subtitle)
			}
			lines = append(lines, "### "+heading)
			lines = append(lines, entry.Body...)
		}
	}
	// The fence writer supplies the blank line after the frontmatter and
	// the trailing newline comes back here, so trim the edges to keep the
	// round trip stable.
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	body := strings.Join(lines, "\n") + "\n"
	return WriteFrontMatter(d.Meta, []byte(body))
}

// Items enumerates the revisable units in document order with stable IDs
// (kind plus per-kind ordinal). Sections without entries contribute one
// item covering their direct bullets; headings without a known kind
// contribute nothing.
func (d Document) Items() []revision.Item {
	var items []revision.Item
	ordinals := map[revision.ItemType]int{}
	for _, section := range d.Sections {
		if section.Kind == "" {
			continue
		}
		if len(section.Entries) == 0 {
			bullets := section.Bullets()
			if len(bullets) == 0 {
				continue
			}
			ordinals[section.Kind]++
			items = append(items, revision.Item{
				ID:      itemID(section.Kind, ordinals[section.Kind]),
				Type:    section.Kind,
				Title:   section.Heading,
				Content: bullets,
			})
			continue
		}
		for _, entry := range section.Entries {
			ordinals[section.Kind]++
			items = append(items, revision.Item{
				ID:       itemID(section.Kind, ordinals[section.Kind]),
				Type:     section.Kind,
				Title:    entry.Title,
				Subtitle: entry.Subtitle,
				Content:  entry.Bullets(),
			})
		}
	}
	return items
}

func itemID(kind revision.ItemType, ordinal int) string {
	return fmt.Sprintf("%s-%d", kind, ordinal)
}

// replaceBullets swaps the bullet lines of a body for the proposed content
// while keeping every non-bullet line in place. The new bullets take the
// position of the first old bullet.
func replaceBullets(body []string, proposed []string) []string {
	out := make([]string, 0, len(body)+len(proposed))
	inserted := false
	for _, line := range body {
		if isBulletLine(line) {
			if !inserted {
				for _, p := range proposed {
					out = append(out, "- "+p)
				}
				inserted = true
			}
			continue
		}
		out = append(out, line)
	}
	if !inserted {
		for _, p := range proposed {
			out = append(out, "- "+p)
		}
	}
	return out
}

// ApplyPatches replaces the bullet lines of every patched item and reports
// how many patches landed. Patch IDs must match the document's current item
// enumeration. Non-bullet lines inside patched blocks are preserved.
func (d *Document) ApplyPatches(patches []revision.Patch) (int, error) {
	byID := make(map[string]revision.Patch, len(patches))
	for _, p := range patches {
		byID[p.ItemID] = p
	}
	applied := 0
	ordinals := map[revision.ItemType]int{}
	for si := range d.Sections {
		section := &d.Sections[si]
		if section.Kind == "" {
			continue
		}
		if len(section.Entries) == 0 {
			if len(section.Bullets()) == 0 {
				continue
			}
			ordinals[section.Kind]++
			if p, ok := byID[itemID(section.Kind, ordinals[section.Kind])]; ok {
				section.Body = replaceBullets(section.Body, p.ProposedContent)
				applied++
			}
			continue
		}
		for ei := range section.Entries {
			ordinals[section.Kind]++
			if p, ok := byID[itemID(section.Kind, ordinals[section.Kind])]; ok {
				section.Entries[ei].Body = replaceBullets(section.Entries[ei].Body, p.ProposedContent)
				applied++
			}
		}
	}
	if applied != len(byID) {
		return 0, fmt.Errorf("resume: %d of %d patches matched no item", len(byID)-applied, len(byID))
	}
	return applied, nil
}
