package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const draftSaveInterval = 3 * time.Second

type editorClosedMsg struct {
	status string
}

type draftSaveTickMsg struct{}

// editView is the free-form editor over the raw résumé file. Unsaved edits
// are snapshotted to the draft store so a crash or closed terminal does not
// lose them; saving writes the file and clears the draft.
type editView struct {
	app        *App
	documentID string
	serverCopy []byte

	text     textarea.Model
	dirty    bool
	restored bool
	notice   string
}

func newEditView(app *App) (*editView, error) {
	documentID := app.config.ResumeFile()
	raw, err := app.store.Raw(documentID)
	if err != nil {
		return nil, err
	}
	content := raw
	restored := false
	if draftContent, ok, err := app.drafts.Load(documentID, raw); err == nil && ok {
		content = draftContent
		restored = true
	}
	text := textarea.New()
	text.CharLimit = 0
	text.SetHeight(20)
	text.SetValue(string(content))
	text.Focus()
	view := &editView{
		app:        app,
		documentID: documentID,
		serverCopy: raw,
		text:       text,
		dirty:      restored,
		restored:   restored,
	}
	if restored {
		view.notice = "Restored an unsaved draft"
		app.logInfo("editor: restored draft for %s", documentID)
	}
	return view, nil
}

func (v *editView) Init() tea.Cmd {
	return v.scheduleDraftSave()
}

func (v *editView) scheduleDraftSave() tea.Cmd {
	return tea.Tick(draftSaveInterval, func(time.Time) tea.Msg {
		return draftSaveTickMsg{}
	})
}

func (v *editView) Update(msg tea.Msg) tea.Cmd {
	switch m := msg.(type) {
	case tea.WindowSizeMsg:
		v.text.SetWidth(max(20, m.Width-8))
		v.text.SetHeight(max(8, m.Height-12))
		return nil
	case draftSaveTickMsg:
		v.snapshotDraft()
		return v.scheduleDraftSave()
	case tea.KeyMsg:
		switch m.String() {
		case "ctrl+s":
			return v.saveFile()
		case "esc":
			v.snapshotDraft()
			status := ""
			if v.dirty {
				status = "Unsaved edits kept as a draft"
			}
			return func() tea.Msg { return editorClosedMsg{status: status} }
		}
		var cmd tea.Cmd
		before := v.text.Value()
		v.text, cmd = v.text.Update(m)
		if v.text.Value() != before {
			v.dirty = true
			v.notice = ""
		}
		return cmd
	default:
		return nil
	}
}

func (v *editView) snapshotDraft() {
	if !v.dirty {
		return
	}
	if err := v.app.drafts.Save(v.documentID, []byte(v.text.Value()), v.serverCopy); err != nil {
		v.app.logError("draft save failed", "document", v.documentID, "err", err)
	}
}

func (v *editView) saveFile() tea.Cmd {
	content := []byte(v.text.Value())
	if err := v.app.store.SaveRaw(v.documentID, content); err != nil {
		v.notice = fmt.Sprintf("Save failed: %v", err)
		v.app.logError("editor save failed", "document", v.documentID, "err", err)
		return nil
	}
	v.serverCopy = content
	v.dirty = false
	if err := v.app.drafts.Clear(v.documentID); err != nil {
		v.app.logError("draft clear failed", "document", v.documentID, "err", err)
	}
	v.notice = fmt.Sprintf("Saved %s", v.documentID)
	v.app.logInfo("editor: saved %s (%d bytes)", v.documentID, len(content))
	return nil
}

func (v *editView) View() string {
	title := fmt.Sprintf("Editing %s", v.documentID)
	if v.dirty {
		title += " · unsaved"
	}
	lines := []string{
		styleRunning.Render(title),
		"",
		v.text.View(),
	}
	if strings.TrimSpace(v.notice) != "" {
		lines = append(lines, styleWarn.Render(v.notice))
	}
	lines = append(lines, styleHint.Render("ctrl+s=save  esc=back (edits kept as draft)"))
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
