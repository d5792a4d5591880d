// internal/tui/app.go
//
// This is the main TUI for retouch. It uses bubbletea, which follows The
// Elm Architecture:
//
// 1. Model: Your application state
// 2. Update: A function that updates state based on messages
// 3. View: A function that renders state to a string
//
// The flow is: User Input -> Message -> Update -> New Model -> View -> Screen

package tui

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/quillhq/retouch/internal/config"
	"github.com/quillhq/retouch/internal/draft"
	"github.com/quillhq/retouch/internal/generate"
	"github.com/quillhq/retouch/internal/history"
	"github.com/quillhq/retouch/internal/logging"
	"github.com/quillhq/retouch/internal/resume"
	"github.com/quillhq/retouch/internal/revision"
	"github.com/quillhq/retouch/internal/revision/engine"
)

// appState represents which "screen" we're on
type appState int

const (
	stateMainMenu appState = iota // Main menu with the two revision modes
	stateRevise                   // Running a revision workflow
	stateEdit                     // Free-form résumé editor
	stateHistory                  // Past applied runs
)

// AdapterFactory builds the generation backend for a revision run.
type AdapterFactory func(cfg *config.Config) (revision.Adapter, error)

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// WithAdapterFactory overrides the generation backend used by revision runs.
func WithAdapterFactory(factory AdapterFactory) AppOption {
	return func(a *App) {
		if factory != nil {
			a.adapterFactory = factory
		}
	}
}

// App is the main application model. In bubbletea, this holds ALL your state.
type App struct {
	state  appState
	config *config.Config
	logger *logging.Logger
	book   *history.Book
	store  *resume.Store
	drafts *draft.Store

	adapterFactory AdapterFactory
	revisionView   *revisionView
	editView       *editView

	// UI components
	mainMenu  list.Model
	statusMsg string

	// Window size (we get this from bubbletea)
	width  int
	height int
}

// menuItem implements list.Item interface for our menu items
type menuItem struct {
	title string
	desc  string
}

func (i menuItem) Title() string       { return i.title }
func (i menuItem) Description() string { return i.desc }
func (i menuItem) FilterValue() string { return i.title }

// NewApp creates a new App instance rooted at the project directory.
func NewApp(projectDir string, opts ...AppOption) (*App, error) {
	cfg, err := config.Load(projectDir)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(projectDir)
	if err != nil {
		logger = nil
	}
	book, err := history.New(filepath.Join(cfg.LogsDir(), "history.log"))
	if err != nil {
		book = nil
	}

	mainMenu := list.New(buildMainMenu(cfg), list.NewDefaultDelegate(), 0, 0)
	mainMenu.Title = "✎ RETOUCH"
	mainMenu.SetShowStatusBar(false)
	mainMenu.SetFilteringEnabled(false)

	app := &App{
		state:          stateMainMenu,
		config:         cfg,
		logger:         logger,
		book:           book,
		store:          resume.NewStore(cfg.ProjectDir),
		drafts:         draft.NewStore(cfg.DraftsDir(), cfg.DraftExpiry()),
		adapterFactory: defaultAdapterFactory,
		mainMenu:       mainMenu,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(app)
		}
	}
	app.logInfo("Session opened · resume: %s", cfg.ResumeFile())
	_ = app.drafts.Sweep()
	return app, nil
}

func defaultAdapterFactory(cfg *config.Config) (revision.Adapter, error) {
	key, err := cfg.APIKey()
	if err != nil {
		return nil, err
	}
	return generate.NewOpenAI(generate.Settings{
		APIKey:  key,
		Model:   cfg.Model(),
		BaseURL: cfg.BaseURL(),
	})
}

func buildMainMenu(cfg *config.Config) []list.Item {
	return []list.Item{
		menuItem{
			title: "Enrich",
			desc:  "Find weak items, answer clarifying questions, review rewrites",
		},
		menuItem{
			title: "Regenerate",
			desc:  "Pick items and rewrite them from one instruction",
		},
		menuItem{
			title: "Edit",
			desc:  fmt.Sprintf("Open %s in a free-form editor", cfg.ResumeFile()),
		},
		menuItem{title: "History", desc: "Past applied revisions"},
		menuItem{title: "Exit", desc: "Quit retouch"},
	}
}

func (a *App) logInfo(format string, args ...any) {
	if a.logger == nil {
		return
	}
	a.logger.Printf(format, args...)
}

func (a *App) logError(msg string, keyvals ...any) {
	if a.logger == nil {
		return
	}
	a.logger.Error(msg, keyvals...)
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	return nil
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.mainMenu.SetSize(max(0, msg.Width-6), max(0, msg.Height-10))
		if a.state == stateRevise && a.revisionView != nil {
			return a, a.revisionView.Update(msg)
		}
		if a.state == stateEdit && a.editView != nil {
			return a, a.editView.Update(msg)
		}
		return a, nil

	case revisionDoneMsg:
		return a.returnToMainMenu(fmt.Sprintf("Applied %d revision(s)", msg.appliedCount))

	case editorClosedMsg:
		return a.returnToMainMenu(msg.status)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return a, tea.Quit
		case "q":
			if a.state == stateMainMenu {
				return a, tea.Quit
			}
			if a.state == stateHistory {
				return a.returnToMainMenu("")
			}
		case "esc":
			switch a.state {
			case stateHistory:
				return a.returnToMainMenu("")
			case stateRevise:
				if a.revisionView != nil {
					if done, cmd := a.revisionView.HandleBack(); done {
						return a.returnToMainMenu("Revision cancelled")
					} else if cmd != nil {
						return a, cmd
					}
					return a, nil
				}
			}
		case "enter":
			if a.state == stateMainMenu {
				return a.handleMainMenuSelection()
			}
		}
	}

	var cmds []tea.Cmd
	switch a.state {
	case stateMainMenu:
		var menuCmd tea.Cmd
		a.mainMenu, menuCmd = a.mainMenu.Update(msg)
		if menuCmd != nil {
			cmds = append(cmds, menuCmd)
		}
	case stateRevise:
		if a.revisionView != nil {
			if cmd := a.revisionView.Update(msg); cmd != nil {
				cmds = append(cmds, cmd)
			}
		}
	case stateEdit:
		if a.editView != nil {
			if cmd := a.editView.Update(msg); cmd != nil {
				cmds = append(cmds, cmd)
			}
		}
	}

	return a, tea.Batch(cmds...)
}

// handleMainMenuSelection processes menu item selection
func (a *App) handleMainMenuSelection() (tea.Model, tea.Cmd) {
	item, ok := a.mainMenu.SelectedItem().(menuItem)
	if !ok {
		return a, nil
	}

	switch item.title {
	case "Enrich":
		a.logInfo("Menu · Enrich selected")
		return a.startRevision(revision.ModeEnrich)

	case "Regenerate":
		a.logInfo("Menu · Regenerate selected")
		return a.startRevision(revision.ModeRegenerate)

	case "Edit":
		a.logInfo("Menu · Edit selected")
		return a.startEditor()

	case "History":
		a.state = stateHistory
		a.statusMsg = ""
		return a, nil

	case "Exit":
		a.logInfo("Menu · Exit selected")
		return a, tea.Quit
	}

	return a, nil
}

// startRevision opens a revision workflow run in the requested mode.
func (a *App) startRevision(mode revision.Mode) (tea.Model, tea.Cmd) {
	documentID := a.config.ResumeFile()
	doc, err := a.store.Load(documentID)
	if err != nil {
		a.statusMsg = fmt.Sprintf("Cannot load %s: %v", documentID, err)
		a.logError("load resume failed", "document", documentID, "err", err)
		return a, nil
	}
	items := doc.Items()
	if len(items) == 0 {
		a.statusMsg = fmt.Sprintf("%s has no revisable items", documentID)
		return a, nil
	}
	adapter, err := a.adapterFactory(a.config)
	if err != nil {
		a.statusMsg = fmt.Sprintf("Generation backend unavailable: %v", err)
		a.logError("adapter setup failed", "err", err)
		return a, nil
	}

	var strategy engine.Strategy
	switch mode {
	case revision.ModeEnrich:
		strategy = engine.NewQAStrategy(documentID)
	default:
		strategy = engine.NewInstructionStrategy(documentID, items, nil)
	}
	var ctrl *engine.Controller
	ctrl, err = engine.New(engine.Config{
		DocumentID: documentID,
		Items:      items,
		Strategy:   strategy,
		Adapter:    adapter,
		Applier:    a.store,
		OnComplete: func(applied int) {
			if a.book != nil {
				a.book.Record(string(mode), ctrl.RunID(), applied)
			}
		},
		Logf: func(format string, args ...any) { a.logInfo(format, args...) },
	})
	if err != nil {
		a.statusMsg = fmt.Sprintf("Cannot start revision: %v", err)
		return a, nil
	}

	a.state = stateRevise
	a.statusMsg = ""
	a.revisionView = newRevisionView(a, ctrl)
	return a, a.revisionView.Init()
}

// startEditor opens the free-form editor over the raw résumé file.
func (a *App) startEditor() (tea.Model, tea.Cmd) {
	view, err := newEditView(a)
	if err != nil {
		a.statusMsg = fmt.Sprintf("Cannot open editor: %v", err)
		a.logError("open editor failed", "err", err)
		return a, nil
	}
	a.state = stateEdit
	a.statusMsg = ""
	a.editView = view
	return a, view.Init()
}

// returnToMainMenu transitions back to the main menu
func (a *App) returnToMainMenu(status string) (tea.Model, tea.Cmd) {
	a.state = stateMainMenu
	a.revisionView = nil
	a.editView = nil
	a.statusMsg = status
	a.logInfo("Returned to main menu")
	return a, nil
}

// View renders the current state to a string.
func (a *App) View() string {
	width := a.width
	if width <= 0 {
		width = 100
	}
	var content string
	switch a.state {
	case stateMainMenu:
		content = a.mainMenu.View()
	case stateRevise:
		if a.revisionView != nil {
			content = a.revisionView.View()
		} else {
			content = "Preparing revision run..."
		}
	case stateEdit:
		if a.editView != nil {
			content = a.editView.View()
		}
	case stateHistory:
		content = a.renderHistory()
	}

	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		MarginBottom(1).
		Render(fmt.Sprintf("✎ RETOUCH · %s", a.config.ResumeFile()))
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Width(max(40, width-2)).
		Render(content)
	sections := []string{header, box}
	if footer := strings.TrimSpace(a.statusMsg); footer != "" {
		sections = append(sections, lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			MarginTop(1).
			Render(footer))
	}
	return strings.Join(sections, "\n")
}

func (a *App) renderHistory() string {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render("Applied revisions")
	if a.book == nil {
		return lipgloss.JoinVertical(lipgloss.Left, title, "History unavailable")
	}
	lines, total := a.book.Tail(20)
	if total == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, title, "No revisions applied yet")
	}
	body := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		Render(strings.Join(lines, "\n"))
	hint := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		MarginTop(1).
		Render(fmt.Sprintf("%d total · esc=back", total))
	return lipgloss.JoinVertical(lipgloss.Left, title, body, hint)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
