package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/quillhq/retouch/internal/revision"
	"github.com/quillhq/retouch/internal/revision/engine"
)

var (
	styleApproved = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	styleRejected = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	styleRunning  = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	styleWarn     = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801"))
	styleDim      = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	styleDetail   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	styleProposed = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50"))
	styleHint     = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA")).MarginTop(1)
)

// editTarget names what the shared textarea is currently editing.
type editTarget int

const (
	editNone editTarget = iota
	editInstruction
	editComment
)

type revisionOutcomeMsg struct {
	outcome engine.Outcome
}

// revisionDoneMsg tells the App a run finished and was acknowledged.
type revisionDoneMsg struct {
	appliedCount int
}

// revisionView hosts one engine.Controller run. Controller calls are
// executed as commands; their outcomes come back as revisionOutcomeMsg.
type revisionView struct {
	app  *App
	ctrl *engine.Controller

	spinner spinner.Model
	answer  textinput.Model
	text    textarea.Model
	editing editTarget

	qIndex int // question cursor
	cursor int // selection and review cursor

	width  int
	height int
}

func newRevisionView(app *App, ctrl *engine.Controller) *revisionView {
	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	answer := textinput.New()
	answer.CharLimit = 500
	text := textarea.New()
	text.CharLimit = 0
	text.SetHeight(6)
	return &revisionView{
		app:     app,
		ctrl:    ctrl,
		spinner: sp,
		answer:  answer,
		text:    text,
	}
}

func runCall(call *engine.Call) tea.Cmd {
	if call == nil {
		return nil
	}
	return func() tea.Msg {
		return revisionOutcomeMsg{outcome: call.Run(context.Background())}
	}
}

func (v *revisionView) Init() tea.Cmd {
	call, err := v.ctrl.Start()
	if err != nil {
		v.setStatus(fmt.Sprintf("Cannot start run: %v", err))
		return nil
	}
	v.syncPhase()
	if call != nil {
		return tea.Batch(runCall(call), v.spinner.Tick)
	}
	return nil
}

func (v *revisionView) Update(msg tea.Msg) tea.Cmd {
	switch m := msg.(type) {
	case tea.WindowSizeMsg:
		v.width = m.Width
		v.height = m.Height
		v.answer.Width = max(20, m.Width-12)
		v.text.SetWidth(max(20, m.Width-12))
		return nil
	case spinner.TickMsg:
		if !v.ctrl.Phase().InFlight() {
			return nil
		}
		var cmd tea.Cmd
		v.spinner, cmd = v.spinner.Update(m)
		return cmd
	case revisionOutcomeMsg:
		v.ctrl.Resolve(m.outcome)
		v.syncPhase()
		return nil
	case tea.KeyMsg:
		return v.handleKey(m)
	default:
		return nil
	}
}

// HandleBack is called by the App on esc. It reports whether the run is
// over and the App should return to the menu.
func (v *revisionView) HandleBack() (bool, tea.Cmd) {
	if v.editing != editNone {
		v.closeEditor()
		return false, nil
	}
	call, err := v.ctrl.Back()
	if err != nil {
		return false, nil
	}
	v.syncPhase()
	if v.ctrl.Phase() == engine.PhaseIdle {
		return true, nil
	}
	if call != nil {
		return false, tea.Batch(runCall(call), v.spinner.Tick)
	}
	return false, nil
}

// syncPhase re-seeds the interactive components after a phase change.
func (v *revisionView) syncPhase() {
	switch v.ctrl.Phase() {
	case engine.PhaseQuestions:
		v.qIndex = 0
		v.seedAnswerInput()
	case engine.PhaseSelecting:
		v.cursor = 0
	case engine.PhaseInstructing:
		if strat, ok := v.ctrl.Instruction(); ok {
			v.openEditor(editInstruction, strat.Instruction())
		}
	case engine.PhaseReview:
		v.cursor = 0
		v.closeEditor()
	}
}

func (v *revisionView) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch v.ctrl.Phase() {
	case engine.PhaseQuestions:
		return v.handleQuestionKey(msg)
	case engine.PhaseSelecting:
		return v.handleSelectionKey(msg)
	case engine.PhaseInstructing:
		return v.handleInstructionKey(msg)
	case engine.PhaseReview:
		return v.handleReviewKey(msg)
	case engine.PhaseComplete:
		if msg.String() == "enter" {
			applied := v.ctrl.AppliedCount()
			return func() tea.Msg { return revisionDoneMsg{appliedCount: applied} }
		}
	}
	return nil
}

func (v *revisionView) handleQuestionKey(msg tea.KeyMsg) tea.Cmd {
	strat, ok := v.ctrl.QA()
	if !ok {
		return nil
	}
	questions := strat.Questions()
	if len(questions) == 0 {
		return nil
	}
	switch msg.String() {
	case "up", "shift+tab":
		if v.qIndex > 0 {
			v.qIndex--
			v.seedAnswerInput()
		}
		return nil
	case "down", "tab":
		if v.qIndex < len(questions)-1 {
			v.qIndex++
			v.seedAnswerInput()
		}
		return nil
	case "enter":
		if v.qIndex < len(questions)-1 {
			v.qIndex++
			v.seedAnswerInput()
			return nil
		}
		return v.submitContext()
	case "ctrl+s":
		return v.submitContext()
	}
	var cmd tea.Cmd
	v.answer, cmd = v.answer.Update(msg)
	if err := v.ctrl.SetAnswer(questions[v.qIndex].ID, v.answer.Value()); err != nil {
		v.setStatus(err.Error())
	}
	return cmd
}

func (v *revisionView) seedAnswerInput() {
	strat, ok := v.ctrl.QA()
	if !ok {
		return
	}
	questions := strat.Questions()
	if v.qIndex >= len(questions) {
		return
	}
	q := questions[v.qIndex]
	v.answer.SetValue(strat.Answer(q.ID))
	v.answer.Placeholder = q.Placeholder
	v.answer.CursorEnd()
	v.answer.Focus()
}

func (v *revisionView) handleSelectionKey(msg tea.KeyMsg) tea.Cmd {
	items := v.ctrl.Items()
	switch msg.String() {
	case "up", "k":
		if v.cursor > 0 {
			v.cursor--
		}
	case "down", "j":
		if v.cursor < len(items)-1 {
			v.cursor++
		}
	case " ":
		if v.cursor < len(items) {
			if err := v.ctrl.ToggleItemSelection(items[v.cursor].ID); err != nil {
				v.setStatus(err.Error())
			}
		}
	case "a":
		if err := v.ctrl.SelectAllItems(); err != nil {
			v.setStatus(err.Error())
		}
	case "n":
		if err := v.ctrl.DeselectAllItems(); err != nil {
			v.setStatus(err.Error())
		}
	case "enter":
		if err := v.ctrl.ContinueSelection(); err != nil {
			v.setStatus(err.Error())
			return nil
		}
		v.syncPhase()
	}
	return nil
}

func (v *revisionView) handleInstructionKey(msg tea.KeyMsg) tea.Cmd {
	if msg.String() == "ctrl+s" {
		return v.submitContext()
	}
	var cmd tea.Cmd
	v.text, cmd = v.text.Update(msg)
	if err := v.ctrl.SetInstruction(v.text.Value()); err != nil {
		v.setStatus(err.Error())
	}
	return cmd
}

func (v *revisionView) handleReviewKey(msg tea.KeyMsg) tea.Cmd {
	patches := v.ctrl.Patches()
	if v.editing == editComment {
		if msg.String() == "ctrl+s" {
			if v.cursor < len(patches) {
				if err := v.ctrl.SetPatchComment(patches[v.cursor].ItemID, strings.TrimSpace(v.text.Value())); err != nil {
					v.setStatus(err.Error())
				}
			}
			v.closeEditor()
			return nil
		}
		var cmd tea.Cmd
		v.text, cmd = v.text.Update(msg)
		return cmd
	}
	switch msg.String() {
	case "up", "k":
		if v.cursor > 0 {
			v.cursor--
		}
	case "down", "j":
		if v.cursor < len(patches)-1 {
			v.cursor++
		}
	case "a":
		v.setPatchStatus(patches, revision.StatusApproved)
	case "r":
		v.setPatchStatus(patches, revision.StatusRejected)
	case "c":
		if v.cursor < len(patches) {
			review := v.ctrl.Reviews()[patches[v.cursor].ItemID]
			v.openEditor(editComment, review.Comment)
		}
	case "A":
		if err := v.ctrl.ApproveAll(); err != nil {
			v.setStatus(err.Error())
		}
	case "f":
		call, err := v.ctrl.RefineRejected()
		if err != nil {
			v.setStatus(err.Error())
			return nil
		}
		return tea.Batch(runCall(call), v.spinner.Tick)
	case "enter":
		call, err := v.ctrl.Apply()
		if err != nil {
			v.setStatus(err.Error())
			return nil
		}
		return tea.Batch(runCall(call), v.spinner.Tick)
	}
	return nil
}

func (v *revisionView) setPatchStatus(patches []revision.Patch, status revision.ReviewStatus) {
	if v.cursor >= len(patches) {
		return
	}
	if err := v.ctrl.SetPatchStatus(patches[v.cursor].ItemID, status); err != nil {
		v.setStatus(err.Error())
	}
}

func (v *revisionView) submitContext() tea.Cmd {
	call, err := v.ctrl.SubmitContext()
	if err != nil {
		v.setStatus(err.Error())
		return nil
	}
	v.closeEditor()
	return tea.Batch(runCall(call), v.spinner.Tick)
}

func (v *revisionView) openEditor(target editTarget, value string) {
	v.editing = target
	v.text.SetValue(value)
	v.text.CursorEnd()
	v.text.Focus()
}

func (v *revisionView) closeEditor() {
	v.editing = editNone
	v.text.Blur()
}

func (v *revisionView) setStatus(message string) {
	message = strings.TrimSpace(message)
	if message == "" {
		return
	}
	v.app.statusMsg = message
}

func (v *revisionView) View() string {
	switch v.ctrl.Phase() {
	case engine.PhaseAnalyzing:
		return v.renderWait("Analyzing résumé for weak items...")
	case engine.PhaseQuestions:
		return v.renderQuestions()
	case engine.PhaseSelecting:
		return v.renderSelection()
	case engine.PhaseInstructing:
		return v.renderInstruction()
	case engine.PhaseGenerating:
		return v.renderWait("Generating rewrites...")
	case engine.PhaseReview:
		return v.renderReview()
	case engine.PhaseApplying:
		return v.renderWait("Applying approved revisions...")
	case engine.PhaseComplete:
		done := fmt.Sprintf("Applied %d revision(s) to %s", v.ctrl.AppliedCount(), v.app.config.ResumeFile())
		return lipgloss.JoinVertical(lipgloss.Left,
			styleApproved.Render(done),
			styleHint.Render("enter=back to menu"),
		)
	case engine.PhaseError:
		return lipgloss.JoinVertical(lipgloss.Left,
			styleRejected.Render(fmt.Sprintf("✗ %s", v.ctrl.FailureMessage())),
			styleHint.Render("esc=go back"),
		)
	}
	return ""
}

func (v *revisionView) renderWait(message string) string {
	return lipgloss.JoinVertical(lipgloss.Left,
		fmt.Sprintf("%s %s", v.spinner.View(), styleRunning.Render(message)),
		styleHint.Render("esc=cancel"),
	)
}

func (v *revisionView) renderQuestions() string {
	strat, ok := v.ctrl.QA()
	if !ok {
		return ""
	}
	questions := strat.Questions()
	lines := []string{styleRunning.Render("Answer the clarifying questions"), ""}
	for i, q := range questions {
		indicator := " "
		if i == v.qIndex {
			indicator = ">"
		}
		mark := "·"
		if strings.TrimSpace(strat.Answer(q.ID)) != "" {
			mark = styleApproved.Render("✓")
		}
		item, _ := v.ctrl.Item(q.ItemID)
		lines = append(lines, fmt.Sprintf("%s %s %s", indicator, mark, itemHeading(item)))
		if reason := strat.WeaknessReason(q.ItemID); reason != "" {
			lines = append(lines, styleDim.Render("    "+reason))
		}
		lines = append(lines, styleDetail.Render("    "+q.Prompt))
		if i == v.qIndex {
			lines = append(lines, "    "+v.answer.View())
		} else if answer := strings.TrimSpace(strat.Answer(q.ID)); answer != "" {
			lines = append(lines, styleDim.Render("    ↳ "+answer))
		}
		lines = append(lines, "")
	}
	hint := "tab/enter=next question  esc=cancel"
	if v.ctrl.CanSubmitContext() {
		hint = "ctrl+s=generate rewrites  " + hint
	}
	lines = append(lines, styleHint.Render(hint))
	return strings.Join(lines, "\n")
}

func (v *revisionView) renderSelection() string {
	strat, ok := v.ctrl.Instruction()
	if !ok {
		return ""
	}
	items := v.ctrl.Items()
	lines := []string{styleRunning.Render("Select the items to regenerate"), ""}
	for i, item := range items {
		indicator := " "
		if i == v.cursor {
			indicator = ">"
		}
		box := "[ ]"
		if strat.Selected(item.ID) {
			box = styleApproved.Render("[x]")
		}
		line := fmt.Sprintf("%s %s %s", indicator, box, itemHeading(item))
		if !strat.Selectable(item.ID) {
			line = styleDim.Render(line)
		}
		lines = append(lines, line)
	}
	lines = append(lines, "", styleDetail.Render(fmt.Sprintf("%d selected", strat.SelectedCount())))
	lines = append(lines, styleHint.Render("space=toggle  a=all  n=none  enter=continue  esc=cancel"))
	return strings.Join(lines, "\n")
}

func (v *revisionView) renderInstruction() string {
	strat, ok := v.ctrl.Instruction()
	if !ok {
		return ""
	}
	remaining := strat.InstructionRemaining()
	counter := fmt.Sprintf("%d characters left", remaining)
	counterStyle := styleDim
	if remaining < 0 {
		counter = fmt.Sprintf("%d characters over the limit", -remaining)
		counterStyle = styleWarn
	}
	lines := []string{
		styleRunning.Render(fmt.Sprintf("Instruction for %d item(s)", strat.SelectedCount())),
		"",
		v.text.View(),
		counterStyle.Render(counter),
	}
	hint := "esc=cancel"
	if v.ctrl.CanSubmitContext() {
		hint = "ctrl+s=generate rewrites  " + hint
	}
	lines = append(lines, styleHint.Render(hint))
	return strings.Join(lines, "\n")
}

func (v *revisionView) renderReview() string {
	patches := v.ctrl.Patches()
	reviews := v.ctrl.Reviews()
	counts := v.ctrl.Counts()
	header := fmt.Sprintf("Review %d proposed rewrite(s) · %d approved", len(patches), counts.Approved)
	lines := []string{styleRunning.Render(header), ""}
	for i, patch := range patches {
		indicator := " "
		if i == v.cursor {
			indicator = ">"
		}
		review := reviews[patch.ItemID]
		label := styleApproved.Render("approved")
		if review.Status == revision.StatusRejected {
			label = styleRejected.Render("rejected")
		}
		lines = append(lines, fmt.Sprintf("%s %s · %s", indicator, patchHeading(patch), label))
		if i == v.cursor {
			lines = append(lines, v.renderPatchDetails(patch, review)...)
		}
		lines = append(lines, "")
	}
	if errs := v.ctrl.ItemErrors(); len(errs) > 0 {
		lines = append(lines, styleWarn.Render(fmt.Sprintf("%d item(s) could not be rewritten:", len(errs))))
		for _, e := range errs {
			lines = append(lines, styleWarn.Render(fmt.Sprintf("  %s: %s", e.ItemID, e.Message)))
		}
		lines = append(lines, "")
	}
	if v.editing == editComment {
		lines = append(lines,
			styleDetail.Render("Why is this rejected? The comment guides the next attempt."),
			v.text.View(),
			styleHint.Render("ctrl+s=save comment  esc=discard"),
		)
		return strings.Join(lines, "\n")
	}
	var hints []string
	hints = append(hints, "a=approve  r=reject  c=comment  A=approve all")
	if v.ctrl.CanRefine() {
		hints = append(hints, "f=refine rejected")
	}
	if v.ctrl.CanApply() {
		hints = append(hints, "enter=apply approved")
	}
	hints = append(hints, "esc=cancel")
	lines = append(lines, styleHint.Render(strings.Join(hints, "  ")))
	return strings.Join(lines, "\n")
}

func (v *revisionView) renderPatchDetails(patch revision.Patch, review revision.PatchReview) []string {
	var lines []string
	lines = append(lines, styleDim.Render("    before:"))
	for _, bullet := range patch.OriginalContent {
		lines = append(lines, styleDim.Render("    - "+bullet))
	}
	lines = append(lines, styleProposed.Render("    after:"))
	for _, bullet := range patch.ProposedContent {
		lines = append(lines, styleProposed.Render("    - "+bullet))
	}
	if patch.Summary != "" {
		lines = append(lines, styleDetail.Render("    "+patch.Summary))
	}
	if strings.TrimSpace(review.Comment) != "" {
		lines = append(lines, styleWarn.Render("    comment: "+review.Comment))
	}
	return lines
}

func itemHeading(item revision.Item) string {
	if item.Subtitle != "" {
		return fmt.Sprintf("%s — %s", item.Title, item.Subtitle)
	}
	if item.Title != "" {
		return item.Title
	}
	return item.ID
}

func patchHeading(patch revision.Patch) string {
	if patch.Subtitle != "" {
		return fmt.Sprintf("%s — %s", patch.Title, patch.Subtitle)
	}
	if patch.Title != "" {
		return patch.Title
	}
	return patch.ItemID
}
