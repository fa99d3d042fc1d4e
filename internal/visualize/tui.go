package visualize

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type TUIOptions struct {
	Dark  bool
	IsTTY func() bool
}

type theme struct {
	title  lipgloss.Style
	meta   lipgloss.Style
	pane   lipgloss.Style
	header lipgloss.Style
	help   lipgloss.Style
}

func newTheme(dark bool) theme {
	fg, muted, border := lipgloss.Color("235"), lipgloss.Color("244"), lipgloss.Color("250")
	if dark {
		fg, muted, border = lipgloss.Color("252"), lipgloss.Color("245"), lipgloss.Color("238")
	}
	return theme{
		title:  lipgloss.NewStyle().Bold(true).Foreground(fg),
		meta:   lipgloss.NewStyle().Foreground(muted),
		pane:   lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(border).Padding(0, 1),
		header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		help:   lipgloss.NewStyle().Foreground(muted).Italic(true),
	}
}

// Model browses the events of a report: an event list on the left and the
// window and action trees of the selected event on the right.
type Model struct {
	report *Report

	events   list.Model
	detail   viewport.Model
	dark     bool
	theme    theme
	selected int
	width    int
	height   int
}

func RunTUI(report *Report, opts TUIOptions) error {
	if opts.IsTTY != nil && !opts.IsTTY() {
		return fmt.Errorf("visualize: terminal browser requires a tty; use `adapt visualize serve`")
	}
	_, err := tea.NewProgram(NewModel(report, opts), tea.WithAltScreen()).Run()
	return err
}

func NewModel(report *Report, opts TUIOptions) Model {
	items := make([]list.Item, 0, len(report.Events))
	for _, event := range report.Events {
		items = append(items, eventItem{view: event})
	}

	delegate := list.NewDefaultDelegate()
	events := list.New(items, delegate, 0, 0)
	events.Title = "Events"
	events.SetShowStatusBar(false)
	events.SetFilteringEnabled(true)
	events.SetShowHelp(false)
	events.SetSize(36, 20)

	m := Model{
		report:   report,
		events:   events,
		detail:   viewport.New(60, 20),
		dark:     opts.Dark,
		theme:    newTheme(opts.Dark),
		selected: -1,
		width:    100,
		height:   24,
	}
	m.refreshDetail()
	return m
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch typed := msg.(type) {
	case tea.KeyMsg:
		if m.events.FilterState() != list.Filtering {
			switch typed.String() {
			case "ctrl+c", "q":
				return m, tea.Quit
			case "t":
				m.dark = !m.dark
				m.theme = newTheme(m.dark)
				return m, nil
			case "pgup", "pgdown", "ctrl+u", "ctrl+d":
				var cmd tea.Cmd
				m.detail, cmd = m.detail.Update(msg)
				return m, cmd
			}
		}
	case tea.WindowSizeMsg:
		m.resize(typed.Width, typed.Height)
	}

	var cmd tea.Cmd
	m.events, cmd = m.events.Update(msg)
	cmds = append(cmds, cmd)
	m.refreshDetail()
	return m, tea.Batch(cmds...)
}

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height
	bodyHeight := height - 5
	if bodyHeight < 1 {
		bodyHeight = 1
	}
	listWidth := width / 3
	if listWidth < 20 {
		listWidth = 20
	}
	detailWidth := width - listWidth - 4
	if detailWidth < 20 {
		detailWidth = 20
	}
	m.events.SetSize(listWidth, bodyHeight)
	m.detail.Width = detailWidth
	m.detail.Height = bodyHeight
}

// refreshDetail re-renders the detail pane when the selection moved.
func (m *Model) refreshDetail() {
	item, ok := m.events.SelectedItem().(eventItem)
	if !ok {
		m.selected = -1
		m.detail.SetContent("No events in this recording.")
		return
	}
	if item.view.Index == m.selected {
		return
	}
	m.selected = item.view.Index
	m.detail.SetContent(renderEventDetail(item.view))
	m.detail.GotoTop()
}

func renderEventDetail(event EventView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "event %d: %s\n", event.Index, event.Name)
	if event.HasImage {
		fmt.Fprintf(&b, "screenshot %dx%d (see the HTML report)\n", event.Width, event.Height)
	}
	b.WriteString("\nwindow_event_dict:\n")
	b.WriteString(RenderTree(event.WindowTree))
	b.WriteString("\naction_event_dict:\n")
	b.WriteString(RenderTree(event.ActionTree))
	return b.String()
}

func (m Model) View() string {
	header := m.theme.title.Render(m.report.Title)
	if m.report.TaskDescription != "" {
		header += "  " + m.theme.meta.Render(m.report.TaskDescription)
	}
	meta := m.theme.meta.Render(metaSummary(m.report))

	body := lipgloss.JoinHorizontal(lipgloss.Top,
		m.theme.pane.Render(m.events.View()),
		m.theme.pane.Render(m.theme.header.Render("window_event_dict | action_event_dict")+"\n"+m.detail.View()),
	)
	help := m.theme.help.Render("[↑/↓] select  [/] filter  [pgup/pgdown] scroll  [t] dark mode  [q] quit")
	return header + "\n" + meta + "\n" + body + "\n" + help
}

func metaSummary(report *Report) string {
	parts := make([]string, 0, len(report.Meta))
	for _, f := range report.Meta {
		parts = append(parts, f.Key+"="+formatScalar(f.Value))
	}
	if len(report.Events) < report.TotalEvents {
		parts = append(parts, fmt.Sprintf("showing=%d/%d", len(report.Events), report.TotalEvents))
	}
	return strings.Join(parts, "  ")
}

type eventItem struct {
	view EventView
}

func (i eventItem) Title() string { return fmt.Sprintf("%d %s", i.view.Index, i.view.Name) }
func (i eventItem) Description() string {
	desc := fmt.Sprintf("t=%.3f", i.view.Timestamp)
	if i.view.HasImage {
		desc += "  screenshot"
	}
	return desc
}
func (i eventItem) FilterValue() string { return i.view.Name }
