// Package tui is the terminal funnel builder. It drives a session's edit
// store from the bubbletea update loop and saves in the background.
package tui

import (
	"fmt"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pluqqy/funnelkit/pkg/builder"
	"github.com/pluqqy/funnelkit/pkg/models"
	"github.com/pluqqy/funnelkit/pkg/session"
)

type column int

const (
	stepsColumn column = iota
	componentsColumn
)

type mode int

const (
	browseMode mode = iota
	renameMode      // editing the current step's title
	editMode        // editing the selected component's primary text
	moveMode        // a grabbed component is waiting for a drop
)

// BuilderModel is the funnel builder screen.
type BuilderModel struct {
	session  *session.Session
	store    *builder.Store
	drag     *builder.DragCoordinator
	settings *models.Settings

	width  int
	height int

	active     column
	mode       mode
	input      textinput.Model
	editField  string // JSON key being edited in editMode
	palette    int    // index into models.ComponentTypes
	moveTarget int    // index in the current step while in moveMode

	spinner       spinner.Model
	autosaveToken int
	saveQueued    bool
	quitting      bool
	discardArmed  bool

	statusMsg string
	statusErr bool

	copyText func(string) error
}

type saveResultMsg struct {
	result session.SaveResult
}

type autosaveMsg struct {
	token int
}

// NewBuilderModel returns a builder over sess. settings may be nil.
func NewBuilderModel(sess *session.Session, settings *models.Settings) *BuilderModel {
	if settings == nil {
		settings = models.DefaultSettings()
	}

	ti := textinput.New()
	ti.CharLimit = 500
	ti.Width = 50

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorActive))

	return &BuilderModel{
		session:  sess,
		store:    sess.Store(),
		drag:     builder.NewDragCoordinator(sess.Store()),
		settings: settings,
		input:    ti,
		spinner:  s,
		copyText: clipboard.WriteAll,
	}
}

func (m *BuilderModel) Init() tea.Cmd {
	if m.session.Dirty() && m.settings.Save.Autosave {
		return m.scheduleAutosave()
	}
	return nil
}

// SetSize sets the screen size.
func (m *BuilderModel) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.input.Width = max(width-10, 10)
}

func (m *BuilderModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.SetSize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		return m, m.handleKey(msg)

	case saveResultMsg:
		return m, m.handleSaveResult(msg.result)

	case autosaveMsg:
		if msg.token != m.autosaveToken || !m.session.Dirty() {
			return m, nil
		}
		return m, m.requestSave()

	case spinner.TickMsg:
		if !m.session.Saving() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *BuilderModel) setStatus(format string, args ...any) {
	m.statusMsg = fmt.Sprintf(format, args...)
	m.statusErr = false
}

func (m *BuilderModel) setError(format string, args ...any) {
	m.statusMsg = "× " + fmt.Sprintf(format, args...)
	m.statusErr = true
}
