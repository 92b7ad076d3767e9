// Pilltick TUI: a terminal overlay for ringing alarms. It logs in against a
// running pilltick daemon, polls the active alarm list, and lets the user
// acknowledge, snooze, or skip from the keyboard.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

var (
	serverURL = flag.String("server", "http://localhost:8390", "Pilltick server URL")
	username  = flag.String("user", "", "Username (prompted when empty)")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	ringingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	snoozedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	selectStyle  = lipgloss.NewStyle().Background(lipgloss.Color("236"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

const helpMarkdown = `
# Keys

| Key | Action |
| --- | ------ |
| a   | mark the selected alarm taken |
| s   | snooze the selected alarm |
| x   | skip the selected dose |
| j/k, arrows | move selection |
| ?   | toggle this help |
| q   | quit |
`

type alarmView struct {
	ReminderID   string    `json:"reminder_id"`
	Slot         string    `json:"slot"`
	Name         string    `json:"name"`
	Dosage       string    `json:"dosage"`
	State        string    `json:"state"`
	RingingSince time.Time `json:"ringing_since"`
	RepeatCount  int       `json:"repeat_count"`
}

type scheduleEntry struct {
	Name   string `json:"name"`
	Dosage string `json:"dosage"`
	Slot   string `json:"slot"`
	Status string `json:"status"`
}

type client struct {
	base  string
	token string
	http  *http.Client
}

func (c *client) login(username, password string) error {
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	resp, err := c.http.Post(c.base+"/api/v1/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login failed (status %d)", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return err
	}
	c.token = out.Token
	return nil
}

func (c *client) get(path string, dst interface{}) error {
	req, err := http.NewRequest("GET", c.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d for %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func (c *client) alarmAction(action, reminderID, slot string) error {
	body, _ := json.Marshal(map[string]string{"reminder_id": reminderID, "slot": slot})
	req, err := http.NewRequest("POST", c.base+"/api/v1/alarms/"+action, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s failed (status %d)", action, resp.StatusCode)
	}
	return nil
}

// ==================== Model ====================

type screen int

const (
	screenLogin screen = iota
	screenAlarms
	screenHelp
)

type model struct {
	client *client
	screen screen

	userInput textinput.Model
	passInput textinput.Model
	focusPass bool

	alarms   []alarmView
	schedule []scheduleEntry
	cursor   int
	errMsg   string
	helpText string
}

type tickMsg time.Time
type alarmsMsg struct {
	alarms   []alarmView
	schedule []scheduleEntry
	err      error
}
type loginMsg struct{ err error }
type actionMsg struct{ err error }

func newModel(c *client) model {
	user := textinput.New()
	user.Placeholder = "username"
	user.Focus()
	if *username != "" {
		user.SetValue(*username)
	}

	pass := textinput.New()
	pass.Placeholder = "password"
	pass.EchoMode = textinput.EchoPassword

	renderer, _ := glamour.NewTermRenderer(glamour.WithAutoStyle())
	help := helpMarkdown
	if renderer != nil {
		if rendered, err := renderer.Render(helpMarkdown); err == nil {
			help = rendered
		}
	}

	return model{
		client:    c,
		screen:    screenLogin,
		userInput: user,
		passInput: pass,
		helpText:  help,
	}
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

func tick() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) fetch() tea.Cmd {
	c := m.client
	return func() tea.Msg {
		var alarms []alarmView
		if err := c.get("/api/v1/alarms", &alarms); err != nil {
			return alarmsMsg{err: err}
		}
		var today struct {
			Entries []scheduleEntry `json:"entries"`
		}
		if err := c.get("/api/v1/schedule/today", &today); err != nil {
			return alarmsMsg{err: err}
		}
		return alarmsMsg{alarms: alarms, schedule: today.Entries}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case loginMsg:
		if msg.err != nil {
			m.errMsg = msg.err.Error()
			return m, nil
		}
		m.screen = screenAlarms
		m.errMsg = ""
		return m, tea.Batch(m.fetch(), tick())

	case tickMsg:
		if m.screen == screenLogin {
			return m, tick()
		}
		return m, tea.Batch(m.fetch(), tick())

	case alarmsMsg:
		if msg.err != nil {
			m.errMsg = msg.err.Error()
			return m, nil
		}
		m.errMsg = ""
		m.alarms = msg.alarms
		m.schedule = msg.schedule
		if m.cursor >= len(m.alarms) {
			m.cursor = 0
		}
		return m, nil

	case actionMsg:
		if msg.err != nil {
			m.errMsg = msg.err.Error()
		}
		return m, m.fetch()
	}

	return m.updateInputs(msg)
}

func (m model) updateInputs(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.userInput, cmd = m.userInput.Update(msg)
	cmds = append(cmds, cmd)
	m.passInput, cmd = m.passInput.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		return m, tea.Quit
	}

	if m.screen == screenLogin {
		switch msg.Type {
		case tea.KeyTab, tea.KeyDown, tea.KeyUp:
			m.focusPass = !m.focusPass
			if m.focusPass {
				m.userInput.Blur()
				m.passInput.Focus()
			} else {
				m.passInput.Blur()
				m.userInput.Focus()
			}
			return m, nil
		case tea.KeyEnter:
			if !m.focusPass {
				m.focusPass = true
				m.userInput.Blur()
				m.passInput.Focus()
				return m, nil
			}
			user, pass := m.userInput.Value(), m.passInput.Value()
			c := m.client
			return m, func() tea.Msg { return loginMsg{err: c.login(user, pass)} }
		}
		return m.updateInputs(msg)
	}

	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "?":
		if m.screen == screenHelp {
			m.screen = screenAlarms
		} else {
			m.screen = screenHelp
		}
		return m, nil
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil
	case "down", "j":
		if m.cursor < len(m.alarms)-1 {
			m.cursor++
		}
		return m, nil
	case "a":
		return m, m.action("acknowledge")
	case "s":
		return m, m.action("snooze")
	case "x":
		return m, m.action("skip")
	}
	return m, nil
}

func (m model) action(name string) tea.Cmd {
	if m.cursor >= len(m.alarms) {
		return nil
	}
	target := m.alarms[m.cursor]
	c := m.client
	return func() tea.Msg {
		return actionMsg{err: c.alarmAction(name, target.ReminderID, target.Slot)}
	}
}

func (m model) View() string {
	switch m.screen {
	case screenLogin:
		return m.loginView()
	case screenHelp:
		return m.helpText
	default:
		return m.alarmsView()
	}
}

func (m model) loginView() string {
	var b bytes.Buffer
	b.WriteString(titleStyle.Render("Pilltick") + "\n\n")
	b.WriteString(m.userInput.View() + "\n")
	b.WriteString(m.passInput.View() + "\n\n")
	if m.errMsg != "" {
		b.WriteString(errStyle.Render(m.errMsg) + "\n")
	}
	b.WriteString(dimStyle.Render("enter to log in, ctrl+c to quit"))
	return b.String()
}

func (m model) alarmsView() string {
	var b bytes.Buffer
	b.WriteString(titleStyle.Render("Pilltick") + "  " + dimStyle.Render(*serverURL) + "\n\n")

	if len(m.alarms) == 0 {
		b.WriteString(dimStyle.Render("No alarms ringing.") + "\n\n")
	} else {
		b.WriteString("Active alarms:\n")
		for i, a := range m.alarms {
			line := fmt.Sprintf("  %s %s", a.Slot, a.Name)
			if a.Dosage != "" {
				line += " " + a.Dosage
			}
			if a.RepeatCount > 0 {
				line += fmt.Sprintf(" (x%d)", a.RepeatCount+1)
			}
			switch a.State {
			case "ringing":
				line = ringingStyle.Render(line + "  RINGING")
			case "snoozed":
				line = snoozedStyle.Render(line + "  snoozed")
			}
			if i == m.cursor {
				line = selectStyle.Render(line)
			}
			b.WriteString(line + "\n")
		}
		b.WriteString("\n")
	}

	if len(m.schedule) > 0 {
		b.WriteString("Today:\n")
		for _, e := range m.schedule {
			line := fmt.Sprintf("  %s %s", e.Slot, e.Name)
			if e.Dosage != "" {
				line += " " + e.Dosage
			}
			line += "  " + e.Status
			if e.Status == "pending" {
				line = dimStyle.Render(line)
			}
			b.WriteString(line + "\n")
		}
		b.WriteString("\n")
	}

	if m.errMsg != "" {
		b.WriteString(errStyle.Render(m.errMsg) + "\n")
	}
	b.WriteString(dimStyle.Render("a take · s snooze · x skip · ? help · q quit"))
	return b.String()
}

func main() {
	flag.Parse()

	c := &client{
		base: *serverURL,
		http: &http.Client{Timeout: 10 * time.Second},
	}

	p := tea.NewProgram(newModel(c), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
