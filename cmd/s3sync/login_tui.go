package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/openmined/s3sync/internal/credentials"
)

const (
	fieldAccessKey = iota
	fieldSecretKey
	fieldRegion
	fieldCount
)

const (
	txtPrompt       = "Enter the S3 credentials to store in the system keyring"
	txtVerifying    = "Verifying credentials..."
	txtMissingField = "Access key and secret key are required"
	txtHelp         = "'Tab'/'Enter' next field. 'Enter' on the last field submits. 'Esc' or 'Ctrl+C' to quit."
)

var (
	// https://github.com/muesli/termenv/blob/master/ansicolors.go
	styleRed   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	styleGreen = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleCyan  = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	styleGray  = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))

	titleStyle       = styleCyan.Bold(true)
	errorHeaderStyle = styleRed.Bold(true)
)

type LoginTUIOpts struct {
	ConfigPath string
	Endpoint   string
	Region     string
	Note       string
	// SubmitHandler verifies and stores the credentials.
	SubmitHandler func(creds credentials.Credentials) error
}

type loginModel struct {
	opts *LoginTUIOpts

	inputs  []textinput.Model
	focus   int
	spinner spinner.Model

	loading  bool
	done     bool
	errorMsg string
}

type credentialsProcessedMsg struct{ err error }

func newLoginModel(opts *LoginTUIOpts) loginModel {
	inputs := make([]textinput.Model, fieldCount)
	for i := range inputs {
		in := textinput.New()
		in.PromptStyle = styleGreen
		in.TextStyle = styleGreen
		in.PlaceholderStyle = styleGray
		in.Width = 48
		in.CharLimit = 128
		switch i {
		case fieldAccessKey:
			in.Prompt = "Access key  > "
			in.Placeholder = "AKIA..."
			in.Focus()
		case fieldSecretKey:
			in.Prompt = "Secret key  > "
			in.Placeholder = "••••••••"
			in.EchoMode = textinput.EchoPassword
			in.EchoCharacter = '•'
		case fieldRegion:
			in.Prompt = "Region      > "
			in.Placeholder = credentials.DefaultRegion
			in.SetValue(opts.Region)
		}
		inputs[i] = in
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styleCyan

	return loginModel{opts: opts, inputs: inputs, spinner: s}
}

func (m loginModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m loginModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyTab, tea.KeyDown:
			return m.moveFocus(1), textinput.Blink
		case tea.KeyShiftTab, tea.KeyUp:
			return m.moveFocus(-1), textinput.Blink
		case tea.KeyEnter:
			if m.loading {
				return m, nil
			}
			if m.focus < fieldCount-1 {
				return m.moveFocus(1), textinput.Blink
			}
			return m.submit()
		}

		if m.loading {
			return m, nil
		}
		m.errorMsg = ""
		var cmd tea.Cmd
		m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
		return m, cmd

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case credentialsProcessedMsg:
		m.loading = false
		if msg.err != nil {
			m.errorMsg = fmt.Sprintf("%s %s", errorHeaderStyle.Render("ERROR:"), msg.err.Error())
			return m.focusOn(fieldAccessKey), textinput.Blink
		}
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m loginModel) moveFocus(delta int) loginModel {
	return m.focusOn((m.focus + delta + fieldCount) % fieldCount)
}

func (m loginModel) focusOn(field int) loginModel {
	m.inputs[m.focus].Blur()
	m.focus = field
	m.inputs[m.focus].Focus()
	return m
}

func (m loginModel) credentials() credentials.Credentials {
	return credentials.Credentials{
		AccessKeyID:     strings.TrimSpace(m.inputs[fieldAccessKey].Value()),
		SecretAccessKey: strings.TrimSpace(m.inputs[fieldSecretKey].Value()),
		Region:          strings.TrimSpace(m.inputs[fieldRegion].Value()),
	}
}

func (m loginModel) submit() (tea.Model, tea.Cmd) {
	creds := m.credentials()
	if creds.Validate() != nil {
		m.errorMsg = txtMissingField
		return m, nil
	}
	m.errorMsg = ""
	m.loading = true
	m.inputs[m.focus].Blur()

	handler := m.opts.SubmitHandler
	return m, func() tea.Msg {
		return credentialsProcessedMsg{err: handler(creds)}
	}
}

func (m loginModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(strings.TrimPrefix(banner, "\n")))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("%s%s\n", styleGray.Render("Config    "), styleGreen.Render(m.opts.ConfigPath)))
	if m.opts.Endpoint != "" {
		b.WriteString(fmt.Sprintf("%s%s\n", styleGray.Render("Endpoint  "), styleGreen.Render(m.opts.Endpoint)))
	}
	if m.opts.Note != "" {
		b.WriteString(fmt.Sprintf("\n%s\n", styleGray.Render(m.opts.Note)))
	}
	b.WriteString("\n")
	b.WriteString(txtPrompt)
	b.WriteString("\n\n")
	for _, in := range m.inputs {
		b.WriteString(in.View())
		b.WriteString("\n")
	}
	if m.loading {
		b.WriteString(fmt.Sprintf("\n%s %s\n", m.spinner.View(), txtVerifying))
	}
	if m.errorMsg != "" {
		b.WriteString("\n")
		b.WriteString(styleRed.Render(m.errorMsg))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(styleGray.Render(txtHelp))
	b.WriteString("\n")
	return b.String()
}

// RunLoginTUI collects credentials interactively and hands them to the
// submit handler until it accepts them or the user quits.
func RunLoginTUI(opts LoginTUIOpts) error {
	model, err := tea.NewProgram(newLoginModel(&opts), tea.WithAltScreen()).Run()
	if err != nil {
		return fmt.Errorf("TUI encountered an error during execution: %w", err)
	}
	if fm, ok := model.(loginModel); ok && !fm.done {
		if fm.errorMsg != "" {
			return fmt.Errorf("login interrupted: %s", fm.errorMsg)
		}
		return fmt.Errorf("login cancelled by user")
	}
	return nil
}
