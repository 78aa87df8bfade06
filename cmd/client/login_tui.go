package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

type viewState int

const (
	apiKeyView viewState = iota
	masterKeyView
	doneView
)

const (
	minMasterKeyLen = 8

	txtAPIKeyPrompt    = "Enter your API key"
	txtMasterKeyPrompt = "Enter your master key"
	txtMasterKeyInfo   = "It never leaves this machine. Without it your files cannot be decrypted."
	txtVerifyingKey    = "Checking API key..."
	txtEmptyAPIKey     = "API key cannot be empty"
	txtShortMasterKey  = "Master key is too short"
	txtHelp            = "Press 'Enter' to submit. 'Esc' to go back/quit. 'Ctrl+C' to quit."
)

var (
	focusedStyle     = green
	helpStyle        = gray
	errorTextStyle   = red
	errorHeaderStyle = red.Bold(true)
	spinnerStyle     = cyan
	placeholderStyle = gray
	titleStyle       = cyan.Bold(true)
)

var errLoginCancelled = errors.New("login cancelled")

type LoginTUIOpts struct {
	ServerURL  string
	DataDir    string
	ConfigPath string
	// APIKey skips the first prompt when already known
	APIKey              string
	APIKeySubmitHandler func(apiKey string) error
}

// LoginResult holds what the user entered
type LoginResult struct {
	APIKey    string
	MasterKey string
}

type loginModel struct {
	opts *LoginTUIOpts

	apiKeyInput    textinput.Model
	masterKeyInput textinput.Model
	spinner        spinner.Model

	currentView  viewState
	isLoading    bool
	errorMessage string
	message      string

	apiKey    string
	masterKey string
}

type apiKeyProcessedMsg struct{ err error }

func newSecretInput(placeholder string, limit int) textinput.Model {
	in := textinput.New()
	in.Placeholder = placeholder
	in.CharLimit = limit
	in.Width = 64
	in.EchoMode = textinput.EchoPassword
	in.EchoCharacter = '•'
	in.PromptStyle = focusedStyle
	in.TextStyle = focusedStyle
	in.PlaceholderStyle = placeholderStyle
	return in
}

func newLoginModel(opts *LoginTUIOpts) loginModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	m := loginModel{
		opts:           opts,
		apiKeyInput:    newSecretInput("api key", 256),
		masterKeyInput: newSecretInput("master key", 1024),
		spinner:        s,
		currentView:    apiKeyView,
	}

	if opts.APIKey != "" {
		m.apiKey = opts.APIKey
		m.currentView = masterKeyView
		m.masterKeyInput.Focus()
	} else {
		m.apiKeyInput.Focus()
	}
	return m
}

func (m loginModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m loginModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.apiKeyInput.Focused() {
			m.errorMessage = ""
			m.apiKeyInput, cmd = m.apiKeyInput.Update(msg)
			cmds = append(cmds, cmd)
		} else if m.masterKeyInput.Focused() {
			m.errorMessage = ""
			m.masterKeyInput, cmd = m.masterKeyInput.Update(msg)
			cmds = append(cmds, cmd)
		}

		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit

		case tea.KeyEsc:
			return m.handleEscapeKey()

		case tea.KeyEnter:
			if m.isLoading {
				return m, nil
			}
			switch m.currentView {
			case apiKeyView:
				return m.submitAPIKey()
			case masterKeyView:
				return m.submitMasterKey()
			}
		}

	case spinner.TickMsg:
		var spinnerCmd tea.Cmd
		m.spinner, spinnerCmd = m.spinner.Update(msg)
		cmds = append(cmds, spinnerCmd)

	case apiKeyProcessedMsg:
		return m.handleAPIKeyMsg(msg)
	}

	return m, tea.Batch(cmds...)
}

func (m loginModel) handleEscapeKey() (tea.Model, tea.Cmd) {
	// the api key prompt is only there when it was not passed in
	if m.currentView == masterKeyView && m.opts.APIKey == "" {
		m.currentView = apiKeyView
		m.masterKeyInput.Blur()
		m.apiKeyInput.Focus()
		m.errorMessage = ""
		return m, textinput.Blink
	}
	return m, tea.Quit
}

func (m loginModel) submitAPIKey() (tea.Model, tea.Cmd) {
	key := strings.TrimSpace(m.apiKeyInput.Value())
	if key == "" {
		m.errorMessage = txtEmptyAPIKey
		return m, nil
	}

	m.errorMessage = ""
	m.isLoading = true
	m.message = txtVerifyingKey
	m.apiKey = key
	m.apiKeyInput.Blur()

	return m, func() tea.Msg {
		return apiKeyProcessedMsg{err: m.opts.APIKeySubmitHandler(key)}
	}
}

func (m loginModel) handleAPIKeyMsg(msg apiKeyProcessedMsg) (tea.Model, tea.Cmd) {
	m.isLoading = false
	m.message = ""

	if msg.err != nil {
		m.errorMessage = fmt.Sprintf("%s %s", errorHeaderStyle.Render("ERROR:"), msg.err.Error())
		m.apiKey = ""
		m.apiKeyInput.Focus()
		return m, textinput.Blink
	}

	m.currentView = masterKeyView
	m.masterKeyInput.Focus()
	return m, textinput.Blink
}

func (m loginModel) submitMasterKey() (tea.Model, tea.Cmd) {
	key := strings.TrimSpace(m.masterKeyInput.Value())
	if len(key) < minMasterKeyLen {
		m.errorMessage = txtShortMasterKey
		return m, nil
	}

	m.masterKey = key
	m.currentView = doneView
	return m, tea.Quit
}

func (m loginModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(cryptSyncArt))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("%s%s\n", gray.Render("Server  "), green.Render(m.opts.ServerURL)))
	b.WriteString(fmt.Sprintf("%s%s\n", gray.Render("Data    "), green.Render(m.opts.DataDir)))
	b.WriteString(fmt.Sprintf("%s%s\n", gray.Render("Config  "), green.Render(m.opts.ConfigPath)))
	b.WriteString("\n")

	switch m.currentView {
	case apiKeyView:
		b.WriteString(txtAPIKeyPrompt)
		b.WriteString("\n\n")
		b.WriteString(m.apiKeyInput.View())
	case masterKeyView:
		b.WriteString(txtMasterKeyPrompt)
		b.WriteString("\n")
		b.WriteString(helpStyle.Render(txtMasterKeyInfo))
		b.WriteString("\n\n")
		b.WriteString(m.masterKeyInput.View())
	}

	if m.isLoading {
		b.WriteString("\n\n")
		b.WriteString(fmt.Sprintf("%s %s", m.spinner.View(), m.message))
	}
	if m.errorMessage != "" {
		b.WriteString("\n\n")
		b.WriteString(errorTextStyle.Render(m.errorMessage))
	}
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render(txtHelp))
	b.WriteString("\n")
	return b.String()
}

func (m loginModel) result() (*LoginResult, error) {
	if m.currentView != doneView {
		return nil, errLoginCancelled
	}
	return &LoginResult{APIKey: m.apiKey, MasterKey: m.masterKey}, nil
}

// RunLoginTUI prompts for whatever credentials are still missing
func RunLoginTUI(opts LoginTUIOpts) (*LoginResult, error) {
	model, err := tea.NewProgram(newLoginModel(&opts), tea.WithAltScreen()).Run()
	if err != nil {
		return nil, fmt.Errorf("login prompt: %w", err)
	}

	fm, ok := model.(loginModel)
	if !ok {
		return nil, errLoginCancelled
	}
	return fm.result()
}
