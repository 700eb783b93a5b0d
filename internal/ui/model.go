// Package ui is the terminal front end of the calling client.
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicecall/internal/domain"
)

// Actions are the user-triggered controller operations. Each runs inside a
// tea.Cmd so the update loop never blocks on the controller.
type Actions interface {
	StartCall(ctx context.Context, raw string) error
	Hangup() error
	ToggleMute() (bool, error)
	CopyIdentity() error
}

type IdentitySource interface {
	Identity() domain.Identity
}

type phase int

const (
	idle phase = iota
	calling
	receiving
	connected
)

func phaseOf(s domain.CallState) phase {
	switch s.Phase() {
	case domain.PhaseCalling:
		return calling
	case domain.PhaseReceiving:
		return receiving
	case domain.PhaseConnected:
		return connected
	default:
		return idle
	}
}

type Model struct {
	ctx        context.Context
	actions    Actions
	identities IdentitySource
	autoAnswer time.Duration

	keys  keyMap
	help  help.Model
	input textinput.Model
	meter progress.Model

	state    domain.CallState
	status   string
	level    float64
	identity domain.Identity
	width    int
}

func NewModel(ctx context.Context, actions Actions, identities IdentitySource, autoAnswer time.Duration) Model {
	input := textinput.New()
	input.Prompt = "remote ID > "
	input.Placeholder = "two-digit ID"
	input.CharLimit = domain.MaxIdentityLen
	input.Focus()

	model := Model{
		ctx:        ctx,
		actions:    actions,
		identities: identities,
		autoAnswer: autoAnswer,
		keys:       newKeyMap(),
		help:       help.New(),
		input:      input,
		meter:      progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage(), progress.WithWidth(30)),
		status:     domain.StatusInitializing,
	}
	model.keys.enabledFor(idle)
	return model
}

func (model Model) Init() tea.Cmd {
	return textinput.Blink
}

func (model Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.KeyMsg:
		return model.handleKey(message)

	case tea.WindowSizeMsg:
		model.width = message.Width
		model.help.Width = message.Width
		return model, nil

	case stateMsg:
		prev := phaseOf(model.state)
		model.state = domain.CallState(message)
		next := phaseOf(model.state)
		model.keys.enabledFor(next)
		if next == prev {
			return model, nil
		}
		if next == idle {
			model.input.Reset()
			return model, model.input.Focus()
		}
		model.input.Blur()
		return model, nil

	case statusMsg:
		model.status = string(message)
		if model.identities != nil {
			model.identity = model.identities.Identity()
		}
		return model, nil

	case levelMsg:
		model.level = float64(message)
		return model, nil

	case actionDoneMsg:
		if message.err != nil {
			log.Debug().Err(message.err).Str("module", "ui").Str("action", message.action).Msg("action failed")
		}
		return model, nil
	}

	var cmd tea.Cmd
	model.input, cmd = model.input.Update(message)
	return model, cmd
}

func (model Model) handleKey(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(message, model.keys.Quit):
		return model, tea.Quit

	case key.Matches(message, model.keys.Copy):
		return model, model.run("copy", model.actions.CopyIdentity)

	case key.Matches(message, model.keys.Call):
		raw := model.input.Value()
		ctx := model.ctx
		return model, model.run("call", func() error {
			return model.actions.StartCall(ctx, raw)
		})

	case key.Matches(message, model.keys.Hangup):
		return model, model.run("hangup", model.actions.Hangup)

	case key.Matches(message, model.keys.Mute):
		return model, model.run("mute", func() error {
			_, err := model.actions.ToggleMute()
			return err
		})
	}

	if !model.input.Focused() {
		return model, nil
	}
	var cmd tea.Cmd
	model.input, cmd = model.input.Update(message)
	return model, cmd
}

func (model Model) run(action string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return actionDoneMsg{action: action, err: fn()}
	}
}

func (model Model) View() string {
	var b strings.Builder

	id := "..."
	if model.identity != "" {
		id = model.identity.String()
	}
	b.WriteString(titleStyle.Render("voicecall"))
	b.WriteString("  your ID: ")
	b.WriteString(identityStyle.Render(id))
	b.WriteString("\n\n")

	b.WriteString(statusStyle.Render(model.status))
	b.WriteString("\n\n")

	switch phaseOf(model.state) {
	case receiving:
		b.WriteString(incomingStyle.Render(fmt.Sprintf("Incoming call from %s, auto-answer in %s",
			model.state.IncomingCallID.Short(12), model.autoAnswer)))
		b.WriteString("\n")
	case connected:
		if model.state.IsMuted {
			b.WriteString(mutedStyle.Render("muted"))
		} else {
			b.WriteString(onAirStyle.Render("ON AIR"))
			b.WriteString(" ")
			b.WriteString(model.meter.ViewAs(model.level))
		}
		b.WriteString("\n")
	default:
		b.WriteString(model.input.View())
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(model.help.ShortHelpView(model.keys.short()))
	return frameStyle.Render(b.String())
}
