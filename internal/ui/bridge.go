package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/dkeye/voicecall/internal/domain"
)

type stateMsg domain.CallState

type statusMsg string

type levelMsg float64

// actionDoneMsg carries the result of a controller action run off the
// update loop.
type actionDoneMsg struct {
	action string
	err    error
}

// Bridge forwards controller events into a running program. Pass
// (*tea.Program).Send.
type Bridge struct {
	send func(tea.Msg)
}

func NewBridge(send func(tea.Msg)) *Bridge { return &Bridge{send: send} }

func (b *Bridge) StateChanged(state domain.CallState) { b.send(stateMsg(state)) }
func (b *Bridge) StatusChanged(status string)         { b.send(statusMsg(status)) }
func (b *Bridge) LevelChanged(level float64)          { b.send(levelMsg(level)) }
