package ui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/voicecall/internal/domain"
)

type fakeActions struct {
	mu      sync.Mutex
	calls   []string
	dialled []string
	err     error
}

func (f *fakeActions) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeActions) StartCall(_ context.Context, raw string) error {
	f.record("call")
	f.mu.Lock()
	f.dialled = append(f.dialled, raw)
	f.mu.Unlock()
	return f.err
}

func (f *fakeActions) Hangup() error             { f.record("hangup"); return f.err }
func (f *fakeActions) ToggleMute() (bool, error) { f.record("mute"); return true, f.err }
func (f *fakeActions) CopyIdentity() error       { f.record("copy"); return f.err }

type staticIdentity domain.Identity

func (s staticIdentity) Identity() domain.Identity { return domain.Identity(s) }

func newTestModel(actions *fakeActions) Model {
	return NewModel(context.Background(), actions, staticIdentity("42"), 2*time.Second)
}

func typeText(t *testing.T, model Model, text string) Model {
	t.Helper()
	for _, r := range text {
		updated, _ := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
		model = updated.(Model)
	}
	return model
}

func press(model Model, msg tea.KeyMsg) (Model, tea.Cmd) {
	updated, cmd := model.Update(msg)
	return updated.(Model), cmd
}

func TestEnterStartsCall(t *testing.T) {
	actions := &fakeActions{}
	model := typeText(t, newTestModel(actions), "17")
	require.Equal(t, "17", model.input.Value())

	_, cmd := press(model, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	msg := cmd()
	require.Equal(t, actionDoneMsg{action: "call"}, msg)
	require.Equal(t, []string{"17"}, actions.dialled)
}

func TestStartCallErrorIsSwallowed(t *testing.T) {
	actions := &fakeActions{err: domain.ErrEmptyIdentity}
	model := newTestModel(actions)

	_, cmd := press(model, tea.KeyMsg{Type: tea.KeyEnter})
	msg := cmd()
	done, ok := msg.(actionDoneMsg)
	require.True(t, ok)
	require.True(t, errors.Is(done.err, domain.ErrEmptyIdentity))

	updated, next := model.Update(msg)
	require.Nil(t, next)
	require.IsType(t, Model{}, updated)
}

func TestInputDisabledWhileCalling(t *testing.T) {
	actions := &fakeActions{}
	model := typeText(t, newTestModel(actions), "17")

	updated, _ := model.Update(stateMsg(domain.CallState{IsCalling: true}))
	model = updated.(Model)
	require.False(t, model.input.Focused())

	model = typeText(t, model, "9")
	require.Equal(t, "17", model.input.Value())

	_, cmd := press(model, tea.KeyMsg{Type: tea.KeyEnter})
	require.Nil(t, cmd)

	_, cmd = press(model, tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
	cmd()
	require.Equal(t, []string{"hangup"}, actions.calls)
	require.Contains(t, model.View(), "cancel")
}

func TestConnectedControls(t *testing.T) {
	actions := &fakeActions{}
	model := newTestModel(actions)
	updated, _ := model.Update(stateMsg(domain.CallState{IsConnected: true}))
	model = updated.(Model)
	updated, _ = model.Update(levelMsg(0.5))
	model = updated.(Model)

	require.Contains(t, model.View(), "ON AIR")

	_, cmd := press(model, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'m'}})
	require.NotNil(t, cmd)
	cmd()
	_, cmd = press(model, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'h'}})
	require.NotNil(t, cmd)
	cmd()
	require.Equal(t, []string{"mute", "hangup"}, actions.calls)

	updated, _ = model.Update(stateMsg(domain.CallState{IsConnected: true, IsMuted: true}))
	model = updated.(Model)
	view := model.View()
	require.NotContains(t, view, "ON AIR")
	require.Contains(t, view, "muted")
}

func TestIncomingNotice(t *testing.T) {
	actions := &fakeActions{}
	model := newTestModel(actions)
	updated, _ := model.Update(stateMsg(domain.CallState{IsReceivingCall: true, IncomingCallID: "77"}))
	model = updated.(Model)

	view := model.View()
	require.Contains(t, view, "Incoming call from 77")
	require.Contains(t, view, "auto-answer in 2s")

	_, cmd := press(model, tea.KeyMsg{Type: tea.KeyEsc})
	require.Nil(t, cmd)
	require.Empty(t, actions.calls)
}

func TestReturnToIdleRefocusesInput(t *testing.T) {
	model := typeText(t, newTestModel(&fakeActions{}), "17")
	updated, _ := model.Update(stateMsg(domain.CallState{IsConnected: true}))
	model = updated.(Model)
	updated, _ = model.Update(stateMsg(domain.CallState{}))
	model = updated.(Model)

	require.True(t, model.input.Focused())
	require.Empty(t, model.input.Value())
}

func TestStatusShowsIdentity(t *testing.T) {
	model := newTestModel(&fakeActions{})
	require.Contains(t, model.View(), "your ID: ...")

	updated, _ := model.Update(statusMsg(domain.StatusReady))
	model = updated.(Model)
	view := model.View()
	require.Contains(t, view, domain.StatusReady)
	require.True(t, strings.Contains(view, "42"))
}

func TestCopyAndQuit(t *testing.T) {
	actions := &fakeActions{}
	model := newTestModel(actions)

	_, cmd := press(model, tea.KeyMsg{Type: tea.KeyCtrlY})
	require.NotNil(t, cmd)
	cmd()
	require.Equal(t, []string{"copy"}, actions.calls)

	_, cmd = press(model, tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	require.Equal(t, tea.Quit(), cmd())
}

func TestBridgeForwards(t *testing.T) {
	var got []tea.Msg
	b := NewBridge(func(m tea.Msg) { got = append(got, m) })
	b.StateChanged(domain.CallState{IsCalling: true})
	b.StatusChanged(domain.StatusConnecting)
	b.LevelChanged(0.25)
	require.Equal(t, []tea.Msg{
		stateMsg(domain.CallState{IsCalling: true}),
		statusMsg(domain.StatusConnecting),
		levelMsg(0.25),
	}, got)
}
