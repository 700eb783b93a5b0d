package signaling

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/core/coretest"
	"github.com/dkeye/voicecall/internal/domain"
)

type statusLog struct {
	mu    sync.Mutex
	lines []string
}

func (s *statusLog) SetStatus(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
}

func (s *statusLog) Last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.lines) == 0 {
		return ""
	}
	return s.lines[len(s.lines)-1]
}

type fixture struct {
	mock    *clock.Mock
	broker  *coretest.Broker
	status  *statusLog
	manager *Manager
}

func newFixture(t *testing.T, env coretest.Env) *fixture {
	f := &fixture{mock: clock.NewMock(), broker: &coretest.Broker{}, status: &statusLog{}}
	f.manager = NewManager(f.broker, env, WithClock(f.mock), WithStatusSink(f.status))
	t.Cleanup(f.manager.Close)
	return f
}

// gatedBroker holds Register until released, then refuses the candidate.
type gatedBroker struct {
	entered chan struct{}
	release chan struct{}
}

func (b *gatedBroker) Register(context.Context, domain.Identity) (core.Session, error) {
	close(b.entered)
	<-b.release
	return nil, domain.ErrIdentityTaken
}

var okEnv = coretest.Env{Realtime: true, Secure: true}

const settle = 50 * time.Millisecond

func TestInitializeRejectsUnsupportedEnvironment(t *testing.T) {
	for name, env := range map[string]coretest.Env{
		"no realtime media": {Realtime: false, Secure: true},
		"insecure":          {Realtime: true, Secure: false},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, env)
			err := f.manager.Initialize(context.Background())
			require.ErrorIs(t, err, domain.ErrEnvironment)
			require.Empty(t, f.broker.Candidates())
			require.Nil(t, f.manager.Session())
			require.NotEmpty(t, f.status.Last())
		})
	}
}

func TestReadyStoresIdentity(t *testing.T) {
	f := newFixture(t, okEnv)
	var got domain.Identity
	f.manager.OnReady(func(id domain.Identity) { got = id })

	require.NoError(t, f.manager.Initialize(context.Background()))
	require.False(t, f.manager.Ready())

	candidates := f.broker.Candidates()
	require.Len(t, candidates, 1)
	n := candidates[0]
	require.Len(t, n.String(), 2)

	f.broker.Last().EmitReady(n)
	require.True(t, f.manager.Ready())
	require.Equal(t, n, f.manager.Identity())
	require.Equal(t, n, got)
	require.Equal(t, domain.StatusReady, f.status.Last())
}

func TestIdentityCollisionRetriesWithNewCandidate(t *testing.T) {
	f := newFixture(t, okEnv)
	require.NoError(t, f.manager.Initialize(context.Background()))
	first := f.broker.Last()

	first.EmitError(domain.ErrIdentityTaken)
	require.True(t, first.Destroyed())
	require.Zero(t, first.Listeners())
	require.Nil(t, f.manager.Session())

	f.mock.Add(DefaultRetryDelay - time.Millisecond)
	require.Never(t, func() bool { return len(f.broker.Candidates()) > 1 }, settle, 5*time.Millisecond)

	f.mock.Add(time.Millisecond)
	require.Eventually(t, func() bool { return len(f.broker.Candidates()) == 2 }, time.Second, time.Millisecond)
	c := f.broker.Candidates()
	require.NotEqual(t, c[0], c[1])

	second := f.broker.Last()
	second.EmitError(domain.ErrIdentityTaken)
	f.mock.Add(DefaultRetryDelay)
	require.Eventually(t, func() bool { return len(f.broker.Candidates()) == 3 }, time.Second, time.Millisecond)
	c = f.broker.Candidates()
	require.NotEqual(t, c[1], c[2])

	// Events from an abandoned session are ignored.
	first.EmitReady("55")
	require.False(t, f.manager.Ready())
}

func TestOtherErrorsAreNotRetried(t *testing.T) {
	f := newFixture(t, okEnv)
	require.NoError(t, f.manager.Initialize(context.Background()))

	f.broker.Last().EmitError(errors.New("server-error"))
	f.mock.Add(10 * time.Second)

	require.Never(t, func() bool { return len(f.broker.Candidates()) > 1 }, settle, 5*time.Millisecond)
	require.True(t, strings.HasPrefix(f.status.Last(), "P2P error"))
	require.False(t, f.broker.Last().Destroyed())
}

func TestRegisterFailureReportsError(t *testing.T) {
	f := newFixture(t, okEnv)
	f.broker.Err = errors.New("dial refused")

	err := f.manager.Initialize(context.Background())
	require.Error(t, err)
	require.Contains(t, f.status.Last(), "dial refused")
}

func TestDisconnectSchedulesSingleReconnect(t *testing.T) {
	f := newFixture(t, okEnv)
	require.NoError(t, f.manager.Initialize(context.Background()))
	s := f.broker.Last()
	s.EmitReady(s.ID())

	s.EmitDisconnected()
	s.EmitDisconnected()
	require.False(t, f.manager.Ready())
	require.Equal(t, domain.StatusReconnecting, f.status.Last())

	f.mock.Add(DefaultReconnectDelay)
	require.Eventually(t, func() bool { return s.Reconnects() == 1 }, time.Second, time.Millisecond)

	f.mock.Add(5 * DefaultReconnectDelay)
	require.Never(t, func() bool { return s.Reconnects() > 1 }, settle, 5*time.Millisecond)
	require.Len(t, f.broker.Candidates(), 1)

	s.EmitReady(s.ID())
	require.True(t, f.manager.Ready())
}

func TestReconnectAfterDestroyIsSkipped(t *testing.T) {
	f := newFixture(t, okEnv)
	require.NoError(t, f.manager.Initialize(context.Background()))
	s := f.broker.Last()

	s.EmitDisconnected()
	s.Destroy()
	f.mock.Add(DefaultReconnectDelay)
	require.Never(t, func() bool { return s.Reconnects() > 0 }, settle, 5*time.Millisecond)
}

func TestIncomingCallForwarded(t *testing.T) {
	f := newFixture(t, okEnv)
	var mu sync.Mutex
	var got []core.CallHandle
	f.manager.OnIncomingCall(func(c core.CallHandle) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, c)
	})
	require.NoError(t, f.manager.Initialize(context.Background()))

	call := coretest.NewCall("42")
	f.broker.Last().EmitIncoming(call)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	require.Equal(t, domain.Identity("42"), got[0].Peer())
	require.False(t, call.Closed())
}

func TestIncomingCallWithoutHandlerIsClosed(t *testing.T) {
	f := newFixture(t, okEnv)
	require.NoError(t, f.manager.Initialize(context.Background()))

	call := coretest.NewCall("42")
	f.broker.Last().EmitIncoming(call)
	require.True(t, call.Closed())
}

func TestCloseIsIdempotentAndCancelsTimers(t *testing.T) {
	f := newFixture(t, okEnv)
	require.NoError(t, f.manager.Initialize(context.Background()))
	s := f.broker.Last()
	s.EmitDisconnected()

	f.manager.Close()
	f.manager.Close()

	require.True(t, s.Destroyed())
	require.Zero(t, s.Listeners())
	require.Nil(t, f.manager.Session())

	f.mock.Add(DefaultReconnectDelay)
	require.Never(t, func() bool { return s.Reconnects() > 0 }, settle, 5*time.Millisecond)
	require.ErrorIs(t, f.manager.Initialize(context.Background()), domain.ErrSessionLost)
}

func TestCloseDuringCollidingRegisterLeavesNoRetry(t *testing.T) {
	mock := clock.NewMock()
	b := &gatedBroker{entered: make(chan struct{}), release: make(chan struct{})}
	m := NewManager(b, okEnv, WithClock(mock))

	done := make(chan error, 1)
	go func() { done <- m.Initialize(context.Background()) }()
	<-b.entered

	m.Close()
	close(b.release)
	require.ErrorIs(t, <-done, domain.ErrSessionLost)

	m.mu.Lock()
	retry := m.retry
	m.mu.Unlock()
	require.Nil(t, retry)
}
