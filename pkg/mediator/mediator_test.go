package mediator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestorlabs/nestor/pkg/capability"
	"github.com/nestorlabs/nestor/pkg/config"
	"github.com/nestorlabs/nestor/pkg/metrics"
)

type stubAgent struct {
	name  string
	caps  capability.Set
	sleep time.Duration
	fail  bool

	mu    sync.Mutex
	tasks []string
}

func (a *stubAgent) Name() string                 { return a.name }
func (a *stubAgent) Capabilities() capability.Set { return a.caps }

func (a *stubAgent) Execute(ctx context.Context, task string, execCtx map[string]interface{}) (map[string]interface{}, error) {
	a.mu.Lock()
	a.tasks = append(a.tasks, task)
	a.mu.Unlock()
	if a.sleep > 0 {
		select {
		case <-time.After(a.sleep):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if a.fail {
		return nil, fmt.Errorf("agent %s failed", a.name)
	}
	return map[string]interface{}{"success": true, "report": "done by " + a.name}, nil
}

func (a *stubAgent) OnBroadcast(ctx context.Context, content map[string]interface{}) (map[string]interface{}, error) {
	if a.fail {
		return nil, fmt.Errorf("broadcast refused")
	}
	return map[string]interface{}{"ack": a.name}, nil
}

type stubSource struct {
	mu     sync.Mutex
	agents map[string]*stubAgent
}

func newStubSource(agents ...*stubAgent) *stubSource {
	s := &stubSource{agents: make(map[string]*stubAgent)}
	for _, a := range agents {
		s.agents[a.name] = a
	}
	return s
}

func (s *stubSource) Agent(name string) (Agent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[name]
	return a, ok
}

func (s *stubSource) AgentNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.agents))
	for name := range s.agents {
		names = append(names, name)
	}
	return names
}

func (s *stubSource) AgentsWithCapability(cap capability.Capability) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for name, a := range s.agents {
		if a.caps.Has(cap) {
			names = append(names, name)
		}
	}
	return names
}

func newTestMediator(agents ...*stubAgent) *Mediator {
	cfg := &config.MediatorConfig{}
	cfg.SetDefaults()
	return New(cfg, newStubSource(agents...), metrics.New())
}

func TestDelegationSuccess(t *testing.T) {
	writer := &stubAgent{name: "code_writer", caps: capability.NewSet(capability.CodeGeneration)}
	research := &stubAgent{name: "research", caps: capability.NewSet(capability.Research)}
	m := newTestMediator(writer, research)
	defer m.Shutdown()

	dr := m.DelegateSubtask(context.Background(), "code_writer", "research", "find docs for X", map[string]interface{}{}, 0, 2*time.Second)

	require.True(t, dr.Success)
	assert.Equal(t, "research", dr.DelegatedTo)
	assert.LessOrEqual(t, dr.ExecutionTime, 2*time.Second)
	assert.Equal(t, "done by research", dr.Result["report"])

	stats := m.GetStats()
	assert.Equal(t, 1, stats["code_writer"].DelegationsMade)
	assert.Equal(t, 1, stats["research"].DelegationsReceived)
}

func TestDelegationTimeout(t *testing.T) {
	slow := &stubAgent{name: "research", sleep: 3 * time.Second}
	m := newTestMediator(&stubAgent{name: "code_writer"}, slow)
	defer m.Shutdown()

	dr := m.DelegateSubtask(context.Background(), "code_writer", "research", "slow task", nil, 0, 100*time.Millisecond)

	assert.False(t, dr.Success)
	assert.Contains(t, dr.Error, "timed out")
	assert.Equal(t, 0, m.PendingFutures(), "timed-out future must be removed")
}

func TestDelegationToUnknownAgent(t *testing.T) {
	m := newTestMediator(&stubAgent{name: "code_writer"})
	defer m.Shutdown()

	dr := m.DelegateSubtask(context.Background(), "code_writer", "ghost", "task", nil, 0, time.Second)
	assert.False(t, dr.Success)
	assert.Contains(t, dr.Error, "not found")
}

func TestDelegationCarriesStamp(t *testing.T) {
	receiver := &stubAgent{name: "research"}
	m := newTestMediator(&stubAgent{name: "code_writer"}, receiver)
	defer m.Shutdown()

	execCtx := map[string]interface{}{}
	dr := m.DelegateSubtask(context.Background(), "code_writer", "research", "task", execCtx, 0, time.Second)
	require.True(t, dr.Success)
	assert.Equal(t, "code_writer", execCtx["_delegated_from"])
	assert.NotEmpty(t, execCtx["_delegation_id"])
}

func TestHandlerErrorBecomesResult(t *testing.T) {
	m := newTestMediator(&stubAgent{name: "a"}, &stubAgent{name: "b", fail: true})
	defer m.Shutdown()

	dr := m.DelegateSubtask(context.Background(), "a", "b", "task", nil, 0, time.Second)
	assert.False(t, dr.Success)
	assert.Contains(t, dr.Error, "agent b failed")
}

func TestRequestHelp(t *testing.T) {
	writer := &stubAgent{name: "code_writer", caps: capability.NewSet(capability.CodeGeneration)}
	research := &stubAgent{name: "research", caps: capability.NewSet(capability.Research, capability.WebSearch)}
	m := newTestMediator(writer, research)
	defer m.Shutdown()

	dr := m.RequestHelp(context.Background(), "code_writer", capability.Research, "look this up", nil)
	require.True(t, dr.Success)
	assert.Equal(t, "research", dr.DelegatedTo)

	// The requester is excluded even when it has the capability itself.
	dr = m.RequestHelp(context.Background(), "research", capability.Research, "look this up", nil)
	assert.False(t, dr.Success)
	assert.Contains(t, dr.Error, "no agent available")
}

func TestBroadcastCollectsAllResponses(t *testing.T) {
	m := newTestMediator(
		&stubAgent{name: "a"},
		&stubAgent{name: "b"},
		&stubAgent{name: "c", fail: true},
	)
	defer m.Shutdown()

	responses := m.BroadcastToAll(context.Background(), "a", map[string]interface{}{"note": "hello"})

	require.Len(t, responses, 2, "sender excluded")
	assert.Equal(t, map[string]interface{}{"ack": "b"}, responses["b"])
	errResp := responses["c"].(map[string]interface{})
	assert.Contains(t, errResp["error"], "broadcast refused")
}

func TestFireAndForget(t *testing.T) {
	receiver := &stubAgent{name: "b"}
	m := newTestMediator(&stubAgent{name: "a"}, receiver)

	msg := m.NewMessage("a", "b", KindStatus, map[string]interface{}{"task": "note this"})
	result, err := m.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.Nil(t, result)

	m.Shutdown() // waits for the handler
	receiver.mu.Lock()
	defer receiver.mu.Unlock()
	assert.Equal(t, []string{"note this"}, receiver.tasks)
}

func TestSubscribers(t *testing.T) {
	m := newTestMediator(&stubAgent{name: "a"}, &stubAgent{name: "b"})
	defer m.Shutdown()

	var mu sync.Mutex
	var events []string
	m.Subscribe(EventMessageSent, func(event string, msg *Message) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
	})
	m.Subscribe(EventDelegationComplete, func(event string, msg *Message) {
		panic("subscriber bug")
	})

	dr := m.DelegateSubtask(context.Background(), "a", "b", "task", nil, 0, time.Second)
	assert.True(t, dr.Success, "subscriber panic must not affect delivery")

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, events, EventMessageSent)
}

func TestUnsubscribe(t *testing.T) {
	m := newTestMediator(&stubAgent{name: "a"}, &stubAgent{name: "b"})
	defer m.Shutdown()

	var mu sync.Mutex
	var count int
	id := m.Subscribe(EventMessageSent, func(event string, msg *Message) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	m.DelegateSubtask(context.Background(), "a", "b", "first", nil, 0, time.Second)
	m.Unsubscribe(EventMessageSent, id)
	m.DelegateSubtask(context.Background(), "a", "b", "second", nil, 0, time.Second)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestHistoryBoundedAndFiltered(t *testing.T) {
	cfg := &config.MediatorConfig{HistoryLimit: 3}
	cfg.SetDefaults()
	cfg.HistoryLimit = 3
	m := New(cfg, newStubSource(&stubAgent{name: "a"}, &stubAgent{name: "b"}), metrics.New())
	defer m.Shutdown()

	for i := 0; i < 5; i++ {
		msg := m.NewMessage("a", "b", KindStatus, map[string]interface{}{"task": fmt.Sprintf("t%d", i)})
		_, _ = m.Send(context.Background(), msg)
	}

	history := m.GetHistory(0, "")
	assert.Len(t, history, 3)
	assert.Equal(t, "t4", history[2].Content["task"])

	assert.Empty(t, m.GetHistory(0, "b"))
}

func TestShutdownCancelsPendingFutures(t *testing.T) {
	slow := &stubAgent{name: "b", sleep: 10 * time.Second}
	m := newTestMediator(&stubAgent{name: "a"}, slow)

	done := make(chan *DelegationResult, 1)
	go func() {
		done <- m.DelegateSubtask(context.Background(), "a", "b", "task", nil, 0, 30*time.Second)
	}()
	time.Sleep(50 * time.Millisecond)

	m.Shutdown()
	select {
	case dr := <-done:
		assert.False(t, dr.Success)
		assert.Contains(t, dr.Error, "shut down")
	case <-time.After(8 * time.Second):
		t.Fatal("delegation did not observe shutdown")
	}
	assert.Equal(t, 0, m.PendingFutures())
}

func TestSendAfterShutdown(t *testing.T) {
	m := newTestMediator(&stubAgent{name: "a"})
	m.Shutdown()

	msg := m.NewMessage("x", "a", KindRequest, map[string]interface{}{"task": "t"})
	msg.RequiresResponse = true
	_, err := m.Send(context.Background(), msg)
	assert.ErrorContains(t, err, "shut down")
}
