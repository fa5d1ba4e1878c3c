// Package mediator is the typed in-process message bus between agents:
// request/response futures keyed by message id, delegation, capability
// lookup, broadcast fan-out, per-message timeouts, and stats.
package mediator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nestorlabs/nestor/pkg/capability"
	"github.com/nestorlabs/nestor/pkg/config"
	"github.com/nestorlabs/nestor/pkg/logger"
	"github.com/nestorlabs/nestor/pkg/metrics"
)

// Kind classifies a message.
type Kind string

const (
	KindRequest     Kind = "request"
	KindResponse    Kind = "response"
	KindDelegation  Kind = "delegation"
	KindHelpRequest Kind = "help_request"
	KindStatus      Kind = "status"
	KindFeedback    Kind = "feedback"
	KindBroadcast   Kind = "broadcast"
	KindCancel      Kind = "cancel"
)

// Broadcast receiver wildcard.
const ReceiverAll = "*"

// Message is one unit on the bus. A message with RequiresResponse set is
// resolved exactly once: fulfilled, timed out, or cancelled.
type Message struct {
	ID               string                 `json:"id"`
	Sender           string                 `json:"sender"`
	Receiver         string                 `json:"receiver"`
	Kind             Kind                   `json:"kind"`
	Priority         int                    `json:"priority"`
	Content          map[string]interface{} `json:"content"`
	Context          map[string]interface{} `json:"context,omitempty"`
	ParentID         string                 `json:"parent_id,omitempty"`
	RequiresResponse bool                   `json:"requires_response"`
	Timeout          time.Duration          `json:"timeout"`
	Timestamp        time.Time              `json:"timestamp"`
}

// DelegationResult is the outcome of one delegation or help request.
type DelegationResult struct {
	Success       bool                   `json:"success"`
	Result        map[string]interface{} `json:"result,omitempty"`
	Error         string                 `json:"error,omitempty"`
	DelegatedTo   string                 `json:"delegated_to,omitempty"`
	ExecutionTime time.Duration          `json:"execution_time"`
}

// Agent is what the mediator needs from a registered agent.
type Agent interface {
	Name() string
	Capabilities() capability.Set
	Execute(ctx context.Context, task string, execCtx map[string]interface{}) (map[string]interface{}, error)
	OnBroadcast(ctx context.Context, content map[string]interface{}) (map[string]interface{}, error)
}

// AgentSource resolves agents by name or capability. The agent registry
// implements it.
type AgentSource interface {
	Agent(name string) (Agent, bool)
	AgentNames() []string
	AgentsWithCapability(cap capability.Capability) []string
}

// AgentStats are per-agent bus counters. AvgResponseTime is a cumulative
// mean over the received counter.
type AgentStats struct {
	MessagesSent        int           `json:"messages_sent"`
	MessagesReceived    int           `json:"messages_received"`
	DelegationsMade     int           `json:"delegations_made"`
	DelegationsReceived int           `json:"delegations_received"`
	AvgResponseTime     time.Duration `json:"avg_response_time"`
}

// EventCallback observes bus events. Errors (panics) in callbacks are
// swallowed.
type EventCallback func(event string, msg *Message)

// Bus events.
const (
	EventMessageSent        = "message_sent"
	EventDelegationComplete = "delegation_complete"
)

type response struct {
	result map[string]interface{}
	err    error
}

// Mediator routes messages between registered agents.
type Mediator struct {
	cfg     *config.MediatorConfig
	agents  AgentSource
	metrics *metrics.Set
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	futures     map[string]chan response
	stats       map[string]*AgentStats
	history     []*Message
	subscribers map[string][]subscription
	nextSubID   int
	inFlight    sync.WaitGroup
}

func New(cfg *config.MediatorConfig, agents AgentSource, m *metrics.Set) *Mediator {
	if m == nil {
		m = metrics.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Mediator{
		cfg:         cfg,
		agents:      agents,
		metrics:     m,
		log:         logger.Component("mediator"),
		ctx:         ctx,
		cancel:      cancel,
		futures:     make(map[string]chan response),
		stats:       make(map[string]*AgentStats),
		subscribers: make(map[string][]subscription),
	}
}

// NewMessage builds a message with id, timestamp, and the configured
// default timeout filled in.
func (m *Mediator) NewMessage(sender, receiver string, kind Kind, content map[string]interface{}) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Receiver:  receiver,
		Kind:      kind,
		Content:   content,
		Timeout:   time.Duration(m.cfg.DefaultTimeout) * time.Second,
		Timestamp: time.Now(),
	}
}

func (m *Mediator) statsFor(agent string) *AgentStats {
	s, ok := m.stats[agent]
	if !ok {
		s = &AgentStats{}
		m.stats[agent] = s
	}
	return s
}

func (m *Mediator) record(msg *Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statsFor(msg.Sender).MessagesSent++
	if msg.Receiver != ReceiverAll {
		m.statsFor(msg.Receiver).MessagesReceived++
	}
	m.history = append(m.history, msg)
	if limit := m.cfg.HistoryLimit; limit > 0 && len(m.history) > limit {
		m.history = m.history[len(m.history)-limit:]
	}
}

// Send dispatches msg. When RequiresResponse is set the call blocks until
// the handler responds, the per-message timeout fires, ctx is done, or the
// mediator shuts down; the future is removed in every case. Fire-and-forget
// messages return immediately.
func (m *Mediator) Send(ctx context.Context, msg *Message) (map[string]interface{}, error) {
	select {
	case <-m.ctx.Done():
		return nil, fmt.Errorf("[mediator] shut down")
	default:
	}

	m.record(msg)
	m.emit(EventMessageSent, msg)

	if !msg.RequiresResponse {
		m.inFlight.Add(1)
		go func() {
			defer m.inFlight.Done()
			m.handle(m.ctx, msg)
		}()
		return nil, nil
	}

	future := make(chan response, 1)
	m.mu.Lock()
	m.futures[msg.ID] = future
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.futures, msg.ID)
		m.mu.Unlock()
	}()

	started := time.Now()
	m.inFlight.Add(1)
	go func() {
		defer m.inFlight.Done()
		result, err := m.handle(m.ctx, msg)
		select {
		case future <- response{result: result, err: err}:
		default:
			// Future already resolved by timeout or cancellation.
		}
	}()

	timeout := msg.Timeout
	if timeout <= 0 {
		timeout = time.Duration(m.cfg.DefaultTimeout) * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-future:
		m.observeResponse(msg.Receiver, time.Since(started))
		return resp.result, resp.err
	case <-timer.C:
		return nil, fmt.Errorf("[mediator] message %s to %s timed out after %s", msg.ID, msg.Receiver, timeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("[mediator] send cancelled: %w", ctx.Err())
	case <-m.ctx.Done():
		return nil, fmt.Errorf("[mediator] shut down while waiting for %s", msg.ID)
	}
}

func (m *Mediator) observeResponse(agent string, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.statsFor(agent)
	n := s.MessagesReceived
	if n <= 0 {
		n = 1
	}
	s.AvgResponseTime = s.AvgResponseTime + (elapsed-s.AvgResponseTime)/time.Duration(n)
}

// handle runs the receiver's handler for one message. Handler errors and
// panics become error responses, never crashes.
func (m *Mediator) handle(ctx context.Context, msg *Message) (result map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("[mediator] handler panic: %v", r)
		}
	}()

	agent, ok := m.agents.Agent(msg.Receiver)
	if !ok {
		return nil, fmt.Errorf("[mediator] agent %q not found", msg.Receiver)
	}

	switch msg.Kind {
	case KindBroadcast:
		return agent.OnBroadcast(ctx, msg.Content)
	default:
		task, _ := msg.Content["task"].(string)
		if task == "" {
			return nil, fmt.Errorf("[mediator] message %s has no task", msg.ID)
		}
		execCtx := msg.Context
		if execCtx == nil {
			execCtx = map[string]interface{}{}
		}
		return agent.Execute(ctx, task, execCtx)
	}
}

// DelegateSubtask sends a delegation from one agent to another and waits
// for the result. Failures, including timeouts, are reported inside the
// DelegationResult rather than as errors.
func (m *Mediator) DelegateSubtask(ctx context.Context, from, to, subtask string, execCtx map[string]interface{}, priority int, timeout time.Duration) *DelegationResult {
	started := time.Now()

	if _, ok := m.agents.Agent(to); !ok {
		return &DelegationResult{
			Error:         fmt.Sprintf("agent %q not found", to),
			DelegatedTo:   to,
			ExecutionTime: time.Since(started),
		}
	}

	msg := m.NewMessage(from, to, KindDelegation, map[string]interface{}{"task": subtask})
	msg.Priority = priority
	msg.RequiresResponse = true
	if timeout > 0 {
		msg.Timeout = timeout
	}

	if execCtx == nil {
		execCtx = map[string]interface{}{}
	}
	execCtx["_delegated_from"] = from
	execCtx["_delegation_id"] = msg.ID
	msg.Context = execCtx

	m.mu.Lock()
	m.statsFor(from).DelegationsMade++
	m.statsFor(to).DelegationsReceived++
	m.mu.Unlock()
	m.metrics.DelegationsMade.Inc()

	result, err := m.Send(ctx, msg)
	dr := &DelegationResult{
		DelegatedTo:   to,
		ExecutionTime: time.Since(started),
	}
	if err != nil {
		dr.Error = err.Error()
	} else {
		dr.Success = true
		dr.Result = result
	}
	m.emit(EventDelegationComplete, msg)
	return dr
}

// RequestHelp finds an agent offering the capability (excluding the
// requester) and delegates to it.
func (m *Mediator) RequestHelp(ctx context.Context, from string, cap capability.Capability, task string, execCtx map[string]interface{}) *DelegationResult {
	target := m.FindAgentForCapability(cap, from)
	if target == "" {
		return &DelegationResult{
			Error: fmt.Sprintf("no agent available with capability %q", cap),
		}
	}
	return m.DelegateSubtask(ctx, from, target, task, execCtx, 0, 0)
}

// FindAgentForCapability returns the first registered agent offering cap,
// skipping the excluded names. Empty when none qualify.
func (m *Mediator) FindAgentForCapability(cap capability.Capability, exclude ...string) string {
	skip := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		skip[name] = struct{}{}
	}
	for _, name := range m.agents.AgentsWithCapability(cap) {
		if _, excluded := skip[name]; !excluded {
			return name
		}
	}
	return ""
}

// AgentNames lists the agents currently reachable through the bus.
func (m *Mediator) AgentNames() []string {
	return m.agents.AgentNames()
}

// BroadcastToAll fans content out to every agent except the sender,
// concurrently. Individual handler failures become error entries; the
// fan-out never aborts early.
func (m *Mediator) BroadcastToAll(ctx context.Context, from string, content map[string]interface{}) map[string]interface{} {
	msg := m.NewMessage(from, ReceiverAll, KindBroadcast, content)
	m.record(msg)
	m.emit(EventMessageSent, msg)

	var mu sync.Mutex
	responses := make(map[string]interface{})

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range m.agents.AgentNames() {
		if name == from {
			continue
		}
		g.Go(func() error {
			agent, ok := m.agents.Agent(name)
			if !ok {
				return nil
			}
			resp, err := func() (r map[string]interface{}, err error) {
				defer func() {
					if rec := recover(); rec != nil {
						err = fmt.Errorf("handler panic: %v", rec)
					}
				}()
				return agent.OnBroadcast(gctx, content)
			}()

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				responses[name] = map[string]interface{}{"error": err.Error()}
			} else {
				responses[name] = resp
			}
			return nil
		})
	}
	_ = g.Wait()
	return responses
}

type subscription struct {
	id int
	cb EventCallback
}

// Subscribe registers a callback for a bus event. The returned id cancels
// the subscription via Unsubscribe.
func (m *Mediator) Subscribe(event string, cb EventCallback) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSubID++
	m.subscribers[event] = append(m.subscribers[event], subscription{id: m.nextSubID, cb: cb})
	return m.nextSubID
}

// Unsubscribe removes a previously registered callback. Unknown ids are a
// no-op.
func (m *Mediator) Unsubscribe(event string, id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[event]
	for i, s := range subs {
		if s.id == id {
			m.subscribers[event] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

func (m *Mediator) emit(event string, msg *Message) {
	m.mu.Lock()
	cbs := make([]EventCallback, 0, len(m.subscribers[event]))
	for _, s := range m.subscribers[event] {
		cbs = append(cbs, s.cb)
	}
	m.mu.Unlock()

	for _, cb := range cbs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Warn("subscriber panicked", "event", event, "error", r)
				}
			}()
			cb(event, msg)
		}()
	}
}

// GetStats returns a copy of the per-agent counters.
func (m *Mediator) GetStats() map[string]AgentStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]AgentStats, len(m.stats))
	for name, s := range m.stats {
		out[name] = *s
	}
	return out
}

// PendingFutures reports how many unresolved response futures exist.
func (m *Mediator) PendingFutures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.futures)
}

// GetHistory returns up to limit most recent messages, newest last,
// optionally filtered by sender.
func (m *Mediator) GetHistory(limit int, sender string) []*Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Message
	for _, msg := range m.history {
		if sender != "" && msg.Sender != sender {
			continue
		}
		out = append(out, msg)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Shutdown cancels all pending futures and waits briefly for in-flight
// handlers to observe cancellation.
func (m *Mediator) Shutdown() {
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		m.log.Warn("handlers still running at shutdown")
	}
}
