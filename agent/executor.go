package agent

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// ExecutorConfig bounds one Executor's behavior (spec.md §4.5, §5).
type ExecutorConfig struct {
	HistoryWindow   int           // N: messages loaded per session (default 6-10)
	MaxExchanges    int           // M: exchange cap per session (default 10)
	SessionTTL      time.Duration // idle eviction (default 1h)
	MaxSessions     int           // LRU cap (default 1000)
	RequestTimeout  time.Duration // graph total timeout (default 60s)
	SessionLockWait time.Duration // bound on waiting for another in-flight request on the same session
}

// DefaultExecutorConfig matches spec.md §4.5/§5's stated defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		HistoryWindow:   8,
		MaxExchanges:    10,
		SessionTTL:      time.Hour,
		MaxSessions:     1000,
		RequestTimeout:  60 * time.Second,
		SessionLockWait: 30 * time.Second,
	}
}

// Result is what the executor returns to the ingress handler.
type Result struct {
	Response    string
	Error       string
	ToolResults []ToolResult
}

// Executor runs the graph per request, serializing concurrent requests for
// the same session and evicting idle sessions (spec.md §5 "Graph execution",
// §4.5 "Conversation memory size").
type Executor struct {
	graph *Graph
	store *Store
	cfg   ExecutorConfig

	mu       sync.Mutex
	locks    map[string]*sessionLock
	lru      *list.List
	lruNodes map[string]*list.Element
}

// sessionLock is a channel-based mutex (buffer 1: empty means held) so
// acquisition can respect a context deadline without leaving a sync.Mutex
// locked forever by an abandoned goroutine on timeout.
type sessionLock struct {
	sem      chan struct{}
	lastUsed time.Time
}

func newSessionLock() *sessionLock {
	sem := make(chan struct{}, 1)
	sem <- struct{}{}
	return &sessionLock{sem: sem}
}

// NewExecutor builds an Executor over graph and store.
func NewExecutor(graph *Graph, store *Store, cfg ExecutorConfig) *Executor {
	return &Executor{
		graph:    graph,
		store:    store,
		cfg:      cfg,
		locks:    make(map[string]*sessionLock),
		lru:      list.New(),
		lruNodes: make(map[string]*list.Element),
	}
}

// Run executes one request for sessionID: loads session state, runs the
// graph, persists the turn, and returns the reply text (spec.md §4.6).
// dryRun, when true, threads AgentState.DryRun so every tool call in this
// run plans without mutating the vault (spec.md §6 "execute=false").
func (e *Executor) Run(ctx context.Context, sessionID, traceID, userText string, progress func(string), dryRun bool) (Result, error) {
	lock := e.acquireSessionLock(sessionID)

	lockCtx, cancel := context.WithTimeout(ctx, e.cfg.SessionLockWait)
	defer cancel()
	select {
	case <-lock.sem:
		defer func() { lock.sem <- struct{}{} }()
	case <-lockCtx.Done():
		return Result{}, lockCtx.Err()
	}

	runCtx, cancel2 := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel2()

	state, err := e.store.LoadSession(runCtx, sessionID, e.cfg.HistoryWindow)
	if err != nil {
		return Result{}, err
	}
	state.TraceID = traceID
	state.Messages = append(state.Messages, Message{Role: "user", Content: userText})
	state.ProgressCallback = progress
	state.DryRun = dryRun

	final, err := e.graph.Run(runCtx, state)
	if err != nil {
		return Result{}, err
	}

	if err := e.store.SaveTurn(runCtx, sessionID, userText, final); err != nil {
		return Result{Response: final.Response, Error: final.Error, ToolResults: final.ToolResults}, err
	}
	if err := e.store.TrimSession(runCtx, sessionID, e.cfg.MaxExchanges); err != nil {
		return Result{Response: final.Response, Error: final.Error, ToolResults: final.ToolResults}, err
	}

	return Result{Response: final.Response, Error: final.Error, ToolResults: final.ToolResults}, nil
}

// acquireSessionLock returns sessionID's lock, creating it if absent and
// evicting the least-recently-used entries beyond MaxSessions or older than
// SessionTTL (spec.md §4.5 "Evict sessions idle beyond TTL... LRU cap").
func (e *Executor) acquireSessionLock(sessionID string) *sessionLock {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.evictLocked()

	lock, ok := e.locks[sessionID]
	if !ok {
		lock = newSessionLock()
		e.locks[sessionID] = lock
		e.lruNodes[sessionID] = e.lru.PushFront(sessionID)
	} else {
		e.lru.MoveToFront(e.lruNodes[sessionID])
	}
	lock.lastUsed = time.Now()
	return lock
}

func (e *Executor) evictLocked() {
	now := time.Now()
	for e.lru.Len() > 0 {
		back := e.lru.Back()
		id := back.Value.(string)
		lock := e.locks[id]
		stale := e.cfg.SessionTTL > 0 && now.Sub(lock.lastUsed) > e.cfg.SessionTTL
		over := e.cfg.MaxSessions > 0 && e.lru.Len() > e.cfg.MaxSessions
		if !stale && !over {
			break
		}
		e.lru.Remove(back)
		delete(e.lruNodes, id)
		delete(e.locks, id)
	}
}
