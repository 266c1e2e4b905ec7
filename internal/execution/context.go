// Package execution holds the state owned by one workflow execution run.
package execution

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Context is owned by exactly one execution run. Close must be called when the
// run is discarded; it tears down every live subscription registered on it.
type Context struct {
	WorkflowID  string
	ExecutionID string
	UserID      string
	StrategyID  string
	StartTime   time.Time

	Subscriptions *Registry

	mu     sync.RWMutex
	shared map[string]interface{}
}

func NewContext(workflowID, strategyID, userID string) *Context {
	return &Context{
		WorkflowID:    workflowID,
		ExecutionID:   uuid.NewString(),
		UserID:        userID,
		StrategyID:    strategyID,
		StartTime:     time.Now().UTC(),
		Subscriptions: NewRegistry(),
		shared:        make(map[string]interface{}),
	}
}

// Set stores a value in the run's shared state.
func (c *Context) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shared[key] = value
}

func (c *Context) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.shared[key]
	return v, ok
}

// Close unsubscribes all live subscriptions synchronously. Safe to call twice.
func (c *Context) Close() {
	n := c.Subscriptions.CloseAll()
	log.Info().
		Str("workflow", c.WorkflowID).
		Str("execution", c.ExecutionID).
		Int("unsubscribed", n).
		Msg("Execution context closed")
}

// Registry maps a market condition id to its live subscription handle.
type Registry struct {
	mu     sync.Mutex
	subs   map[string]func()
	closed bool
}

func NewRegistry() *Registry {
	return &Registry{subs: make(map[string]func())}
}

// Register stores unsubscribe under key. It returns false, and invokes
// unsubscribe immediately, if the key is already held or the registry is closed.
func (r *Registry) Register(key string, unsubscribe func()) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		unsubscribe()
		return false
	}
	if _, exists := r.subs[key]; exists {
		r.mu.Unlock()
		unsubscribe()
		return false
	}
	r.subs[key] = onceFunc(unsubscribe)
	r.mu.Unlock()
	return true
}

func (r *Registry) Has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.subs[key]
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Unsubscribe tears down one subscription. Reports whether key was held.
func (r *Registry) Unsubscribe(key string) bool {
	r.mu.Lock()
	fn, ok := r.subs[key]
	delete(r.subs, key)
	r.mu.Unlock()
	if ok {
		fn()
	}
	return ok
}

// CloseAll invokes every held handle exactly once and refuses later registrations.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	subs := r.subs
	r.subs = make(map[string]func())
	r.closed = true
	r.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
	return len(subs)
}

func onceFunc(fn func()) func() {
	var once sync.Once
	return func() { once.Do(fn) }
}
