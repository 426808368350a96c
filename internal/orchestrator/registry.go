package orchestrator

import "tradeflow/internal/logger"

// EventHandler processes one event type.
type EventHandler interface {
	// Type returns the event type this handler processes.
	Type() EventType

	// Handle processes the event. The envelope's correlation ID has
	// already passed the suppression check by the time Handle runs.
	Handle(ctx *HandlerContext, evt EventEnvelope) error
}

// HandlerContext gives handlers access to orchestrator internals without
// exposing the whole Orchestrator.
type HandlerContext struct {
	orc *Orchestrator
}

func (c *HandlerContext) Orchestrator() *Orchestrator { return c.orc }

// HandlerRegistry maps event types to their handlers.
type HandlerRegistry struct {
	handlers map[EventType]EventHandler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[EventType]EventHandler)}
}

// Register adds a handler, replacing any existing handler for the same
// event type.
func (r *HandlerRegistry) Register(h EventHandler) {
	if h == nil {
		return
	}
	r.handlers[h.Type()] = h
}

// Get returns the handler for the given event type.
func (r *HandlerRegistry) Get(t EventType) (EventHandler, bool) {
	h, ok := r.handlers[t]
	return h, ok
}

// RegisterDefaultHandlers registers all built-in workflow handlers.
func (r *HandlerRegistry) RegisterDefaultHandlers() {
	r.Register(&WorkflowStartedHandler{})
	r.Register(&SignalGeneratedHandler{})
	r.Register(&RebalancePlannedHandler{})
	r.Register(&TradeExecutedHandler{})
	r.Register(&WorkflowCompletedHandler{})
	r.Register(&WorkflowFailedHandler{})
	logger.Debugf("orchestrator: registered %d event handlers", len(r.handlers))
}
