// Package dispatch is a generic command/event mediator adapted from
// ascetic-ddd-go's mediator package. The Engine registers ExecuteNode,
// ProcessInbound, and EnrollParticipant as typed requests so that
// cross-cutting concerns wrap every operation uniformly via pipelines (the
// Engine registers one, for structured logging), and publishes domain
// events that the host process (or tests) can subscribe to.
package dispatch

// Request is a marker interface associating a request type with its
// result type. Embed RequestBase[Res] to implement it.
type Request[Res any] interface {
	isRequest(*Res)
}

// RequestBase is embedded into request structs to implement Request[Res].
type RequestBase[Res any] struct{}

func (RequestBase[Res]) isRequest(*Res) {}

// RequestHandler handles a request of type Req, returning a result of type Res.
type RequestHandler[S, Req, Res any] = func(session S, request Req) (Res, error)

// EventHandler handles a published event of type E.
type EventHandler[S, E any] = func(session S, event E) error

// PipelineHandler wraps a request handler with cross-cutting behavior.
type PipelineHandler[S, Req, Res any] = func(session S, request Req, next RequestHandler[S, Req, Res]) (Res, error)

// BroadcastPipelineHandler wraps every request type uniformly.
type BroadcastPipelineHandler[S any] = func(session S, request any, next func(S, any) (any, error)) (any, error)
