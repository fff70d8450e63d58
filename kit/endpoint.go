// Package kit holds transport-agnostic plumbing shared by the HTTP and
// MCP surfaces: the Endpoint abstraction, middleware chaining, and
// context propagation of request-scoped identifiers.
package kit

import "context"

// Endpoint is the transport-agnostic form of a service operation: typed
// request in, typed response out. HTTP handlers and MCP tools both
// decode into an Endpoint.
type Endpoint func(ctx context.Context, request any) (any, error)

// Middleware wraps an Endpoint with cross-cutting behaviour.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares left to right: the first argument is the
// outermost wrapper.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
