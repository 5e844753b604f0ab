package middleware

import "net/http"

// Middleware is a function that wraps an http.Handler
type Middleware func(http.Handler) http.Handler

// Named is implemented by handlers that serve a named RPC service. Wrapping a
// Named handler with a Chain keeps the name visible to registries.
type Named interface {
	ServiceName() string
}

type namedHandler struct {
	http.Handler
	name string
}

func (n namedHandler) ServiceName() string { return n.name }

// WithName attaches a service name to h.
func WithName(h http.Handler, name string) http.Handler {
	return namedHandler{Handler: h, name: name}
}

// ServiceName returns the name carried by h, or "" when h is not Named.
func ServiceName(h http.Handler) string {
	if n, ok := h.(Named); ok {
		return n.ServiceName()
	}
	return ""
}

// Chain is an immutable, ordered list of middlewares. The first middleware is
// the outermost; composing chains is associative.
type Chain struct {
	middlewares []Middleware
}

// NewChain creates a new middleware chain
func NewChain(middlewares ...Middleware) *Chain {
	return &Chain{
		middlewares: append([]Middleware(nil), middlewares...),
	}
}

// Then chains the middlewares and returns the final handler. A nil handler
// answers 404.
func (c *Chain) Then(h http.Handler) http.Handler {
	if h == nil {
		h = http.NotFoundHandler()
	}
	name := ServiceName(h)

	for i := len(c.middlewares) - 1; i >= 0; i-- {
		h = c.middlewares[i](h)
	}

	if name != "" && ServiceName(h) != name {
		h = WithName(h, name)
	}
	return h
}

// ThenFunc chains the middlewares with an http.HandlerFunc
func (c *Chain) ThenFunc(fn http.HandlerFunc) http.Handler {
	if fn == nil {
		return c.Then(nil)
	}
	return c.Then(fn)
}

// Append returns a new chain with middlewares added innermost.
func (c *Chain) Append(middlewares ...Middleware) *Chain {
	out := make([]Middleware, 0, len(c.middlewares)+len(middlewares))
	out = append(out, c.middlewares...)
	out = append(out, middlewares...)
	return &Chain{middlewares: out}
}

// Prepend returns a new chain with middlewares added outermost.
func (c *Chain) Prepend(middlewares ...Middleware) *Chain {
	out := make([]Middleware, 0, len(c.middlewares)+len(middlewares))
	out = append(out, middlewares...)
	out = append(out, c.middlewares...)
	return &Chain{middlewares: out}
}

// Extend extends the chain with another chain
func (c *Chain) Extend(other *Chain) *Chain {
	return c.Append(other.middlewares...)
}

// Len returns the number of middlewares in the chain
func (c *Chain) Len() int {
	return len(c.middlewares)
}

// Builder helps build middleware chains dynamically
type Builder struct {
	middlewares []Middleware
}

// NewBuilder creates a new middleware builder
func NewBuilder() *Builder {
	return &Builder{}
}

// Use adds a middleware to the builder. Nil middlewares are skipped.
func (b *Builder) Use(m Middleware) *Builder {
	if m != nil {
		b.middlewares = append(b.middlewares, m)
	}
	return b
}

// UseIf adds a middleware conditionally
func (b *Builder) UseIf(condition bool, m Middleware) *Builder {
	if condition {
		b.Use(m)
	}
	return b
}

// Build creates a Chain from the builder
func (b *Builder) Build() *Chain {
	return NewChain(b.middlewares...)
}

// Handler wraps the given handler with all middlewares
func (b *Builder) Handler(h http.Handler) http.Handler {
	return b.Build().Then(h)
}

// HandlerFunc wraps the given handler function with all middlewares
func (b *Builder) HandlerFunc(fn http.HandlerFunc) http.Handler {
	return b.Build().ThenFunc(fn)
}
