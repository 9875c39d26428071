// Package middleware composes the HTTP middleware wrapped around the
// preview server's routes.
package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/pchhetri/zendesk-apps-tools/internal/logging"
)

// Middleware represents a single middleware function
type Middleware func(http.Handler) http.Handler

// MiddlewareChain is an ordered middleware stack. The first middleware
// added is the outermost: requests pass through the chain in the order it
// was built and responses in reverse.
type MiddlewareChain struct {
	middlewares []Middleware
}

// NewMiddlewareChain creates a chain from middlewares, outermost first.
func NewMiddlewareChain(middlewares ...Middleware) *MiddlewareChain {
	chain := &MiddlewareChain{middlewares: make([]Middleware, 0, len(middlewares))}
	for _, m := range middlewares {
		chain.AddMiddleware(m)
	}
	return chain
}

// AddMiddleware adds a middleware inside the ones already in the chain.
func (mc *MiddlewareChain) AddMiddleware(middleware Middleware) {
	if middleware == nil {
		panic("MiddlewareChain.AddMiddleware: middleware cannot be nil")
	}
	mc.middlewares = append(mc.middlewares, middleware)
}

// Len returns the number of middlewares in the chain.
func (mc *MiddlewareChain) Len() int {
	return len(mc.middlewares)
}

// Apply wraps handler with the whole chain. It does not modify the chain
// and is safe for concurrent use.
func (mc *MiddlewareChain) Apply(handler http.Handler) http.Handler {
	if handler == nil {
		panic("MiddlewareChain.Apply: handler cannot be nil")
	}

	wrapped := handler
	for i := len(mc.middlewares) - 1; i >= 0; i-- {
		wrapped = mc.middlewares[i](wrapped)
		if wrapped == nil {
			panic(fmt.Sprintf("MiddlewareChain.Apply: middleware at index %d returned nil handler", i))
		}
	}
	return wrapped
}

// Logging logs every request at debug level once it has been served.
func Logging(logger logging.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug(r.Context(), "Request",
				"method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
		})
	}
}

// Recover turns a panicking handler into a 500 and logs the stack. The
// http.ErrAbortHandler sentinel is passed through untouched.
func Recover(logger logging.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error(r.Context(), fmt.Errorf("panic: %v", rec), "Handler panicked",
					"method", r.Method, "path", r.URL.Path, "stack", string(debug.Stack()))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
