// Package embedrouter implements the Embedding Router from §4.F:
// priority- and availability-based provider ordering with fallback.
// The Router is stateless beyond its constructor inputs, matching
// routing.Router's ordered-candidate-list dispatch shape but with a
// fixed priority table instead of pluggable strategies.
package embedrouter

import (
	"context"

	"github.com/engramhq/engram/embedprovider"
	"github.com/engramhq/engram/errs"
)

// Priority is the caller-supplied urgency of an embedding request.
type Priority string

const (
	Low    Priority = "low"
	Normal Priority = "normal"
	High   Priority = "high"
)

// priorityOrder is the §4.F default-order table, keyed by provider name.
var priorityOrder = map[Priority][]string{
	High:   {"remote", "gpu", "local"},
	Normal: {"gpu", "local", "remote"},
	Low:    {"local", "gpu", "remote"},
}

// Request is one embedding dispatch request.
type Request struct {
	Text              string
	PreferredProvider string
	Priority          Priority
	FallbackEnabled   bool
}

// Result is a successful dispatch outcome.
type Result struct {
	Vector   []float32
	Provider string
}

// FailureObserver is notified of each provider failure encountered
// during dispatch, so callers can feed metrics/cost tracking without
// the Router holding any state of its own.
type FailureObserver func(provider string, err error)

// Router builds an ordered candidate list per request and dispatches
// through embedprovider.Provider instances until one succeeds.
type Router struct {
	providers map[string]embedprovider.Provider
}

// New builds a Router over the given named providers.
func New(providers map[string]embedprovider.Provider) *Router {
	return &Router{providers: providers}
}

// candidates builds the ordered provider-name list for req: preferred
// provider first if present and registered, then the priority table
// order, skipping absent providers and never repeating the preferred
// one.
func (r *Router) candidates(req Request) []string {
	order := priorityOrder[req.Priority]
	if order == nil {
		order = priorityOrder[Normal]
	}

	var out []string
	seen := make(map[string]bool)
	if req.PreferredProvider != "" {
		if _, ok := r.providers[req.PreferredProvider]; ok {
			out = append(out, req.PreferredProvider)
			seen[req.PreferredProvider] = true
		}
	}
	for _, name := range order {
		if seen[name] {
			continue
		}
		if _, ok := r.providers[name]; !ok {
			continue
		}
		out = append(out, name)
		seen[name] = true
	}
	return out
}

// Embed dispatches req through the ordered candidate list. On success
// it returns (vector, provider). On failure it reports the error to
// onFailure (if non-nil) and proceeds to the next candidate iff
// req.FallbackEnabled; otherwise it stops and propagates immediately.
// If every candidate fails, it returns AllProvidersFailed carrying the
// last error.
func (r *Router) Embed(ctx context.Context, req Request, onFailure FailureObserver) (Result, error) {
	candidates := r.candidates(req)
	if len(candidates) == 0 {
		return Result{}, errs.New(errs.AllProvidersFailed, "no embedding providers available")
	}

	var lastErr error
	for _, name := range candidates {
		provider := r.providers[name]
		vector, err := provider.Embed(ctx, req.Text)
		if err == nil {
			return Result{Vector: vector, Provider: name}, nil
		}
		lastErr = err
		if onFailure != nil {
			onFailure(name, err)
		}
		if !req.FallbackEnabled {
			return Result{}, err
		}
	}
	return Result{}, errs.Wrap(errs.AllProvidersFailed, "all embedding providers failed", lastErr)
}
