// Package intent resolves free text to supported provisioning intents and
// exposes the template registry powering slot elicitation and dispatch.
package intent

import (
	"context"
	"log/slog"

	"github.com/rayadhanush/infrapilot-kb/internal/knowledge"
)

// Well-known intent labels with dedicated dialogue behavior.
const (
	// Greeting short-circuits slot filling with a personalized reply.
	Greeting = "hi hello"

	// FreeForm routes to the retrieval-augmented generation path instead
	// of slot filling.
	FreeForm = "Create a security group"
)

// Matcher is the similarity-search collaborator. Implemented by
// knowledge.Store; defined here because this package is the consumer.
type Matcher interface {
	MatchIntent(ctx context.Context, text string) (*knowledge.IntentMatch, error)
	MatchTemplate(ctx context.Context, textOrIntent string) (*knowledge.Template, error)
}

// Resolver maps free text to an intent label, accepting a match only
// above its similarity threshold.
type Resolver struct {
	matcher   Matcher
	threshold float32
	logger    *slog.Logger
}

// NewResolver creates a Resolver. threshold <= 0 falls back to 0.8.
func NewResolver(matcher Matcher, threshold float32, logger *slog.Logger) *Resolver {
	if threshold <= 0 {
		threshold = 0.8
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{matcher: matcher, threshold: threshold, logger: logger}
}

// Resolve returns the best-matching intent for text, or ok=false when no
// match reaches the threshold. Collaborator errors propagate: the caller
// treats resolution failure as a hard error, not as "no match".
func (r *Resolver) Resolve(ctx context.Context, text string) (string, bool, error) {
	match, err := r.matcher.MatchIntent(ctx, text)
	if err != nil {
		return "", false, err
	}
	if match == nil || match.Similarity < r.threshold {
		if match != nil {
			r.logger.Debug("intent below threshold",
				"intent", match.Intent, "similarity", match.Similarity, "threshold", r.threshold)
		}
		return "", false, nil
	}
	return match.Intent, true, nil
}

// Registry looks up templates. Unlike the Resolver it applies no
// threshold: the best available row always wins, so a lookup by an exact
// intent label recovers that intent's template.
type Registry struct {
	matcher Matcher
}

// NewRegistry creates a Registry.
func NewRegistry(matcher Matcher) *Registry {
	return &Registry{matcher: matcher}
}

// Lookup returns the best-matching template for free text or an intent
// label, or nil when no templates are indexed.
func (r *Registry) Lookup(ctx context.Context, textOrIntent string) (*knowledge.Template, error) {
	return r.matcher.MatchTemplate(ctx, textOrIntent)
}
