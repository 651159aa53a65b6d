package router

import (
	"strings"

	"github.com/dotsetlabs/dotclaw/internal/config"
)

// Profile is the execution tier a prompt routes to.
type Profile string

const (
	ProfileFast       Profile = "fast"
	ProfileStandard   Profile = "standard"
	ProfileBackground Profile = "background"
)

// Decision is the router's output for one incoming batch (§4.6).
type Decision struct {
	Profile             Profile
	Model               string
	Fallbacks           []string
	MaxOutputTokens     int
	MaxToolSteps        int
	ReasoningEffort     ReasoningEffort
	RecallMaxResults    int
	RecallMaxTokens     int
	ShouldRunClassifier bool
}

// toolVerbs are surface signals a prompt wants tool use, keeping it
// out of the zero-recall fast path even when short.
var toolVerbs = []string{"search", "fetch", "download", "run", "execute", "schedule", "remind", "calculate", "browse", "look up", "check the"}

// memoryIntentVerbs are explicit recall signals (§4.10) that must
// likewise keep a short prompt out of the fast path — ProfileFast
// leaves RecallMaxResults/RecallMaxTokens at zero, which would starve
// internal/memory.Recaller.Recall of a budget for exactly the kind of
// query it's meant to answer.
var memoryIntentVerbs = []string{"remember", "previously", "last time", "you said", "we talked about", "we discussed", "recall"}

// Router resolves a routing Decision for a batch of incoming text.
type Router struct {
	cfg      config.RouterConfig
	modelCfg config.ModelConfig
}

// New builds a Router from the runtime and model config snapshots.
func New(cfg config.RouterConfig, modelCfg config.ModelConfig) *Router {
	return &Router{cfg: cfg, modelCfg: modelCfg}
}

// Route implements §4.6's default profile selection.
func (r *Router) Route(prompt string) Decision {
	maxFast := r.cfg.MaxFastChars
	if maxFast <= 0 {
		maxFast = 200
	}

	if len(prompt) <= maxFast && !mentionsToolVerb(prompt) && !mentionsMemoryIntent(prompt) {
		return Decision{
			Profile:         ProfileFast,
			Model:           r.modelCfg.ActiveModel,
			Fallbacks:       r.modelCfg.Fallbacks,
			MaxOutputTokens: 512,
			MaxToolSteps:    0,
			ReasoningEffort: EffortOff,
		}
	}

	return Decision{
		Profile:             ProfileStandard,
		Model:               r.modelCfg.ActiveModel,
		Fallbacks:           r.modelCfg.Fallbacks,
		MaxOutputTokens:     4096,
		MaxToolSteps:        12,
		ReasoningEffort:     EffortMedium,
		RecallMaxResults:    r.cfg.RecallMaxResults,
		RecallMaxTokens:     r.cfg.RecallMaxTokens,
		ShouldRunClassifier: len(prompt) > maxFast,
	}
}

func mentionsToolVerb(prompt string) bool {
	lower := strings.ToLower(prompt)
	for _, v := range toolVerbs {
		if strings.Contains(lower, v) {
			return true
		}
	}
	return false
}

func mentionsMemoryIntent(prompt string) bool {
	lower := strings.ToLower(prompt)
	for _, v := range memoryIntentVerbs {
		if strings.Contains(lower, v) {
			return true
		}
	}
	return false
}

// AdaptedConfidenceThreshold raises the background-classifier
// acceptance bar as queue depth grows, so a backlog biases toward the
// cheaper synchronous path instead of spawning more background jobs
// (§4.6), capped at 0.95.
func (r *Router) AdaptedConfidenceThreshold(queueDepth int) float64 {
	base := r.cfg.ConfidenceThreshold
	if base <= 0 {
		base = 0.6
	}
	adapted := base + float64(queueDepth)*0.02
	if adapted > 0.95 {
		adapted = 0.95
	}
	return adapted
}

// AcceptClassifierResult reports whether a background-classifier
// confidence score clears the adapted threshold.
func (r *Router) AcceptClassifierResult(confidence float64, queueDepth int) bool {
	return confidence >= r.AdaptedConfidenceThreshold(queueDepth)
}
