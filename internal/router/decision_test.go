package router

import (
	"testing"

	"github.com/dotsetlabs/dotclaw/internal/config"
)

func TestRouteFastProfileForShortPrompt(t *testing.T) {
	r := New(config.RouterConfig{MaxFastChars: 50}, config.ModelConfig{ActiveModel: "m1"})
	d := r.Route("thanks!")
	if d.Profile != ProfileFast {
		t.Fatalf("expected fast profile, got %q", d.Profile)
	}
	if d.RecallMaxResults != 0 {
		t.Fatalf("expected zero recall on fast profile, got %d", d.RecallMaxResults)
	}
}

func TestRouteStandardProfileForLongOrToolish(t *testing.T) {
	r := New(config.RouterConfig{MaxFastChars: 20}, config.ModelConfig{ActiveModel: "m1"})
	d := r.Route("please search the web for the latest Go release notes")
	if d.Profile != ProfileStandard {
		t.Fatalf("expected standard profile, got %q", d.Profile)
	}
}

func TestRouteShortToolVerbPromptIsNotFast(t *testing.T) {
	r := New(config.RouterConfig{MaxFastChars: 100}, config.ModelConfig{ActiveModel: "m1"})
	d := r.Route("run this")
	if d.Profile == ProfileFast {
		t.Fatal("expected a tool-verb prompt to skip the fast profile even when short")
	}
}

func TestRouteShortMemoryIntentPromptIsNotFast(t *testing.T) {
	r := New(config.RouterConfig{MaxFastChars: 100, RecallMaxResults: 6, RecallMaxTokens: 800}, config.ModelConfig{ActiveModel: "m1"})
	d := r.Route("remember my coffee order")
	if d.Profile == ProfileFast {
		t.Fatal("expected a memory-intent prompt to skip the fast profile even when short")
	}
	if d.RecallMaxResults == 0 {
		t.Fatal("expected a non-zero recall budget once routed off the fast path")
	}
}

func TestAdaptedConfidenceThresholdRisesWithQueueDepth(t *testing.T) {
	r := New(config.RouterConfig{ConfidenceThreshold: 0.6}, config.ModelConfig{})
	low := r.AdaptedConfidenceThreshold(0)
	high := r.AdaptedConfidenceThreshold(20)
	if !(high > low) {
		t.Fatalf("expected threshold to rise with queue depth: low=%v high=%v", low, high)
	}
	if high > 0.95 {
		t.Fatalf("expected threshold capped at 0.95, got %v", high)
	}
}
