package pipeline

import "testing"

func TestRouterFallsBackToDefault(t *testing.T) {
	t.Parallel()

	r := NewRouter(map[string]AgentEngine{"mock": MockAgent{}}, "mock")
	if !r.Has("mock") || r.Has("openai") {
		t.Fatal("unexpected registrations")
	}
	if _, err := r.Route("openai"); err != nil {
		t.Fatalf("expected fallback backend, got %v", err)
	}

	empty := NewRouter(map[string]AgentEngine{}, "mock")
	if _, err := empty.Route("openai"); err == nil {
		t.Fatal("expected error without a fallback backend")
	}
}
