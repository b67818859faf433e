package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newDefaultEvaluator(t *testing.T) *OPAEvaluator {
	t.Helper()
	e, err := NewOPAEvaluator(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	return e
}

func TestOPAEvaluator_HealthCheck(t *testing.T) {
	e := newDefaultEvaluator(t)
	if err := e.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestOPAEvaluator_DefaultPolicy(t *testing.T) {
	e := newDefaultEvaluator(t)
	testCases := []struct {
		name      string
		in        SessionLimitInput
		want      string
		wantEvict int64
	}{
		{"under limit evict mode", SessionLimitInput{ActiveSessions: 4, MaxSessions: 5, Mode: ActionEvictOldest}, ActionAllow, 0},
		{"under limit reject mode", SessionLimitInput{ActiveSessions: 0, MaxSessions: 5, Mode: ActionReject}, ActionAllow, 0},
		{"at limit allow mode", SessionLimitInput{ActiveSessions: 5, MaxSessions: 5, Mode: ActionAllow}, ActionAllow, 0},
		{"at limit evict mode", SessionLimitInput{ActiveSessions: 5, MaxSessions: 5, Mode: ActionEvictOldest}, ActionEvictOldest, 1},
		{"over limit evict mode", SessionLimitInput{ActiveSessions: 7, MaxSessions: 5, Mode: ActionEvictOldest}, ActionEvictOldest, 3},
		{"at limit reject mode", SessionLimitInput{ActiveSessions: 5, MaxSessions: 5, Mode: ActionReject}, ActionReject, 0},
		{"unknown mode", SessionLimitInput{ActiveSessions: 9, MaxSessions: 5, Mode: "block"}, ActionAllow, 0},
		{"no limit configured", SessionLimitInput{ActiveSessions: 9, MaxSessions: 0, Mode: ActionReject}, ActionAllow, 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := e.EvaluateSessionLimit(context.Background(), tc.in)
			if err != nil {
				t.Fatalf("EvaluateSessionLimit: %v", err)
			}
			if got.Action != tc.want {
				t.Errorf("Action = %q, want %q", got.Action, tc.want)
			}
			if got.EvictCount != tc.wantEvict {
				t.Errorf("EvictCount = %d, want %d", got.EvictCount, tc.wantEvict)
			}
		})
	}
}

func TestOPAEvaluator_CustomPolicy(t *testing.T) {
	custom := `package easybaby.session_limit

default action := "reject"

default evict_count := 0

action := "allow" if {
	startswith(input.subject_id, "admin-")
}
`
	e, err := NewOPAEvaluator(context.Background(), custom, nil)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	got, err := e.EvaluateSessionLimit(context.Background(), SessionLimitInput{SubjectID: "user-1", MaxSessions: 5})
	if err != nil {
		t.Fatalf("EvaluateSessionLimit: %v", err)
	}
	if got.Action != ActionReject {
		t.Errorf("Action = %q, want reject", got.Action)
	}
	got, _ = e.EvaluateSessionLimit(context.Background(), SessionLimitInput{SubjectID: "admin-1", MaxSessions: 5})
	if got.Action != ActionAllow {
		t.Errorf("Action = %q, want allow", got.Action)
	}
}

func TestOPAEvaluator_InvalidPolicy(t *testing.T) {
	if _, err := NewOPAEvaluator(context.Background(), "package broken\n\nallow if {", nil); err == nil {
		t.Fatal("NewOPAEvaluator with invalid Rego should fail")
	}
}

func TestOPAEvaluator_UnknownActionFallsBack(t *testing.T) {
	custom := `package easybaby.session_limit

action := "ban"
`
	core, logs := observer.New(zap.WarnLevel)
	e, err := NewOPAEvaluator(context.Background(), custom, zap.New(core))
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	if err := e.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck should fail for a policy returning an unknown action")
	}

	got, err := e.EvaluateSessionLimit(context.Background(), SessionLimitInput{ActiveSessions: 6, MaxSessions: 5, Mode: ActionEvictOldest})
	if err != nil {
		t.Fatalf("EvaluateSessionLimit: %v", err)
	}
	if got.Action != ActionEvictOldest || got.EvictCount != 2 {
		t.Errorf("fallback decision = %+v, want evict_oldest/2", got)
	}
	if logs.Len() != 1 {
		t.Errorf("expected one warning, got %d", logs.Len())
	}
}

func TestFallbackDecision(t *testing.T) {
	testCases := []struct {
		in   SessionLimitInput
		want SessionLimitDecision
	}{
		{SessionLimitInput{ActiveSessions: 1, MaxSessions: 5, Mode: ActionReject}, SessionLimitDecision{Action: ActionAllow}},
		{SessionLimitInput{ActiveSessions: 5, MaxSessions: 5, Mode: ActionReject}, SessionLimitDecision{Action: ActionReject}},
		{SessionLimitInput{ActiveSessions: 5, MaxSessions: 5, Mode: ActionAllow}, SessionLimitDecision{Action: ActionAllow}},
		{SessionLimitInput{ActiveSessions: 5, MaxSessions: 5, Mode: ActionEvictOldest}, SessionLimitDecision{Action: ActionEvictOldest, EvictCount: 1}},
		{SessionLimitInput{ActiveSessions: 5, MaxSessions: 0, Mode: ActionReject}, SessionLimitDecision{Action: ActionAllow}},
	}
	for _, tc := range testCases {
		if got := fallbackDecision(tc.in); got != tc.want {
			t.Errorf("fallbackDecision(%+v) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestLoadPolicyFile(t *testing.T) {
	got, err := LoadPolicyFile("")
	if err != nil || got != DefaultSessionLimitPolicy {
		t.Errorf("LoadPolicyFile(\"\") = %q, %v", got, err)
	}

	path := filepath.Join(t.TempDir(), "limit.rego")
	if err := os.WriteFile(path, []byte(DefaultSessionLimitPolicy), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err = LoadPolicyFile(path)
	if err != nil || got != DefaultSessionLimitPolicy {
		t.Errorf("LoadPolicyFile(path) = %q, %v", got, err)
	}

	if _, err := LoadPolicyFile(filepath.Join(t.TempDir(), "missing.rego")); err == nil {
		t.Error("LoadPolicyFile of missing file should fail")
	}
}
