package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"go.uber.org/zap"
)

const policyQuery = "data.easybaby.session_limit"

// DefaultSessionLimitPolicy applies the configured mode once the subject holds max_sessions or more.
// evict_oldest frees exactly enough slots for the new session.
const DefaultSessionLimitPolicy = `package easybaby.session_limit

default action := "allow"

default evict_count := 0

limit_reached if {
	input.max_sessions > 0
	input.active_sessions >= input.max_sessions
}

action := input.mode if {
	limit_reached
	input.mode in {"evict_oldest", "reject"}
}

evict_count := (input.active_sessions - input.max_sessions) + 1 if {
	action == "evict_oldest"
}
`

// OPAEvaluator evaluates the session-limit policy using OPA Rego. The query is prepared once;
// PreparedEvalQuery is safe for concurrent use.
type OPAEvaluator struct {
	query  rego.PreparedEvalQuery
	logger *zap.Logger
}

// NewOPAEvaluator compiles module, or DefaultSessionLimitPolicy when module is empty.
// Custom modules must declare package easybaby.session_limit with action and evict_count rules.
func NewOPAEvaluator(ctx context.Context, module string, logger *zap.Logger) (*OPAEvaluator, error) {
	if module == "" {
		module = DefaultSessionLimitPolicy
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	compiler, err := ast.CompileModules(map[string]string{"session_limit.rego": module})
	if err != nil {
		return nil, fmt.Errorf("compile session limit policy: %w", err)
	}
	q, err := rego.New(
		rego.Query(policyQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare session limit policy: %w", err)
	}
	return &OPAEvaluator{query: q, logger: logger}, nil
}

// LoadPolicyFile reads a Rego module from path. An empty path returns the default policy.
func LoadPolicyFile(path string) (string, error) {
	if path == "" {
		return DefaultSessionLimitPolicy, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read session limit policy: %w", err)
	}
	return string(b), nil
}

// HealthCheck verifies that the prepared policy evaluates and yields a known action.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	_, err := e.eval(ctx, SessionLimitInput{ActiveSessions: 0, MaxSessions: 1, Mode: ActionAllow})
	return err
}

// EvaluateSessionLimit evaluates the policy for in. When evaluation fails the configured mode is
// applied directly in Go, so a broken custom policy never silently disables the limit.
func (e *OPAEvaluator) EvaluateSessionLimit(ctx context.Context, in SessionLimitInput) (SessionLimitDecision, error) {
	d, err := e.eval(ctx, in)
	if err != nil {
		e.logger.Warn("policy: session limit evaluation failed, using configured mode",
			zap.String("subject_id", in.SubjectID), zap.String("mode", in.Mode), zap.Error(err))
		return fallbackDecision(in), nil
	}
	return d, nil
}

func (e *OPAEvaluator) eval(ctx context.Context, in SessionLimitInput) (SessionLimitDecision, error) {
	input := map[string]interface{}{
		"subject_id":      in.SubjectID,
		"active_sessions": in.ActiveSessions,
		"max_sessions":    in.MaxSessions,
		"mode":            in.Mode,
	}
	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return SessionLimitDecision{}, fmt.Errorf("eval session limit policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return SessionLimitDecision{}, fmt.Errorf("policy query returned no result")
	}
	doc, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return SessionLimitDecision{}, fmt.Errorf("policy query returned %T, want object", rs[0].Expressions[0].Value)
	}

	out := SessionLimitDecision{Action: ActionAllow}
	if action, ok := doc["action"].(string); ok {
		out.Action = action
	}
	switch out.Action {
	case ActionAllow, ActionEvictOldest, ActionReject:
	default:
		return SessionLimitDecision{}, fmt.Errorf("policy returned unknown action %q", out.Action)
	}
	switch v := doc["evict_count"].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil && n > 0 {
			out.EvictCount = n
		}
	case float64:
		if v > 0 {
			out.EvictCount = int64(v)
		}
	case int64:
		if v > 0 {
			out.EvictCount = v
		}
	}
	if out.Action == ActionEvictOldest && out.EvictCount == 0 {
		out.EvictCount = 1
	}
	return out, nil
}

func fallbackDecision(in SessionLimitInput) SessionLimitDecision {
	if in.MaxSessions <= 0 || in.ActiveSessions < int64(in.MaxSessions) {
		return SessionLimitDecision{Action: ActionAllow}
	}
	switch in.Mode {
	case ActionEvictOldest:
		return SessionLimitDecision{Action: ActionEvictOldest, EvictCount: in.ActiveSessions - int64(in.MaxSessions) + 1}
	case ActionReject:
		return SessionLimitDecision{Action: ActionReject}
	default:
		return SessionLimitDecision{Action: ActionAllow}
	}
}
