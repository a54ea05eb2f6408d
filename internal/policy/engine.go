// Package policy evaluates the rego stage gate consulted before each
// pipeline stage is applied.
package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"
)

// Gate decisions.
const (
	DecisionContinue = "continue"
	DecisionFail     = "fail"
)

// Input is the document the stage gate is evaluated against.
type Input struct {
	SubjectID    string   `json:"subject_id"`
	RunID        string   `json:"run_id"`
	Stage        string   `json:"stage"`
	Progress     int      `json:"progress"`
	Participants []string `json:"participants"`
}

func (in Input) document() map[string]interface{} {
	participants := make([]interface{}, len(in.Participants))
	for i, p := range in.Participants {
		participants[i] = p
	}
	return map[string]interface{}{
		"subject_id":   in.SubjectID,
		"run_id":       in.RunID,
		"stage":        in.Stage,
		"progress":     in.Progress,
		"participants": participants,
	}
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a stage gate from rego source. The module must declare
// package stage_gate with a string decision rule and an optional reason.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.stage_gate"),
		rego.Module("stage_gate.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// NewEngineFromFile loads the policy at path, or DefaultPolicy when path is empty.
func NewEngineFromFile(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy %s: %w", path, err)
	}
	return NewEngine(ctx, string(content))
}

// Evaluate checks whether a stage may proceed.
// Returns: decision (continue, fail), reason (optional), error
func (e *Engine) Evaluate(ctx context.Context, input Input) (string, string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input.document()))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return "", "", fmt.Errorf("stage gate returned no result")
	}

	doc, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return "", "", fmt.Errorf("stage gate returned %T, want object", results[0].Expressions[0].Value)
	}

	decision, _ := doc["decision"].(string)
	reason, _ := doc["reason"].(string)
	switch decision {
	case DecisionContinue, DecisionFail:
		return decision, reason, nil
	case "":
		return "", "", fmt.Errorf("stage gate has no decision")
	default:
		return "", "", fmt.Errorf("stage gate returned unknown decision %q", decision)
	}
}

// DefaultPolicy is the default stage gate.
const DefaultPolicy = `
package stage_gate

default decision = "continue"

default reason = ""

# Citations need a second pair of eyes.
insufficient_reviewers {
	input.stage == "citation_check"
	count(input.participants) < 2
}

decision = "fail" {
	insufficient_reviewers
}

reason = "insufficient reviewers" {
	insufficient_reviewers
}
`
