// Package alerting decides which detections raise an alert, using a CEL
// expression over the detection.
package alerting

import (
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/oslsr/kestrel/internal/domain"
)

// Policy is a compiled alert expression. It is safe for concurrent use.
//
// Variables available to the expression:
//
//	severity        string  clean, low, medium, high or critical
//	total_score     double  composite score, 0 to 100
//	scores          map     category name to component score
//	enumerator_id   string
//	submission_id   string
//	config_version  int
type Policy struct {
	expr    string
	program cel.Program
}

// Compile builds a policy. An empty expression uses
// domain.DefaultAlertExpression.
func Compile(expr string) (*Policy, error) {
	if expr == "" {
		expr = domain.DefaultAlertExpression
	}

	env, err := cel.NewEnv(
		cel.Variable("severity", cel.StringType),
		cel.Variable("total_score", cel.DoubleType),
		cel.Variable("scores", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable("enumerator_id", cel.StringType),
		cel.Variable("submission_id", cel.StringType),
		cel.Variable("config_version", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile alert expression: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("alert expression must return bool, got %s", ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create alert program: %w", err)
	}

	return &Policy{expr: expr, program: program}, nil
}

// Expression returns the source expression.
func (p *Policy) Expression() string { return p.expr }

// Match reports whether det raises an alert.
func (p *Policy) Match(det *domain.Detection) (bool, error) {
	scores := make(map[string]float64, len(domain.ScoringCategories))
	for _, c := range domain.ScoringCategories {
		scores[string(c)] = det.ComponentScores.Get(c)
	}

	out, _, err := p.program.Eval(map[string]any{
		"severity":       string(det.Severity),
		"total_score":    det.TotalScore,
		"scores":         scores,
		"enumerator_id":  det.EnumeratorID,
		"submission_id":  det.SubmissionID,
		"config_version": det.ConfigVersion,
	})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate alert expression: %w", err)
	}

	matched, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("alert expression returned %s", out.Type())
	}
	return bool(matched), nil
}

// Alert is the payload published when a detection matches the policy.
type Alert struct {
	DetectionID   string          `json:"detectionId"`
	SubmissionID  string          `json:"submissionId"`
	EnumeratorID  string          `json:"enumeratorId"`
	Severity      domain.Severity `json:"severity"`
	TotalScore    float64         `json:"totalScore"`
	Action        string          `json:"action"`
	ConfigVersion int64           `json:"configVersion"`
	Expression    string          `json:"expression"`
	RaisedAt      time.Time       `json:"raisedAt"`
}

// NewAlert builds the alert for det.
func (p *Policy) NewAlert(det *domain.Detection, at time.Time) Alert {
	return Alert{
		DetectionID:   det.ID,
		SubmissionID:  det.SubmissionID,
		EnumeratorID:  det.EnumeratorID,
		Severity:      det.Severity,
		TotalScore:    det.TotalScore,
		Action:        det.Severity.Action(),
		ConfigVersion: det.ConfigVersion,
		Expression:    p.expr,
		RaisedAt:      at.UTC(),
	}
}
