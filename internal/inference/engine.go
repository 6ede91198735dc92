// Package inference asks the language model for probable conditions and for
// the body-impact breakdown of a subject's conditions.
package inference

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"

	"medical-insights-server/internal/analysis"
	"medical-insights-server/internal/llm"
)

const conditionsInstruction = `Given the abnormal laboratory parameters in the input (and the patient's age and gender when present), list the medical conditions that are most probably diagnosed.
Return only a JSON array of condition names, e.g. ["Iron Deficiency Anemia"]. Return [] when nothing is likely.`

const reportTypesInstruction = `The input lists the kinds of medical tests a patient has undergone. List the medical conditions that these tests are typically ordered to diagnose or monitor, limited to the most plausible ones.
Return only a JSON array of condition names. Return [] when the tests are routine screening.`

const bodyImpactInstruction = `Analyse how the patient's conditions affect the body. Conditions are the primary signal; abnormal parameters corroborate them.
Return JSON: {"affectedBodyParts": [{"partName": string, "severity": "low"|"medium"|"high", "description": string, "relatedConditions": [string], "relatedParameters": [string], "confidence": number between 0 and 1}]}.
Use plain anatomical names such as heart, kidneys, liver, lungs, brain, eyes, joints.`

// Engine runs the inference calls. Condition calls never fail; they return an
// empty list and log the reason.
type Engine struct {
	completer llm.Completer
	logger    *zap.Logger
}

// New creates an engine.
func New(completer llm.Completer, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{completer: completer, logger: logger}
}

// ImpactInput is the context sent with the holistic impact request.
type ImpactInput struct {
	Conditions  []string                      `json:"conditions"`
	Parameters  []analysis.ExtractedParameter `json:"parameters"`
	ReportTypes []string                      `json:"reportTypes,omitempty"`
	Subject     *analysis.SubjectInfo         `json:"subject,omitempty"`
}

type parameterInput struct {
	Name        string `json:"name"`
	Value       string `json:"value"`
	Unit        string `json:"unit,omitempty"`
	NormalRange string `json:"normalRange,omitempty"`
}

// InferConditions suggests conditions from abnormal parameters. Only parameters
// flagged abnormal are sent.
func (e *Engine) InferConditions(ctx context.Context, params []analysis.ExtractedParameter, info *analysis.SubjectInfo) []string {
	var abnormal []parameterInput
	for _, p := range params {
		if p.IsAbnormal {
			abnormal = append(abnormal, parameterInput{Name: p.Name, Value: string(p.Value), Unit: p.Unit, NormalRange: p.NormalRange})
		}
	}
	if len(abnormal) == 0 {
		return []string{}
	}

	input := map[string]any{"abnormalParameters": abnormal}
	addSubject(input, info)
	return e.suggest(ctx, "infer_conditions", conditionsInstruction, input)
}

// SuggestFromTypes suggests conditions implied by the kinds of tests ordered.
func (e *Engine) SuggestFromTypes(ctx context.Context, reportTypes []string, info *analysis.SubjectInfo) []string {
	var types []string
	for _, t := range reportTypes {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, t)
		}
	}
	if len(types) == 0 {
		return []string{}
	}

	input := map[string]any{"reportTypes": types}
	addSubject(input, info)
	return e.suggest(ctx, "suggest_from_types", reportTypesInstruction, input)
}

func (e *Engine) suggest(ctx context.Context, op, instruction string, input any) []string {
	raw, err := e.completer.Complete(ctx, llm.Request{Instruction: instruction, Context: input})
	if err != nil {
		e.logger.Warn("Condition inference failed",
			zap.String("op", op),
			zap.Error(analysis.NewError(analysis.ErrInference, op, err)),
		)
		return []string{}
	}
	conditions, ok := ParseStringArray(raw)
	if !ok {
		e.logger.Warn("Condition inference returned no usable list",
			zap.String("op", op),
			zap.Int("response_length", len(raw)),
		)
	}
	return conditions
}

// RequestBodyImpact asks for the body parts affected by the subject's conditions.
// It returns an inference error when the call fails or the answer is unusable.
func (e *Engine) RequestBodyImpact(ctx context.Context, in ImpactInput) ([]analysis.BodyPartImpact, error) {
	raw, err := e.completer.Complete(ctx, llm.Request{Instruction: bodyImpactInstruction, Context: in})
	if err != nil {
		return nil, analysis.NewError(analysis.ErrInference, "request_body_impact", err)
	}
	impacts, err := ParseBodyImpacts(raw)
	if err != nil {
		return nil, analysis.NewError(analysis.ErrInference, "request_body_impact", err)
	}
	return impacts, nil
}

// ParseStringArray reads the first JSON array of strings in raw. Blank entries
// are dropped. ok is false when no such array exists.
func ParseStringArray(raw string) (out []string, ok bool) {
	out = []string{}
	body := llm.FirstJSONArray(llm.StripFences(raw))
	if body == "" {
		return out, false
	}
	var values []string
	if err := json.Unmarshal([]byte(body), &values); err != nil {
		return out, false
	}
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out, true
}

// ParseBodyImpacts accepts {"affectedBodyParts": [...]}, {"bodyParts": [...]}
// or a bare array, whichever appears first in raw.
func ParseBodyImpacts(raw string) ([]analysis.BodyPartImpact, error) {
	text := llm.StripFences(raw)
	obj := llm.FirstJSONObject(text)
	arr := llm.FirstJSONArray(text)

	if obj != "" && (arr == "" || strings.Index(text, obj) < strings.Index(text, arr)) {
		var wrapper struct {
			AffectedBodyParts []analysis.BodyPartImpact `json:"affectedBodyParts"`
			BodyParts         []analysis.BodyPartImpact `json:"bodyParts"`
		}
		if err := json.Unmarshal([]byte(obj), &wrapper); err != nil {
			return nil, err
		}
		impacts := append(wrapper.AffectedBodyParts, wrapper.BodyParts...)
		return withPartNames(impacts), nil
	}
	if arr != "" {
		var impacts []analysis.BodyPartImpact
		if err := json.Unmarshal([]byte(arr), &impacts); err != nil {
			return nil, err
		}
		return withPartNames(impacts), nil
	}
	return nil, errors.New("no JSON in body impact response")
}

func withPartNames(impacts []analysis.BodyPartImpact) []analysis.BodyPartImpact {
	out := make([]analysis.BodyPartImpact, 0, len(impacts))
	for _, imp := range impacts {
		if strings.TrimSpace(imp.PartName) != "" {
			out = append(out, imp)
		}
	}
	return out
}

func addSubject(input map[string]any, info *analysis.SubjectInfo) {
	if info.IsZero() {
		return
	}
	input["subject"] = info
}
