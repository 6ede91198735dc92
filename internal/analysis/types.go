package analysis

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Severity is the impact level reported for a body part.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Score returns the ordinal of the severity (low=1, medium=2, high=3).
func (s Severity) Score() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}

// SeverityFromScore is the inverse of Score.
func SeverityFromScore(score int) Severity {
	switch {
	case score >= 3:
		return SeverityHigh
	case score == 2:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// ParseSeverity normalises a free-text severity label. Unknown labels map to low.
func ParseSeverity(raw string) Severity {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "high", "severe", "critical":
		return SeverityHigh
	case "medium", "moderate":
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Provenance records which sub-process produced a condition.
type Provenance string

const (
	ProvenanceReport       Provenance = "report"
	ProvenanceAIParameter  Provenance = "ai_parameter"
	ProvenanceAIReportType Provenance = "ai_report_type"
	ProvenanceExisting     Provenance = "existing"
)

// ConditionMention is a condition label plus where it came from.
type ConditionMention struct {
	Name       string     `json:"name"`
	Provenance Provenance `json:"provenance"`
}

// ParameterValue holds a parameter value that may arrive as a JSON number or string.
type ParameterValue string

// UnmarshalJSON accepts numbers, strings and null.
func (v *ParameterValue) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*v = ""
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = ParameterValue(strings.TrimSpace(s))
		return nil
	}
	*v = ParameterValue(trimmed)
	return nil
}

// Float parses the leading numeric portion of the value ("7.2 %" -> 7.2).
func (v ParameterValue) Float() (float64, bool) {
	s := strings.TrimSpace(string(v))
	end := 0
	for end < len(s) {
		c := s[end]
		if (c >= '0' && c <= '9') || c == '.' || ((c == '-' || c == '+') && end == 0) {
			end++
			continue
		}
		break
	}
	if end == 0 {
		return 0, false
	}
	f, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ExtractedParameter is one measured test parameter.
type ExtractedParameter struct {
	Name           string         `json:"name"`
	Value          ParameterValue `json:"value"`
	Unit           string         `json:"unit,omitempty"`
	NormalRange    string         `json:"normalRange,omitempty"`
	IsAbnormal     bool           `json:"isAbnormal"`
	SourceReportID string         `json:"sourceReportId,omitempty"`
	ObservedAt     *time.Time     `json:"observedAt,omitempty"`
}

// NormalizedName is the grouping key used for deduplication.
func (p ExtractedParameter) NormalizedName() string {
	return strings.ToLower(strings.TrimSpace(p.Name))
}

// ReportFile references one stored report document.
type ReportFile struct {
	ID       string `json:"id"`
	ReportID string `json:"reportId"`
	FileName string `json:"fileName"`
	MIMEType string `json:"mimeType"`
	// Ref is a time-limited signed reference understood by the blob store.
	Ref string `json:"ref"`
}

// Report is the read model of one persisted report for a subject.
type Report struct {
	ID         string               `json:"id"`
	SubjectID  string               `json:"subjectId"`
	Type       string               `json:"type"`
	Date       time.Time            `json:"date"`
	Parameters []ExtractedParameter `json:"parameters"`
	Conditions []string             `json:"conditions"`
	Files      []ReportFile         `json:"files,omitempty"`
}

// ExtractedDocument is the structured result of scanning one report file.
type ExtractedDocument struct {
	ReportID   string               `json:"reportId"`
	FileID     string               `json:"fileId"`
	Text       string               `json:"text"`
	Parameters []ExtractedParameter `json:"parameters"`
	Conditions []string             `json:"conditions"`
}

// SubjectInfo is optional demographic context for inference.
type SubjectInfo struct {
	Age    int    `json:"age,omitempty"`
	Gender string `json:"gender,omitempty"`
}

// IsZero reports whether no demographic context is available.
func (s *SubjectInfo) IsZero() bool {
	return s == nil || (s.Age <= 0 && s.Gender == "")
}

// SubjectProfile is the read model of a subject's profile.
type SubjectProfile struct {
	ID          string             `json:"id"`
	Conditions  []ConditionMention `json:"conditions"`
	ReportTypes []string           `json:"reportTypes"`
	Info        SubjectInfo        `json:"info"`
}

// BodyPartImpact is one unmapped claim that a body area is affected.
type BodyPartImpact struct {
	PartName          string   `json:"partName"`
	Severity          Severity `json:"severity"`
	Description       string   `json:"description"`
	RelatedConditions []string `json:"relatedConditions"`
	RelatedParameters []string `json:"relatedParameters"`
	Confidence        float64  `json:"confidence"`
}

// UnmarshalJSON tolerates the field aliases seen in model output and normalises severity.
func (b *BodyPartImpact) UnmarshalJSON(data []byte) error {
	var raw struct {
		PartName          string          `json:"partName"`
		Part              string          `json:"part"`
		BodyPart          string          `json:"bodyPart"`
		Name              string          `json:"name"`
		Severity          string          `json:"severity"`
		Description       string          `json:"description"`
		ImpactDescription string          `json:"impactDescription"`
		RelatedConditions []string        `json:"relatedConditions"`
		Conditions        []string        `json:"conditions"`
		RelatedParameters []string        `json:"relatedParameters"`
		Parameters        []string        `json:"parameters"`
		Confidence        json.RawMessage `json:"confidence"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	b.PartName = firstNonEmpty(raw.PartName, raw.BodyPart, raw.Part, raw.Name)
	b.Severity = ParseSeverity(raw.Severity)
	b.Description = firstNonEmpty(raw.Description, raw.ImpactDescription)
	b.RelatedConditions = append(raw.RelatedConditions, raw.Conditions...)
	b.RelatedParameters = append(raw.RelatedParameters, raw.Parameters...)
	b.Confidence = 0
	if len(raw.Confidence) > 0 {
		var pv ParameterValue
		if err := pv.UnmarshalJSON(raw.Confidence); err == nil {
			if f, ok := pv.Float(); ok {
				b.Confidence = f
			}
		}
	}
	return nil
}

// AggregatedBodyImpact is the merged impact for one taxonomy region.
type AggregatedBodyImpact struct {
	PartID            string   `json:"partId"`
	PartName          string   `json:"partName"`
	Severity          Severity `json:"severity"`
	ImpactDescription string   `json:"impactDescription"`
	RelatedConditions []string `json:"relatedConditions"`
	RelatedParameters []string `json:"relatedParameters"`
	Confidence        float64  `json:"confidence"`
}

// SnapshotMetadata summarises the inputs of a run.
type SnapshotMetadata struct {
	TotalConditionsAnalyzed int `json:"totalConditionsAnalyzed"`
	TotalParametersAnalyzed int `json:"totalParametersAnalyzed"`
}

// BodyImpactSnapshot is the full, replaceable result of one analysis run.
type BodyImpactSnapshot struct {
	LastAnalyzedAt time.Time              `json:"lastAnalyzedAt"`
	BodyParts      []AggregatedBodyImpact `json:"bodyParts"`
	Metadata       SnapshotMetadata       `json:"metadata"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
