package bodyimpact

import (
	"context"
	"time"

	"medical-insights-server/internal/analysis"
	"medical-insights-server/internal/extractor"
	"medical-insights-server/internal/inference"
	"medical-insights-server/internal/patterncache"
)

// ProfileStore reads subject profiles and writes analysis results back.
type ProfileStore interface {
	GetProfile(ctx context.Context, subjectID string) (*analysis.SubjectProfile, error)
	// AddConditions appends conditions; existing entries are never changed.
	AddConditions(ctx context.Context, subjectID string, conditions []analysis.ConditionMention) error
	// SaveSnapshot replaces the stored snapshot.
	SaveSnapshot(ctx context.Context, subjectID string, snapshot analysis.BodyImpactSnapshot) error
}

// ReportSource lists a subject's reports, with signed file refs, and stores
// the structured data extracted from them.
type ReportSource interface {
	ListReports(ctx context.Context, subjectID string) ([]analysis.Report, error)
	SaveParsedData(ctx context.Context, reportID string, params []analysis.ExtractedParameter, conditions []string) error
}

// PatternCache is the re-scan guard and scan log.
type PatternCache interface {
	NeedsScan(ctx context.Context, subjectID, reportID string, maxAgeDays int, now time.Time) (bool, *patterncache.Entry)
	Put(ctx context.Context, entry patterncache.Entry) error
}

// DocumentExtractor extracts report files in paced batches.
type DocumentExtractor interface {
	BatchExtract(ctx context.Context, files []analysis.ReportFile, progress extractor.Progress) []analysis.ExtractedDocument
}

// Inferrer runs the model-backed inference calls.
type Inferrer interface {
	InferConditions(ctx context.Context, params []analysis.ExtractedParameter, info *analysis.SubjectInfo) []string
	SuggestFromTypes(ctx context.Context, reportTypes []string, info *analysis.SubjectInfo) []string
	RequestBodyImpact(ctx context.Context, in inference.ImpactInput) ([]analysis.BodyPartImpact, error)
}

// Capability reports whether the external model is usable.
type Capability interface {
	Configured() bool
}
