// Package bodyimpact runs the body-impact analysis for one subject: it picks
// reports, extracts the unscanned ones, infers conditions, asks for the
// holistic impact and folds it onto the body regions.
package bodyimpact

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"medical-insights-server/internal/analysis"
	"medical-insights-server/internal/inference"
	"medical-insights-server/internal/llm"
	"medical-insights-server/internal/mapper"
	"medical-insights-server/internal/metrics"
	"medical-insights-server/internal/patterncache"
	"medical-insights-server/internal/selector"
)

// Progress stages reported through Options.OnProgress.
const (
	StageSelect  = "select"
	StageScan    = "scan"
	StageInfer   = "infer"
	StageImpact  = "impact"
	StagePersist = "persist"
)

// MessageNoData is returned when the subject has no reports.
const MessageNoData = "No reports available for analysis"

const (
	fallbackSeverity   = analysis.SeverityMedium
	fallbackConfidence = 0.5
)

// Config holds the analysis limits.
type Config struct {
	Selection       selector.Config
	CacheMaxAgeDays int
}

// DefaultConfig returns the standard limits.
func DefaultConfig() Config {
	return Config{
		Selection:       selector.DefaultConfig(),
		CacheMaxAgeDays: patterncache.DefaultMaxAgeDays,
	}
}

// Dependencies are the collaborators of a Service.
type Dependencies struct {
	Profiles   ProfileStore
	Reports    ReportSource
	Cache      PatternCache
	Extractor  DocumentExtractor
	Inference  Inferrer
	Mapper     *mapper.Mapper
	Capability Capability
}

// Options tune a single run.
type Options struct {
	// OnProgress receives (stage, done, total). Optional.
	OnProgress func(stage string, done, total int)
}

// Result is the outcome of one run. It is returned even when persisting the
// snapshot failed.
type Result struct {
	Snapshot         analysis.BodyImpactSnapshot `json:"snapshot"`
	AddedConditions  []analysis.ConditionMention `json:"addedConditions"`
	ScannedReports   int                         `json:"scannedReports"`
	SkippedReports   int                         `json:"skippedReports"`
	FailedReports    int                         `json:"failedReports"`
	UnmappedMentions []string                    `json:"unmappedMentions"`
	UsedFallback     bool                        `json:"usedFallback"`
	Message          string                      `json:"message,omitempty"`
}

// Service is the analysis orchestrator. It holds no per-subject state, so
// concurrent runs for one subject are not excluded; the last snapshot write wins.
type Service struct {
	deps   Dependencies
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates the orchestrator.
func NewService(deps Dependencies, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{deps: deps, cfg: cfg, logger: logger, now: time.Now}
}

// run carries the working state of one Analyze call.
type run struct {
	subjectID string
	now       time.Time
	profile   *analysis.SubjectProfile
	reports   []analysis.Report
	opts      Options
	result    *Result
}

func (r *run) progress(stage string, done, total int) {
	if r.opts.OnProgress != nil {
		r.opts.OnProgress(stage, done, total)
	}
}

// Analyze runs a full analysis for subjectID and persists the snapshot.
func (s *Service) Analyze(ctx context.Context, subjectID string, opts Options) (*Result, error) {
	start := time.Now()
	res, err := s.analyze(ctx, subjectID, opts)

	outcome := "success"
	switch {
	case err != nil && res != nil:
		outcome = "persistence_failure"
	case err != nil:
		outcome = "error"
	case res.Message == MessageNoData:
		outcome = "no_data"
	}
	metrics.RecordAnalysisRun(outcome, time.Since(start))
	return res, err
}

func (s *Service) analyze(ctx context.Context, subjectID string, opts Options) (*Result, error) {
	if s.deps.Capability == nil || !s.deps.Capability.Configured() {
		return nil, analysis.NewError(analysis.ErrConfiguration, "analyze", llm.ErrNotConfigured)
	}

	profile, err := s.deps.Profiles.GetProfile(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", subjectID, err)
	}
	reports, err := s.deps.Reports.ListReports(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list reports for %s: %w", subjectID, err)
	}

	r := &run{
		subjectID: subjectID,
		now:       s.now(),
		profile:   profile,
		opts:      opts,
		result:    &Result{AddedConditions: []analysis.ConditionMention{}, UnmappedMentions: []string{}},
	}

	if len(reports) == 0 {
		r.result.Snapshot = emptySnapshot(r.now)
		r.result.Message = MessageNoData
		s.logger.Info("No reports to analyse", zap.String("subject_id", subjectID))
		return r.result, nil
	}

	// SELECT_REPORTS
	r.reports = selector.FilterAndSort(reports, s.cfg.Selection, r.now)
	candidates := selector.SelectForScanning(reports, s.cfg.Selection, r.now)
	r.progress(StageSelect, len(candidates), len(reports))

	// SCAN | SKIP_SCAN
	s.scan(ctx, r, candidates)

	// COLLECT_PARAMETERS_AND_CONDITIONS
	params := selector.DedupParameters(selector.CollectParameters(r.reports))
	existing := dedupMentions(profile.Conditions)
	fromReports := reportConditions(r.reports)

	// INFER_CONDITIONS
	r.progress(StageInfer, 0, 2)
	forInference := selector.OptimizeParameters(params, s.cfg.Selection.MaxParametersForGPT)
	info := subjectInfo(profile)
	fromParams := s.deps.Inference.InferConditions(ctx, forInference, info)
	r.progress(StageInfer, 1, 2)
	types := reportTypes(profile, r.reports)
	fromTypes := s.deps.Inference.SuggestFromTypes(ctx, types, info)
	r.progress(StageInfer, 2, 2)

	added := netNew(existing, fromReports, tag(fromParams, analysis.ProvenanceAIParameter), tag(fromTypes, analysis.ProvenanceAIReportType))
	if len(added) > 0 {
		if err := s.deps.Profiles.AddConditions(ctx, subjectID, added); err != nil {
			s.logger.Error("Failed to record inferred conditions",
				zap.String("subject_id", subjectID),
				zap.Int("count", len(added)),
				zap.Error(analysis.NewError(analysis.ErrPersistence, "add_conditions", err)),
			)
		}
	}
	r.result.AddedConditions = added

	conditions := make([]string, 0, len(existing)+len(added))
	for _, c := range existing {
		conditions = append(conditions, c.Name)
	}
	for _, c := range added {
		conditions = append(conditions, c.Name)
	}

	// REQUEST_HOLISTIC_IMPACT
	r.progress(StageImpact, 0, 1)
	mentions := s.holisticImpact(ctx, r, inference.ImpactInput{
		Conditions:  conditions,
		Parameters:  params,
		ReportTypes: types,
		Subject:     info,
	})
	r.progress(StageImpact, 1, 1)

	// MAP_AND_AGGREGATE
	mapped := s.deps.Mapper.MapDetailed(mentions)
	metrics.RecordUnmapped(len(mapped.Unmapped))
	r.result.UnmappedMentions = append(r.result.UnmappedMentions, mapped.Unmapped...)

	r.result.Snapshot = analysis.BodyImpactSnapshot{
		LastAnalyzedAt: r.now,
		BodyParts:      mapped.Impacts,
		Metadata: analysis.SnapshotMetadata{
			TotalConditionsAnalyzed: len(conditions),
			TotalParametersAnalyzed: len(params),
		},
	}
	if r.result.Snapshot.BodyParts == nil {
		r.result.Snapshot.BodyParts = []analysis.AggregatedBodyImpact{}
	}

	// PERSIST_SNAPSHOT
	r.progress(StagePersist, 0, 1)
	if err := s.deps.Profiles.SaveSnapshot(ctx, subjectID, r.result.Snapshot); err != nil {
		s.logger.Error("Failed to save body impact snapshot",
			zap.String("subject_id", subjectID),
			zap.Error(err),
		)
		return r.result, analysis.NewError(analysis.ErrPersistence, "save_snapshot", err)
	}
	r.progress(StagePersist, 1, 1)

	s.logger.Info("Body impact analysis completed",
		zap.String("subject_id", subjectID),
		zap.Int("scanned_reports", r.result.ScannedReports),
		zap.Int("skipped_reports", r.result.SkippedReports),
		zap.Int("failed_reports", r.result.FailedReports),
		zap.Int("conditions", len(conditions)),
		zap.Int("added_conditions", len(added)),
		zap.Int("parameters", len(params)),
		zap.Int("regions", len(r.result.Snapshot.BodyParts)),
		zap.Bool("fallback", r.result.UsedFallback),
	)
	return r.result, nil
}

// scan extracts the candidates that fail the re-scan guard and merges the
// extracted data into r.reports.
func (s *Service) scan(ctx context.Context, r *run, candidates []analysis.Report) {
	var files []analysis.ReportFile
	eligible := make(map[string]bool)
	for _, rep := range candidates {
		if len(rep.Files) == 0 {
			r.result.SkippedReports++
			continue
		}
		needs, _ := s.deps.Cache.NeedsScan(ctx, r.subjectID, rep.ID, s.cfg.CacheMaxAgeDays, r.now)
		if !needs {
			r.result.SkippedReports++
			continue
		}
		eligible[rep.ID] = true
		files = append(files, rep.Files...)
	}
	metrics.RecordReports("skipped", r.result.SkippedReports)
	if len(files) == 0 {
		return
	}

	docs := s.deps.Extractor.BatchExtract(ctx, files, func(done, total int) {
		r.progress(StageScan, done, total)
	})

	byReport := make(map[string]*analysis.ExtractedDocument)
	for i := range docs {
		doc := docs[i]
		merged, ok := byReport[doc.ReportID]
		if !ok {
			byReport[doc.ReportID] = &doc
			continue
		}
		merged.Parameters = append(merged.Parameters, doc.Parameters...)
		merged.Conditions = append(merged.Conditions, doc.Conditions...)
	}

	for i := range r.reports {
		rep := &r.reports[i]
		if !eligible[rep.ID] {
			continue
		}
		doc, ok := byReport[rep.ID]
		if !ok {
			r.result.FailedReports++
			continue
		}
		r.result.ScannedReports++

		merged := append(append([]analysis.ExtractedParameter(nil), doc.Parameters...), rep.Parameters...)
		rep.Parameters = selector.DedupParameters(merged)
		rep.Conditions = unionFold(rep.Conditions, doc.Conditions)

		entry := patterncache.Entry{
			ReportID:       rep.ID,
			SubjectID:      r.subjectID,
			Conditions:     unionFold(nil, doc.Conditions),
			ParameterNames: parameterNames(doc.Parameters),
			ScannedAt:      r.now,
		}
		if err := s.deps.Cache.Put(ctx, entry); err != nil {
			s.logger.Warn("Failed to write pattern cache entry",
				zap.String("subject_id", r.subjectID),
				zap.String("report_id", rep.ID),
				zap.Error(err),
			)
		}
		if err := s.deps.Reports.SaveParsedData(ctx, rep.ID, rep.Parameters, rep.Conditions); err != nil {
			s.logger.Warn("Failed to save parsed report data",
				zap.String("report_id", rep.ID),
				zap.Error(err),
			)
		}
	}
	metrics.RecordReports("scanned", r.result.ScannedReports)
	metrics.RecordReports("failed", r.result.FailedReports)
}

// holisticImpact asks for the body-part breakdown and falls back to mapping
// the condition labels themselves when the answer is unusable.
func (s *Service) holisticImpact(ctx context.Context, r *run, in inference.ImpactInput) []analysis.BodyPartImpact {
	if len(in.Conditions) == 0 && len(selector.AbnormalOnly(in.Parameters)) == 0 {
		return nil
	}

	impacts, err := s.deps.Inference.RequestBodyImpact(ctx, in)
	if err == nil && len(impacts) > 0 {
		return impacts
	}
	if err != nil {
		s.logger.Warn("Holistic impact request failed, falling back to condition mapping",
			zap.String("subject_id", r.subjectID),
			zap.Error(err),
		)
	}

	r.result.UsedFallback = true
	var out []analysis.BodyPartImpact
	for _, c := range in.Conditions {
		match, ok := s.deps.Mapper.Resolve(c)
		if !ok {
			continue
		}
		out = append(out, analysis.BodyPartImpact{
			PartName:          match.RegionID,
			Severity:          fallbackSeverity,
			Description:       "Associated with " + c,
			RelatedConditions: []string{c},
			Confidence:        fallbackConfidence,
		})
	}
	return out
}

func emptySnapshot(now time.Time) analysis.BodyImpactSnapshot {
	return analysis.BodyImpactSnapshot{
		LastAnalyzedAt: now,
		BodyParts:      []analysis.AggregatedBodyImpact{},
	}
}

func subjectInfo(p *analysis.SubjectProfile) *analysis.SubjectInfo {
	if p.Info.IsZero() {
		return nil
	}
	info := p.Info
	return &info
}

// reportConditions lists conditions found verbatim in reports.
func reportConditions(reports []analysis.Report) []analysis.ConditionMention {
	var out []analysis.ConditionMention
	for _, rep := range reports {
		out = append(out, tag(rep.Conditions, analysis.ProvenanceReport)...)
	}
	return out
}

// reportTypes is the sorted, case-insensitively distinct set of report types.
func reportTypes(p *analysis.SubjectProfile, reports []analysis.Report) []string {
	all := append([]string(nil), p.ReportTypes...)
	for _, rep := range reports {
		all = append(all, rep.Type)
	}
	out := unionFold(nil, all)
	sort.Strings(out)
	return out
}

func tag(names []string, provenance analysis.Provenance) []analysis.ConditionMention {
	out := make([]analysis.ConditionMention, 0, len(names))
	for _, n := range names {
		out = append(out, analysis.ConditionMention{Name: n, Provenance: provenance})
	}
	return out
}

func dedupMentions(mentions []analysis.ConditionMention) []analysis.ConditionMention {
	return netNew(nil, mentions)
}

// netNew returns the candidates whose names are not in known, compared
// case-insensitively, keeping the first spelling and provenance seen.
func netNew(known []analysis.ConditionMention, candidates ...[]analysis.ConditionMention) []analysis.ConditionMention {
	seen := make(map[string]bool, len(known))
	for _, k := range known {
		seen[foldKey(k.Name)] = true
	}
	out := []analysis.ConditionMention{}
	for _, group := range candidates {
		for _, c := range group {
			c.Name = strings.TrimSpace(c.Name)
			key := foldKey(c.Name)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, c)
		}
	}
	return out
}

// unionFold appends the values of add not already in base, case-insensitively.
func unionFold(base, add []string) []string {
	seen := make(map[string]bool, len(base))
	out := make([]string, 0, len(base)+len(add))
	for _, v := range append(append([]string(nil), base...), add...) {
		v = strings.TrimSpace(v)
		key := foldKey(v)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}

func parameterNames(params []analysis.ExtractedParameter) []string {
	names := make([]string, 0, len(params))
	for _, p := range params {
		names = append(names, p.Name)
	}
	return unionFold(nil, names)
}

func foldKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
