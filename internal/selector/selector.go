// Package selector decides which reports are worth sending to expensive
// extraction and bounds the parameter set handed to inference.
package selector

import (
	"math"
	"sort"
	"time"

	"medical-insights-server/internal/analysis"
)

// Config holds the selection limits.
type Config struct {
	// MaxReportAgeDays drops older reports; 0 disables the age filter.
	MaxReportAgeDays int
	// MaxReportsToScan caps how many reports go to extraction.
	MaxReportsToScan int
	// MaxParametersForGPT caps the parameters sent to inference.
	MaxParametersForGPT int
}

// DefaultConfig returns the standard limits.
func DefaultConfig() Config {
	return Config{
		MaxReportAgeDays:    365,
		MaxReportsToScan:    10,
		MaxParametersForGPT: 50,
	}
}

// FilterAndSort applies the age filter and orders reports newest first, then
// by parameter count descending. The result is not capped.
func FilterAndSort(reports []analysis.Report, cfg Config, now time.Time) []analysis.Report {
	out := make([]analysis.Report, 0, len(reports))
	var cutoff time.Time
	if cfg.MaxReportAgeDays > 0 {
		cutoff = now.AddDate(0, 0, -cfg.MaxReportAgeDays)
	}
	for _, r := range reports {
		if !cutoff.IsZero() && r.Date.Before(cutoff) {
			continue
		}
		out = append(out, r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		if len(out[i].Parameters) != len(out[j].Parameters) {
			return len(out[i].Parameters) > len(out[j].Parameters)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SelectForScanning returns at most MaxReportsToScan of the filtered, sorted reports.
func SelectForScanning(reports []analysis.Report, cfg Config, now time.Time) []analysis.Report {
	sorted := FilterAndSort(reports, cfg, now)
	limit := cfg.MaxReportsToScan
	if limit < 0 {
		limit = 0
	}
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}

// CollectParameters flattens report parameters, stamping each with its source
// report and, when missing, the report date as observation time.
func CollectParameters(reports []analysis.Report) []analysis.ExtractedParameter {
	var out []analysis.ExtractedParameter
	for _, r := range reports {
		date := r.Date
		for _, p := range r.Parameters {
			if p.SourceReportID == "" {
				p.SourceReportID = r.ID
			}
			if p.ObservedAt == nil && !date.IsZero() {
				d := date
				p.ObservedAt = &d
			}
			out = append(out, p)
		}
	}
	return out
}

// DedupParameters keeps one parameter per normalised name, preferring the
// abnormal one, then one carrying a normal range, then the most recent.
// Output follows the order in which each name first appeared.
func DedupParameters(params []analysis.ExtractedParameter) []analysis.ExtractedParameter {
	index := make(map[string]int)
	out := make([]analysis.ExtractedParameter, 0, len(params))
	for _, p := range params {
		key := p.NormalizedName()
		if key == "" {
			continue
		}
		i, seen := index[key]
		if !seen {
			index[key] = len(out)
			out = append(out, p)
			continue
		}
		if preferred(p, out[i]) {
			out[i] = p
		}
	}
	return out
}

// preferred reports whether candidate should replace current.
func preferred(candidate, current analysis.ExtractedParameter) bool {
	if candidate.IsAbnormal != current.IsAbnormal {
		return candidate.IsAbnormal
	}
	candRange, curRange := candidate.NormalRange != "", current.NormalRange != ""
	if candRange != curRange {
		return candRange
	}
	switch {
	case candidate.ObservedAt == nil:
		return false
	case current.ObservedAt == nil:
		return true
	default:
		return candidate.ObservedAt.After(*current.ObservedAt)
	}
}

// OptimizeParameters bounds the parameter list to maxCount. Abnormal values
// are always kept; if they alone exceed the cap the largest absolute values
// win. Remaining budget is filled with normal parameters in input order.
func OptimizeParameters(params []analysis.ExtractedParameter, maxCount int) []analysis.ExtractedParameter {
	if len(params) <= maxCount {
		return params
	}
	if maxCount <= 0 {
		return []analysis.ExtractedParameter{}
	}

	var abnormal, normal []analysis.ExtractedParameter
	for _, p := range params {
		if p.IsAbnormal {
			abnormal = append(abnormal, p)
		} else {
			normal = append(normal, p)
		}
	}

	if len(abnormal) > maxCount {
		sort.SliceStable(abnormal, func(i, j int) bool {
			return magnitude(abnormal[i]) > magnitude(abnormal[j])
		})
		return append([]analysis.ExtractedParameter(nil), abnormal[:maxCount]...)
	}

	out := make([]analysis.ExtractedParameter, 0, maxCount)
	out = append(out, abnormal...)
	return append(out, normal[:maxCount-len(abnormal)]...)
}

// AbnormalOnly filters to parameters flagged abnormal.
func AbnormalOnly(params []analysis.ExtractedParameter) []analysis.ExtractedParameter {
	var out []analysis.ExtractedParameter
	for _, p := range params {
		if p.IsAbnormal {
			out = append(out, p)
		}
	}
	return out
}

func magnitude(p analysis.ExtractedParameter) float64 {
	f, ok := p.Value.Float()
	if !ok {
		return 0
	}
	return math.Abs(f)
}
