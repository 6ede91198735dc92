// Package patterncache remembers which reports have already been analysed for
// a subject, with what result and when, so they are not re-scanned.
package patterncache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"medical-insights-server/internal/metrics"
)

// ErrNotFound is returned by stores when no entry exists for a key.
var ErrNotFound = errors.New("pattern entry not found")

// DefaultMaxAgeDays is how long a scan stays fresh.
const DefaultMaxAgeDays = 30

// Entry records the outcome of scanning one report.
type Entry struct {
	ReportID       string    `json:"reportId"`
	SubjectID      string    `json:"subjectId"`
	Conditions     []string  `json:"conditions"`
	ParameterNames []string  `json:"parameterNames"`
	ScannedAt      time.Time `json:"scannedAt"`
}

// Store is the durable per-subject keyed map behind the cache.
type Store interface {
	Get(ctx context.Context, subjectID, reportID string) (*Entry, error)
	Put(ctx context.Context, entry Entry) error
	List(ctx context.Context, subjectID string) ([]Entry, error)
}

// Summary lists conditions and parameters seen in at least two cached entries.
type Summary struct {
	CommonConditions []string `json:"commonConditions"`
	CommonParameters []string `json:"commonParameters"`
}

// Cache wraps a Store with freshness and summary logic.
type Cache struct {
	store  Store
	logger *zap.Logger
}

// New creates a cache over store.
func New(store Store, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{store: store, logger: logger}
}

// Get returns the entry for a report, or nil when it was never scanned.
func (c *Cache) Get(ctx context.Context, subjectID, reportID string) (*Entry, error) {
	entry, err := c.store.Get(ctx, subjectID, reportID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pattern entry %s/%s: %w", subjectID, reportID, err)
	}
	return entry, nil
}

// Put stores an entry, overwriting any previous one for the same key.
// ScannedAt never moves backwards for a key.
func (c *Cache) Put(ctx context.Context, entry Entry) error {
	if entry.SubjectID == "" || entry.ReportID == "" {
		return fmt.Errorf("pattern entry requires subject and report id")
	}
	existing, err := c.Get(ctx, entry.SubjectID, entry.ReportID)
	if err != nil {
		return err
	}
	if existing != nil && existing.ScannedAt.After(entry.ScannedAt) {
		entry.ScannedAt = existing.ScannedAt
	}
	if err := c.store.Put(ctx, entry); err != nil {
		return fmt.Errorf("put pattern entry %s/%s: %w", entry.SubjectID, entry.ReportID, err)
	}
	return nil
}

// IsStale reports whether entry is too old to skip a re-scan. A nil entry is
// always stale and maxAgeDays <= 0 disables the guard.
func IsStale(entry *Entry, maxAgeDays int, now time.Time) bool {
	if entry == nil || maxAgeDays <= 0 {
		return true
	}
	return now.Sub(entry.ScannedAt) >= time.Duration(maxAgeDays)*24*time.Hour
}

// NeedsScan is the re-scan guard: it returns false and the cached entry when
// the report was scanned recently enough. Store errors make the report eligible.
func (c *Cache) NeedsScan(ctx context.Context, subjectID, reportID string, maxAgeDays int, now time.Time) (bool, *Entry) {
	entry, err := c.Get(ctx, subjectID, reportID)
	if err != nil {
		metrics.RecordCacheLookup("error")
		c.logger.Warn("Pattern cache lookup failed, treating report as unscanned",
			zap.String("subject_id", subjectID),
			zap.String("report_id", reportID),
			zap.Error(err),
		)
		return true, nil
	}
	switch {
	case entry == nil:
		metrics.RecordCacheLookup("miss")
		return true, nil
	case IsStale(entry, maxAgeDays, now):
		metrics.RecordCacheLookup("stale")
		return true, entry
	}
	metrics.RecordCacheLookup("hit")
	return false, entry
}

// Summarize returns the conditions and parameter names common to the subject's entries.
func (c *Cache) Summarize(ctx context.Context, subjectID string) (Summary, error) {
	entries, err := c.store.List(ctx, subjectID)
	if err != nil {
		return Summary{}, fmt.Errorf("list pattern entries for %s: %w", subjectID, err)
	}

	var conditions, parameters [][]string
	for _, e := range entries {
		conditions = append(conditions, e.Conditions)
		parameters = append(parameters, e.ParameterNames)
	}
	return Summary{
		CommonConditions: common(conditions),
		CommonParameters: common(parameters),
	}, nil
}

// common returns values present in at least two groups, most frequent first.
// Values are compared case-insensitively; each group counts once per value.
func common(groups [][]string) []string {
	counts := make(map[string]int)
	spelling := make(map[string]string)
	for _, group := range groups {
		seen := make(map[string]bool)
		for _, v := range group {
			v = strings.TrimSpace(v)
			key := strings.ToLower(v)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			counts[key]++
			if _, ok := spelling[key]; !ok {
				spelling[key] = v
			}
		}
	}

	keys := make([]string, 0, len(counts))
	for k, n := range counts {
		if n >= 2 {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, spelling[k])
	}
	return out
}
