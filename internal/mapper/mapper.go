// Package mapper folds free-text body-part mentions onto the closed region
// taxonomy and merges every mention of the same region into one impact.
package mapper

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"medical-insights-server/internal/analysis"
	"medical-insights-server/internal/taxonomy"
)

const descriptionSeparator = "; "

// Mapper is safe for concurrent use; it holds no mutable state.
type Mapper struct {
	taxonomy *taxonomy.Taxonomy
	resolver *Resolver
	logger   *zap.Logger
}

// Result carries the aggregated regions plus the mentions nothing matched.
type Result struct {
	Impacts  []analysis.AggregatedBodyImpact
	Unmapped []string
}

// New builds a mapper for the given taxonomy.
func New(tax *taxonomy.Taxonomy, logger *zap.Logger) *Mapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mapper{
		taxonomy: tax,
		resolver: NewResolver(tax),
		logger:   logger,
	}
}

// Taxonomy returns the region table the mapper folds onto.
func (m *Mapper) Taxonomy() *taxonomy.Taxonomy {
	return m.taxonomy
}

// Resolve exposes the matching rules for a single piece of text.
func (m *Mapper) Resolve(text string) (Match, bool) {
	return m.resolver.Resolve(text)
}

// Map aggregates mentions per region. Unmatched mentions are dropped.
func (m *Mapper) Map(mentions []analysis.BodyPartImpact) []analysis.AggregatedBodyImpact {
	return m.MapDetailed(mentions).Impacts
}

// MapDetailed is Map that also reports the unmatched mention texts.
func (m *Mapper) MapDetailed(mentions []analysis.BodyPartImpact) Result {
	grouped := make(map[string][]analysis.BodyPartImpact)
	var unmapped []string

	for _, mention := range mentions {
		match, ok := m.resolver.Resolve(mention.PartName)
		if !ok {
			m.logger.Warn("Unmapped body part mention",
				zap.String("part_name", mention.PartName),
				zap.Error(analysis.NewError(analysis.ErrMappingMiss, "map", fmt.Errorf("no region for %q", mention.PartName))),
			)
			unmapped = append(unmapped, mention.PartName)
			continue
		}
		m.logger.Debug("Mapped body part mention",
			zap.String("part_name", mention.PartName),
			zap.String("region_id", match.RegionID),
			zap.String("strategy", match.Strategy.String()),
		)
		grouped[match.RegionID] = append(grouped[match.RegionID], mention)
	}

	regionIDs := make([]string, 0, len(grouped))
	for id := range grouped {
		regionIDs = append(regionIDs, id)
	}
	sort.Slice(regionIDs, func(i, j int) bool {
		return m.taxonomy.Order(regionIDs[i]) < m.taxonomy.Order(regionIDs[j])
	})

	impacts := make([]analysis.AggregatedBodyImpact, 0, len(regionIDs))
	for _, id := range regionIDs {
		region, _ := m.taxonomy.Region(id)
		impacts = append(impacts, aggregate(region, grouped[id]))
	}

	sort.Strings(unmapped)
	return Result{Impacts: impacts, Unmapped: unmapped}
}

// aggregate folds all contributions to one region. Contributions are put in a
// canonical order first so the result does not depend on input order.
func aggregate(region taxonomy.Region, contributions []analysis.BodyPartImpact) analysis.AggregatedBodyImpact {
	sorted := append([]analysis.BodyPartImpact(nil), contributions...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return contributionLess(sorted[i], sorted[j])
	})

	out := analysis.AggregatedBodyImpact{
		PartID:   region.ID,
		PartName: region.Name,
	}
	conditions := newStringSet()
	parameters := newStringSet()
	maxScore := 0

	for _, c := range sorted {
		if score := analysis.ParseSeverity(string(c.Severity)).Score(); score > maxScore {
			maxScore = score
		}
		if conf := clamp(c.Confidence); conf > out.Confidence {
			out.Confidence = conf
		}
		out.ImpactDescription = appendDescription(out.ImpactDescription, c.Description)
		conditions.addAll(c.RelatedConditions)
		parameters.addAll(c.RelatedParameters)
	}

	out.Severity = analysis.SeverityFromScore(maxScore)
	out.RelatedConditions = conditions.sorted()
	out.RelatedParameters = parameters.sorted()
	return out
}

func contributionLess(a, b analysis.BodyPartImpact) bool {
	sa, sb := analysis.ParseSeverity(string(a.Severity)).Score(), analysis.ParseSeverity(string(b.Severity)).Score()
	if sa != sb {
		return sa > sb
	}
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	da, db := strings.TrimSpace(a.Description), strings.TrimSpace(b.Description)
	if da != db {
		return da < db
	}
	ca, cb := strings.Join(a.RelatedConditions, "\x00"), strings.Join(b.RelatedConditions, "\x00")
	if ca != cb {
		return ca < cb
	}
	if a.PartName != b.PartName {
		return a.PartName < b.PartName
	}
	return strings.Join(a.RelatedParameters, "\x00") < strings.Join(b.RelatedParameters, "\x00")
}

// appendDescription adds desc unless it is already a substring of acc.
func appendDescription(acc, desc string) string {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return acc
	}
	if acc == "" {
		return desc
	}
	if strings.Contains(strings.ToLower(acc), strings.ToLower(desc)) {
		return acc
	}
	return acc + descriptionSeparator + desc
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// stringSet is a case-insensitive set that keeps the first spelling seen.
type stringSet struct {
	values map[string]string
}

func newStringSet() *stringSet {
	return &stringSet{values: make(map[string]string)}
}

func (s *stringSet) addAll(values []string) {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if _, ok := s.values[key]; !ok {
			s.values[key] = v
		}
	}
}

func (s *stringSet) sorted() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.values[k])
	}
	return out
}
