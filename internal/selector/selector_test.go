package selector

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medical-insights-server/internal/analysis"
)

var now = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func report(id string, daysAgo int, params int) analysis.Report {
	r := analysis.Report{ID: id, Date: now.AddDate(0, 0, -daysAgo)}
	for i := 0; i < params; i++ {
		r.Parameters = append(r.Parameters, analysis.ExtractedParameter{Name: fmt.Sprintf("p%d", i)})
	}
	return r
}

func ids(reports []analysis.Report) []string {
	out := make([]string, 0, len(reports))
	for _, r := range reports {
		out = append(out, r.ID)
	}
	return out
}

func TestFilterAndSort_AgeFilterAndOrdering(t *testing.T) {
	reports := []analysis.Report{
		report("old", 400, 9),
		report("recent-small", 10, 1),
		report("recent-big", 10, 5),
		report("newest", 1, 0),
	}

	got := FilterAndSort(reports, DefaultConfig(), now)
	assert.Equal(t, []string{"newest", "recent-big", "recent-small"}, ids(got))

	noAge := DefaultConfig()
	noAge.MaxReportAgeDays = 0
	got = FilterAndSort(reports, noAge, now)
	assert.Equal(t, []string{"newest", "recent-big", "recent-small", "old"}, ids(got))
}

func TestSelectForScanning_RespectsCap(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for k := 0; k <= 12; k++ {
		var reports []analysis.Report
		n := rng.Intn(20)
		for i := 0; i < n; i++ {
			reports = append(reports, report(fmt.Sprintf("r%d", i), rng.Intn(500), rng.Intn(6)))
		}
		cfg := DefaultConfig()
		cfg.MaxReportsToScan = k
		assert.LessOrEqual(t, len(SelectForScanning(reports, cfg, now)), k)
	}
}

func TestSelectForScanning_KeepsMostRelevant(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxReportsToScan = 2
	got := SelectForScanning([]analysis.Report{
		report("a", 30, 1), report("b", 5, 2), report("c", 5, 8), report("d", 100, 50),
	}, cfg, now)
	assert.Equal(t, []string{"c", "b"}, ids(got))
}

func TestCollectParameters_StampsSource(t *testing.T) {
	r := report("r1", 3, 2)
	params := CollectParameters([]analysis.Report{r})
	require.Len(t, params, 2)
	for _, p := range params {
		assert.Equal(t, "r1", p.SourceReportID)
		require.NotNil(t, p.ObservedAt)
		assert.True(t, p.ObservedAt.Equal(r.Date))
	}
}

func TestDedupParameters_PrefersAbnormal(t *testing.T) {
	got := DedupParameters([]analysis.ExtractedParameter{
		{Name: "Glucose", Value: "95", NormalRange: "70-100"},
		{Name: " glucose ", Value: "180", IsAbnormal: true},
	})
	require.Len(t, got, 1)
	assert.True(t, got[0].IsAbnormal)
	assert.Equal(t, analysis.ParameterValue("180"), got[0].Value)

	got = DedupParameters([]analysis.ExtractedParameter{
		{Name: "Glucose", Value: "180", IsAbnormal: true},
		{Name: "GLUCOSE", Value: "95", NormalRange: "70-100"},
	})
	require.Len(t, got, 1)
	assert.True(t, got[0].IsAbnormal)
}

func TestDedupParameters_PrefersRangeThenRecency(t *testing.T) {
	older := now.AddDate(0, -2, 0)
	newer := now.AddDate(0, -1, 0)

	got := DedupParameters([]analysis.ExtractedParameter{
		{Name: "TSH", Value: "2.0", ObservedAt: &newer},
		{Name: "tsh", Value: "2.5", NormalRange: "0.4-4.0", ObservedAt: &older},
	})
	require.Len(t, got, 1)
	assert.Equal(t, analysis.ParameterValue("2.5"), got[0].Value)

	got = DedupParameters([]analysis.ExtractedParameter{
		{Name: "TSH", Value: "2.0", ObservedAt: &older},
		{Name: "tsh", Value: "3.1", ObservedAt: &newer},
		{Name: "Hb", Value: "14"},
	})
	require.Len(t, got, 2)
	assert.Equal(t, analysis.ParameterValue("3.1"), got[0].Value)
	assert.Equal(t, "Hb", got[1].Name)
}

func makeParams(abnormal, normal int) []analysis.ExtractedParameter {
	var out []analysis.ExtractedParameter
	for i := 0; i < normal; i++ {
		out = append(out, analysis.ExtractedParameter{Name: fmt.Sprintf("n%d", i), Value: analysis.ParameterValue(fmt.Sprint(i))})
	}
	for i := 0; i < abnormal; i++ {
		out = append(out, analysis.ExtractedParameter{Name: fmt.Sprintf("a%d", i), Value: analysis.ParameterValue(fmt.Sprint(i * 10)), IsAbnormal: true})
	}
	return out
}

func TestOptimizeParameters_PassThroughUnderCap(t *testing.T) {
	params := makeParams(3, 4)
	assert.Equal(t, params, OptimizeParameters(params, 50))
}

func TestOptimizeParameters_FillsWithNormals(t *testing.T) {
	got := OptimizeParameters(makeParams(3, 10), 5)
	require.Len(t, got, 5)
	assert.Equal(t, []string{"a0", "a1", "a2", "n0", "n1"}, names(got))
}

func TestOptimizeParameters_AbnormalOverCapKeepsLargestMagnitude(t *testing.T) {
	params := []analysis.ExtractedParameter{
		{Name: "x", Value: "5", IsAbnormal: true},
		{Name: "y", Value: "-50", IsAbnormal: true},
		{Name: "z", Value: "Positive", IsAbnormal: true},
		{Name: "w", Value: "20", IsAbnormal: true},
		{Name: "v", Value: "20", IsAbnormal: true},
		{Name: "n", Value: "1000"},
	}
	got := OptimizeParameters(params, 3)
	assert.Equal(t, []string{"y", "w", "v"}, names(got))
}

func TestOptimizeParameters_Idempotent(t *testing.T) {
	for _, tc := range []struct{ abnormal, normal, max int }{
		{3, 10, 5}, {60, 5, 50}, {0, 80, 50}, {2, 2, 50}, {10, 10, 0},
	} {
		once := OptimizeParameters(makeParams(tc.abnormal, tc.normal), tc.max)
		assert.Equal(t, once, OptimizeParameters(once, tc.max), "%+v", tc)
	}
}

func TestAbnormalOnly(t *testing.T) {
	got := AbnormalOnly(makeParams(2, 3))
	assert.Equal(t, []string{"a0", "a1"}, names(got))
}

func names(params []analysis.ExtractedParameter) []string {
	out := make([]string, 0, len(params))
	for _, p := range params {
		out = append(out, p.Name)
	}
	return out
}
