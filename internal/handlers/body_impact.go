package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"medical-insights-server/internal/analysis"
	"medical-insights-server/internal/bodyimpact"
	"medical-insights-server/internal/patterncache"
	"medical-insights-server/internal/repository"
	"medical-insights-server/internal/taxonomy"
	"medical-insights-server/internal/utils"
)

// Analyzer runs a body impact analysis for one subject.
type Analyzer interface {
	Analyze(ctx context.Context, subjectID string, opts bodyimpact.Options) (*bodyimpact.Result, error)
}

// SnapshotReader loads the last persisted snapshot.
type SnapshotReader interface {
	GetSnapshot(ctx context.Context, subjectID string) (*analysis.BodyImpactSnapshot, error)
}

// PatternSummarizer summarises the scan log of a subject.
type PatternSummarizer interface {
	Summarize(ctx context.Context, subjectID string) (patterncache.Summary, error)
}

// BodyImpactHandler handles body impact analysis requests.
type BodyImpactHandler struct {
	analyzer  Analyzer
	snapshots SnapshotReader
	patterns  PatternSummarizer
	taxonomy  *taxonomy.Taxonomy
	logger    *zap.Logger
}

// NewBodyImpactHandler creates a new BodyImpactHandler.
func NewBodyImpactHandler(analyzer Analyzer, snapshots SnapshotReader, patterns PatternSummarizer, tax *taxonomy.Taxonomy, logger *zap.Logger) *BodyImpactHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BodyImpactHandler{
		analyzer:  analyzer,
		snapshots: snapshots,
		patterns:  patterns,
		taxonomy:  tax,
		logger:    logger,
	}
}

// Analyze runs the full pipeline for a patient and returns the new snapshot.
func (h *BodyImpactHandler) Analyze(c *gin.Context) {
	patientID := c.Param("patientId")

	res, err := h.analyzer.Analyze(c.Request.Context(), patientID, bodyimpact.Options{
		OnProgress: func(stage string, done, total int) {
			h.logger.Debug("Analysis progress",
				zap.String("patient_id", patientID),
				zap.String("stage", stage),
				zap.Int("done", done),
				zap.Int("total", total),
			)
		},
	})
	switch {
	case err == nil:
		message := "Body impact analysis completed"
		if res.Message != "" {
			message = res.Message
		}
		utils.Success(c, message, res)
	case errors.Is(err, analysis.ErrConfiguration):
		utils.ServiceUnavailable(c, "Analysis is unavailable: "+err.Error())
	case errors.Is(err, repository.ErrNotFound):
		utils.NotFound(c, "Patient profile not found")
	case errors.Is(err, analysis.ErrPersistence) && res != nil:
		// The snapshot was computed but not stored; hand it back anyway.
		h.logger.Error("Body impact snapshot not persisted", zap.String("patient_id", patientID), zap.Error(err))
		utils.ErrorWithData(c, http.StatusInternalServerError, "Failed to save analysis results", res)
	default:
		h.logger.Error("Body impact analysis failed", zap.String("patient_id", patientID), zap.Error(err))
		utils.InternalServerError(c, "Body impact analysis failed: "+err.Error())
	}
}

// GetSnapshot returns the stored snapshot of a patient.
func (h *BodyImpactHandler) GetSnapshot(c *gin.Context) {
	snapshot, err := h.snapshots.GetSnapshot(c.Request.Context(), c.Param("patientId"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			utils.NotFound(c, "No body impact analysis has been run for this patient")
			return
		}
		utils.InternalServerError(c, "Failed to load body impact snapshot: "+err.Error())
		return
	}
	utils.Success(c, "Body impact snapshot fetched successfully", snapshot)
}

// GetPatterns returns conditions and parameters recurring across scanned reports.
func (h *BodyImpactHandler) GetPatterns(c *gin.Context) {
	summary, err := h.patterns.Summarize(c.Request.Context(), c.Param("patientId"))
	if err != nil {
		utils.InternalServerError(c, "Failed to summarise analysis patterns: "+err.Error())
		return
	}
	utils.Success(c, "Analysis patterns fetched successfully", summary)
}

// GetRegions lists the body regions snapshots refer to.
func (h *BodyImpactHandler) GetRegions(c *gin.Context) {
	utils.Success(c, "Body regions fetched successfully", h.taxonomy.Regions)
}
