package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"medical-insights-server/internal/analysis"
	"medical-insights-server/internal/models"
)

// RefSigner issues signed file references.
type RefSigner interface {
	Sign(fileID string) (string, error)
}

// fileColumns loads file metadata without the blob itself.
const fileColumns = "id, report_id, file_name, file_type, created_at, updated_at"

// ReportRepository stores reports and their files.
type ReportRepository struct {
	db     *gorm.DB
	signer RefSigner
	logger *zap.Logger
}

func NewReportRepository(db *gorm.DB, signer RefSigner, logger *zap.Logger) *ReportRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportRepository{db: db, signer: signer, logger: logger}
}

func withFileMetadata(db *gorm.DB) *gorm.DB {
	return db.Select(fileColumns)
}

// ListReports returns the profile's reports with signed file refs.
func (r *ReportRepository) ListReports(ctx context.Context, profileID string) ([]analysis.Report, error) {
	rows, err := r.ListByProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}

	out := make([]analysis.Report, 0, len(rows))
	for i := range rows {
		report := rows[i].ToAnalysis()
		for j := range report.Files {
			ref, err := r.signer.Sign(report.Files[j].ID)
			if err != nil {
				// The extractor treats an empty ref as a failed fetch.
				r.logger.Warn("Failed to sign report file reference",
					zap.String("file_id", report.Files[j].ID),
					zap.Error(err),
				)
				continue
			}
			report.Files[j].Ref = ref
		}
		out = append(out, report)
	}
	return out, nil
}

// ListByProfile returns the profile's reports, newest first, with file metadata.
func (r *ReportRepository) ListByProfile(ctx context.Context, profileID string) ([]models.Report, error) {
	var reports []models.Report
	err := r.db.WithContext(ctx).
		Preload("Files", withFileMetadata).
		Where("profile_id = ?", profileID).
		Order("report_date DESC").
		Find(&reports).Error
	return reports, err
}

// GetByID returns one report with file metadata.
func (r *ReportRepository) GetByID(ctx context.Context, reportID string) (*models.Report, error) {
	var report models.Report
	err := r.db.WithContext(ctx).Preload("Files", withFileMetadata).First(&report, "id = ?", reportID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// Create inserts a report.
func (r *ReportRepository) Create(ctx context.Context, report *models.Report) error {
	return r.db.WithContext(ctx).Create(report).Error
}

// AddFile stores a report document.
func (r *ReportRepository) AddFile(ctx context.Context, file *models.ReportFile) error {
	return r.db.WithContext(ctx).Create(file).Error
}

// GetFile loads a report file including its data.
func (r *ReportRepository) GetFile(ctx context.Context, fileID string) (*models.ReportFile, error) {
	var file models.ReportFile
	err := r.db.WithContext(ctx).First(&file, "id = ?", fileID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &file, nil
}

// SaveParsedData writes extracted parameters and conditions back onto a report.
func (r *ReportRepository) SaveParsedData(ctx context.Context, reportID string, params []analysis.ExtractedParameter, conditions []string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.Report{}).
		Where("id = ?", reportID).
		Updates(map[string]interface{}{
			"parameters": datatypes.NewJSONSlice(params),
			"conditions": datatypes.NewJSONSlice(conditions),
			"parsed_at":  &now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
