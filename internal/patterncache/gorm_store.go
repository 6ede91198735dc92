package patterncache

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"medical-insights-server/internal/models"
)

// GormStore keeps entries in the analysis_patterns table.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Get(ctx context.Context, subjectID, reportID string) (*Entry, error) {
	var row models.AnalysisPattern
	err := s.db.WithContext(ctx).
		Where("subject_id = ? AND report_id = ?", subjectID, reportID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	entry := fromRow(row)
	return &entry, nil
}

func (s *GormStore) Put(ctx context.Context, entry Entry) error {
	row := models.AnalysisPattern{
		SubjectID:      entry.SubjectID,
		ReportID:       entry.ReportID,
		Conditions:     entry.Conditions,
		ParameterNames: entry.ParameterNames,
		ScannedAt:      entry.ScannedAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subject_id"}, {Name: "report_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"conditions", "parameter_names", "scanned_at", "updated_at"}),
	}).Create(&row).Error
}

func (s *GormStore) List(ctx context.Context, subjectID string) ([]Entry, error) {
	var rows []models.AnalysisPattern
	if err := s.db.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Order("report_id").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, fromRow(row))
	}
	return entries, nil
}

func fromRow(row models.AnalysisPattern) Entry {
	return Entry{
		ReportID:       row.ReportID,
		SubjectID:      row.SubjectID,
		Conditions:     []string(row.Conditions),
		ParameterNames: []string(row.ParameterNames),
		ScannedAt:      row.ScannedAt,
	}
}
