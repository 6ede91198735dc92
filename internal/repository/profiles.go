// Package repository implements the profile and report stores on gorm.
package repository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"medical-insights-server/internal/analysis"
	"medical-insights-server/internal/models"
)

// ErrNotFound is returned when a profile, report or file does not exist.
var ErrNotFound = errors.New("record not found")

// ProfileRepository reads profiles and stores conditions and snapshots.
type ProfileRepository struct {
	db *gorm.DB
}

func NewProfileRepository(db *gorm.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// GetProfile loads the profile with its conditions and the distinct types of its reports.
func (r *ProfileRepository) GetProfile(ctx context.Context, profileID string) (*analysis.SubjectProfile, error) {
	var profile models.Profile
	err := r.db.WithContext(ctx).Preload("Conditions").First(&profile, "id = ?", profileID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var types []string
	if err := r.db.WithContext(ctx).Model(&models.Report{}).
		Where("profile_id = ? AND report_type <> ''", profileID).
		Distinct().
		Pluck("report_type", &types).Error; err != nil {
		return nil, err
	}

	out := profile.ToAnalysis(types)
	return &out, nil
}

// AddConditions inserts conditions whose lowercased name is not yet recorded.
// Existing rows are left untouched.
func (r *ProfileRepository) AddConditions(ctx context.Context, profileID string, conditions []analysis.ConditionMention) error {
	return addConditions(r.db.WithContext(ctx), profileID, conditions)
}

func addConditions(db *gorm.DB, profileID string, conditions []analysis.ConditionMention) error {
	rows := make([]models.ProfileCondition, 0, len(conditions))
	seen := make(map[string]bool)
	for _, c := range conditions {
		name := strings.TrimSpace(c.Name)
		key := strings.ToLower(name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		rows = append(rows, models.ProfileCondition{
			ProfileID: profileID,
			Name:      name,
			NameKey:   key,
			Source:    c.Provenance,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

// ListConditions returns the recorded conditions in insertion order.
func (r *ProfileRepository) ListConditions(ctx context.Context, profileID string) ([]models.ProfileCondition, error) {
	var conditions []models.ProfileCondition
	err := r.db.WithContext(ctx).
		Where("profile_id = ?", profileID).
		Order("created_at ASC").
		Find(&conditions).Error
	return conditions, err
}

// SaveSnapshot replaces the profile's body impact snapshot.
func (r *ProfileRepository) SaveSnapshot(ctx context.Context, profileID string, snapshot analysis.BodyImpactSnapshot) error {
	record := models.BodyImpactRecord{
		ProfileID: profileID,
		Snapshot:  datatypes.NewJSONType(snapshot),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "profile_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"snapshot", "updated_at"}),
	}).Create(&record).Error
}

// GetSnapshot returns the stored snapshot, or ErrNotFound before the first run.
func (r *ProfileRepository) GetSnapshot(ctx context.Context, profileID string) (*analysis.BodyImpactSnapshot, error) {
	var record models.BodyImpactRecord
	err := r.db.WithContext(ctx).First(&record, "profile_id = ?", profileID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	snapshot := record.Snapshot.Data()
	return &snapshot, nil
}

// Create inserts a profile together with its initial conditions; neither is
// stored if either insert fails. A caller-supplied id is kept so profiles can
// share the identity provider's user id.
func (r *ProfileRepository) Create(ctx context.Context, profile *models.Profile, conditions []analysis.ConditionMention) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(profile).Error; err != nil {
			return err
		}
		return addConditions(tx, profile.ID, conditions)
	})
}

// GetByID returns the stored profile with its recorded conditions.
func (r *ProfileRepository) GetByID(ctx context.Context, profileID string) (*models.Profile, error) {
	var profile models.Profile
	err := r.db.WithContext(ctx).
		Preload("Conditions", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		First(&profile, "id = ?", profileID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}
