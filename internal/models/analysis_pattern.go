package models

import (
	"time"

	"gorm.io/datatypes"
)

// AnalysisPattern is the database-backed pattern cache row, one per scanned report
type AnalysisPattern struct {
	BaseModel
	SubjectID      string                      `gorm:"size:36;not null;uniqueIndex:idx_pattern_subject_report" json:"subjectId"`
	ReportID       string                      `gorm:"size:36;not null;uniqueIndex:idx_pattern_subject_report" json:"reportId"`
	Conditions     datatypes.JSONSlice[string] `json:"conditions"`
	ParameterNames datatypes.JSONSlice[string] `json:"parameterNames"`
	ScannedAt      time.Time                   `json:"scannedAt"`
}
