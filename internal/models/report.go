package models

import (
	"time"

	"gorm.io/datatypes"

	"medical-insights-server/internal/analysis"
)

// ReportType is the declared kind of a report, such as "Lipid Panel". Free text.
type ReportType string

// Report represents one medical report of a profile
type Report struct {
	BaseModel
	ProfileID  string     `gorm:"size:36;index;not null" json:"profileId"`
	ReportType ReportType `gorm:"size:100" json:"reportType"`
	ReportDate time.Time  `gorm:"index" json:"date"`
	Title      string     `gorm:"size:255" json:"title"`
	Summary    string     `gorm:"type:text" json:"summary"`

	// Structured data, filled on upload or written back by analysis
	Parameters datatypes.JSONSlice[analysis.ExtractedParameter] `json:"parameters"`
	Conditions datatypes.JSONSlice[string]                      `json:"conditions"`
	ParsedAt   *time.Time                                       `json:"parsedAt,omitempty"`

	// Relations
	Files []ReportFile `gorm:"foreignKey:ReportID" json:"files,omitempty"`
}

// ReportFile represents a document attached to a report
type ReportFile struct {
	BaseModel
	ReportID string `json:"reportId" gorm:"not null;type:varchar(36);index"`
	FileName string `json:"fileName" gorm:"not null"`
	FileType string `json:"fileType" gorm:"not null"`        // MIME type of the file
	FileData []byte `json:"-" gorm:"type:longblob;not null"` // longblob for MySQL
}

// ToAnalysis converts the report to the analysis read model. File refs are
// left empty; the caller signs them.
func (r *Report) ToAnalysis() analysis.Report {
	out := analysis.Report{
		ID:         r.ID,
		SubjectID:  r.ProfileID,
		Type:       string(r.ReportType),
		Date:       r.ReportDate,
		Parameters: append([]analysis.ExtractedParameter(nil), r.Parameters...),
		Conditions: append([]string(nil), r.Conditions...),
	}
	for _, f := range r.Files {
		out.Files = append(out.Files, analysis.ReportFile{
			ID:       f.ID,
			ReportID: r.ID,
			FileName: f.FileName,
			MIMEType: f.FileType,
		})
	}
	return out
}
