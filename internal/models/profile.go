package models

import (
	"gorm.io/datatypes"

	"medical-insights-server/internal/analysis"
)

// Profile is the subject whose reports are analysed
type Profile struct {
	BaseModel
	DisplayName string `gorm:"size:255" json:"displayName"`
	Age         int    `json:"age,omitempty"`
	Gender      string `gorm:"size:20" json:"gender,omitempty"`

	// Relations (not always preloaded)
	Conditions []ProfileCondition `gorm:"foreignKey:ProfileID" json:"conditions,omitempty"`
	Reports    []Report           `gorm:"foreignKey:ProfileID" json:"-"`
}

// ProfileCondition is one recorded condition on a profile.
// NameKey is the lowercased name and keeps conditions unique per profile.
type ProfileCondition struct {
	BaseModel
	ProfileID string              `gorm:"size:36;not null;uniqueIndex:idx_profile_condition" json:"profileId"`
	Name      string              `gorm:"size:255;not null" json:"name"`
	NameKey   string              `gorm:"size:255;not null;uniqueIndex:idx_profile_condition" json:"-"`
	Source    analysis.Provenance `gorm:"size:32" json:"source"`
}

// BodyImpactRecord stores the latest snapshot for a profile. Each run replaces it.
type BodyImpactRecord struct {
	BaseModel
	ProfileID string                                           `gorm:"size:36;not null;uniqueIndex" json:"profileId"`
	Snapshot  datatypes.JSONType[analysis.BodyImpactSnapshot] `json:"snapshot"`
}

// ToAnalysis converts the profile to the analysis read model.
// reportTypes is passed in because it is derived from the profile's reports.
func (p *Profile) ToAnalysis(reportTypes []string) analysis.SubjectProfile {
	out := analysis.SubjectProfile{
		ID:          p.ID,
		ReportTypes: reportTypes,
		Info:        analysis.SubjectInfo{Age: p.Age, Gender: p.Gender},
	}
	for _, c := range p.Conditions {
		source := c.Source
		if source == "" {
			source = analysis.ProvenanceExisting
		}
		out.Conditions = append(out.Conditions, analysis.ConditionMention{Name: c.Name, Provenance: source})
	}
	return out
}
