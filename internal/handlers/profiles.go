package handlers

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"medical-insights-server/internal/analysis"
	"medical-insights-server/internal/models"
	"medical-insights-server/internal/repository"
	"medical-insights-server/internal/utils"
)

// ProfileStore manages patient profiles and their recorded conditions.
type ProfileStore interface {
	// Create stores the profile and its initial conditions atomically.
	Create(ctx context.Context, profile *models.Profile, conditions []analysis.ConditionMention) error
	GetByID(ctx context.Context, profileID string) (*models.Profile, error)
	ListConditions(ctx context.Context, profileID string) ([]models.ProfileCondition, error)
	AddConditions(ctx context.Context, profileID string, conditions []analysis.ConditionMention) error
}

// ProfileHandler handles patient profile requests.
type ProfileHandler struct {
	profiles ProfileStore
}

// NewProfileHandler creates a new ProfileHandler.
func NewProfileHandler(profiles ProfileStore) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

// CreateProfileRequest represents the request body for registering a patient profile.
type CreateProfileRequest struct {
	// ID links the profile to the patient's account; generated when empty.
	ID          string   `json:"id" validate:"omitempty,uuid"`
	DisplayName string   `json:"displayName" validate:"required,max=255"`
	Age         int      `json:"age" validate:"gte=0,lte=150"`
	Gender      string   `json:"gender" validate:"omitempty,max=20"`
	Conditions  []string `json:"conditions" validate:"dive,required,max=255"`
}

// AddConditionsRequest represents the request body for recording conditions.
type AddConditionsRequest struct {
	Conditions []string `json:"conditions" validate:"required,min=1,dive,required,max=255"`
}

// CreateProfile handles registering a patient profile (doctor, admin).
func (h *ProfileHandler) CreateProfile(c *gin.Context) {
	var req CreateProfileRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	if req.ID != "" {
		if _, err := h.profiles.GetByID(c.Request.Context(), req.ID); err == nil {
			utils.BadRequest(c, "Profile with this ID already exists")
			return
		} else if !errors.Is(err, repository.ErrNotFound) {
			utils.InternalServerError(c, "Database error: "+err.Error())
			return
		}
	}

	profile := models.Profile{
		DisplayName: req.DisplayName,
		Age:         req.Age,
		Gender:      req.Gender,
	}
	profile.ID = req.ID
	if err := h.profiles.Create(c.Request.Context(), &profile, existingConditions(req.Conditions)); err != nil {
		utils.InternalServerError(c, "Failed to create profile: "+err.Error())
		return
	}

	created, err := h.profiles.GetByID(c.Request.Context(), profile.ID)
	if err != nil {
		utils.InternalServerError(c, "Failed to reload profile: "+err.Error())
		return
	}
	utils.Created(c, "Profile created successfully", created)
}

// GetProfile handles fetching a patient profile.
func (h *ProfileHandler) GetProfile(c *gin.Context) {
	profile, err := h.profiles.GetByID(c.Request.Context(), c.Param("patientId"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			utils.NotFound(c, "Patient profile not found")
			return
		}
		utils.InternalServerError(c, "Failed to fetch profile: "+err.Error())
		return
	}
	utils.Success(c, "Profile fetched successfully", profile)
}

// GetConditions handles listing the conditions recorded for a patient.
func (h *ProfileHandler) GetConditions(c *gin.Context) {
	conditions, err := h.profiles.ListConditions(c.Request.Context(), c.Param("patientId"))
	if err != nil {
		utils.InternalServerError(c, "Failed to fetch conditions: "+err.Error())
		return
	}
	utils.Success(c, "Conditions fetched successfully", conditions)
}

// AddConditions handles appending known conditions to a patient profile.
// Conditions already on record are left unchanged.
func (h *ProfileHandler) AddConditions(c *gin.Context) {
	patientID := c.Param("patientId")

	var req AddConditionsRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	if _, err := h.profiles.GetByID(c.Request.Context(), patientID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			utils.NotFound(c, "Patient profile not found")
			return
		}
		utils.InternalServerError(c, "Database error: "+err.Error())
		return
	}

	if err := h.profiles.AddConditions(c.Request.Context(), patientID, existingConditions(req.Conditions)); err != nil {
		utils.InternalServerError(c, "Failed to record conditions: "+err.Error())
		return
	}

	conditions, err := h.profiles.ListConditions(c.Request.Context(), patientID)
	if err != nil {
		utils.InternalServerError(c, "Failed to fetch conditions: "+err.Error())
		return
	}
	utils.Success(c, "Conditions recorded successfully", conditions)
}

func existingConditions(names []string) []analysis.ConditionMention {
	out := make([]analysis.ConditionMention, 0, len(names))
	for _, n := range names {
		out = append(out, analysis.ConditionMention{Name: n, Provenance: analysis.ProvenanceExisting})
	}
	return out
}
