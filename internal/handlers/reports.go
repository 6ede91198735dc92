package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"medical-insights-server/internal/analysis"
	"medical-insights-server/internal/blobstore"
	"medical-insights-server/internal/middleware"
	"medical-insights-server/internal/models"
	"medical-insights-server/internal/repository"
	"medical-insights-server/internal/utils"
)

// MaxUploadBytes bounds a single report document.
const MaxUploadBytes = 20 << 20

// ReportStore persists reports and their documents.
type ReportStore interface {
	Create(ctx context.Context, report *models.Report) error
	GetByID(ctx context.Context, reportID string) (*models.Report, error)
	ListByProfile(ctx context.Context, profileID string) ([]models.Report, error)
	AddFile(ctx context.Context, file *models.ReportFile) error
}

// ProfileLookup checks that a profile exists.
type ProfileLookup interface {
	GetByID(ctx context.Context, profileID string) (*models.Profile, error)
}

// RefSigner issues download references for report files.
type RefSigner interface {
	Sign(fileID string) (string, error)
}

// ReportHandler handles report related requests.
type ReportHandler struct {
	reports  ReportStore
	profiles ProfileLookup
	signer   RefSigner
	blobs    blobstore.Fetcher
	logger   *zap.Logger
}

// NewReportHandler creates a new ReportHandler.
func NewReportHandler(reports ReportStore, profiles ProfileLookup, signer RefSigner, blobs blobstore.Fetcher, logger *zap.Logger) *ReportHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportHandler{reports: reports, profiles: profiles, signer: signer, blobs: blobs, logger: logger}
}

// CreateReportRequest represents the request body for creating a report.
type CreateReportRequest struct {
	PatientID  string                        `json:"patientId" validate:"required"`
	ReportType string                        `json:"reportType" validate:"required,max=100"`
	ReportDate string                        `json:"reportDate"`
	Title      string                        `json:"title" validate:"required,max=255"`
	Summary    string                        `json:"summary"`
	Parameters []analysis.ExtractedParameter `json:"parameters" validate:"dive"`
	Conditions []string                      `json:"conditions" validate:"dive,required,max=255"`
}

type fileView struct {
	ID        string    `json:"id"`
	FileName  string    `json:"fileName"`
	FileType  string    `json:"fileType"`
	CreatedAt time.Time `json:"createdAt"`
	// Ref is a short-lived token for GET /files/:ref.
	Ref string `json:"ref,omitempty"`
}

type reportView struct {
	models.Report
	Files []fileView `json:"files"`
}

// CreateReport handles creating a new report for a patient.
// Only accessible by doctors.
func (h *ReportHandler) CreateReport(c *gin.Context) {
	var req CreateReportRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	if _, err := h.profiles.GetByID(c.Request.Context(), req.PatientID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			utils.NotFound(c, "Patient profile not found")
		} else {
			utils.InternalServerError(c, "Database error verifying patient: "+err.Error())
		}
		return
	}

	reportDate := time.Now()
	if req.ReportDate != "" {
		parsed, err := parseReportDate(req.ReportDate)
		if err != nil {
			utils.BadRequest(c, "Invalid date format. Please use ISO 8601 format (YYYY-MM-DD or YYYY-MM-DDTHH:MM:SSZ)")
			return
		}
		reportDate = parsed
	}

	report := models.Report{
		ProfileID:  req.PatientID,
		ReportType: models.ReportType(strings.TrimSpace(req.ReportType)),
		ReportDate: reportDate,
		Title:      req.Title,
		Summary:    req.Summary,
		Parameters: datatypes.NewJSONSlice(nonNilParams(req.Parameters)),
		Conditions: datatypes.NewJSONSlice(nonNilStrings(req.Conditions)),
	}
	if err := h.reports.Create(c.Request.Context(), &report); err != nil {
		utils.InternalServerError(c, "Failed to create report: "+err.Error())
		return
	}

	utils.Created(c, "Report created successfully", h.view(&report))
}

// GetReportsForPatient handles fetching the reports of a patient, newest first.
func (h *ReportHandler) GetReportsForPatient(c *gin.Context) {
	reports, err := h.reports.ListByProfile(c.Request.Context(), c.Param("patientId"))
	if err != nil {
		utils.InternalServerError(c, "Failed to fetch reports: "+err.Error())
		return
	}

	views := make([]reportView, 0, len(reports))
	for i := range reports {
		views = append(views, h.view(&reports[i]))
	}
	utils.Success(c, "Reports fetched successfully", views)
}

// GetReportByID handles fetching a single report.
// Accessible by the owning patient or doctors.
func (h *ReportHandler) GetReportByID(c *gin.Context) {
	report, ok := h.loadAccessibleReport(c)
	if !ok {
		return
	}
	utils.Success(c, "Report fetched successfully", h.view(report))
}

// UploadReportFile handles uploading a document for a report.
// Stores the file as binary data in the database. Only accessible by doctors.
func (h *ReportHandler) UploadReportFile(c *gin.Context) {
	report, ok := h.loadAccessibleReport(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadBytes+1<<20)
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		utils.BadRequest(c, "Error retrieving file from form: "+err.Error())
		return
	}
	defer file.Close()

	fileData, err := io.ReadAll(io.LimitReader(file, MaxUploadBytes+1))
	if err != nil {
		utils.InternalServerError(c, "Error reading file content: "+err.Error())
		return
	}
	if len(fileData) == 0 {
		utils.BadRequest(c, "Uploaded file is empty")
		return
	}
	if len(fileData) > MaxUploadBytes {
		utils.Error(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("File exceeds %d bytes", MaxUploadBytes))
		return
	}

	fileType := documentType(header.Header.Get("Content-Type"), fileData)
	if !supportedDocument(fileType) {
		utils.Error(c, http.StatusUnsupportedMediaType, "Unsupported file type: "+fileType)
		return
	}

	reportFile := models.ReportFile{
		ReportID: report.ID,
		FileName: header.Filename,
		FileType: fileType,
		FileData: fileData,
	}
	if err := h.reports.AddFile(c.Request.Context(), &reportFile); err != nil {
		utils.InternalServerError(c, "Failed to store report file: "+err.Error())
		return
	}

	h.logger.Info("Report file uploaded",
		zap.String("report_id", report.ID),
		zap.String("file_id", reportFile.ID),
		zap.String("file_type", fileType),
		zap.Int("size", len(fileData)),
	)
	utils.Created(c, "File uploaded and linked to report successfully", h.fileView(&reportFile))
}

// DownloadFile serves a report document addressed by a signed reference.
// The reference is the credential, so this route sits outside authentication.
func (h *ReportHandler) DownloadFile(c *gin.Context) {
	blob, err := h.blobs.Fetch(c.Request.Context(), c.Param("ref"))
	if err != nil {
		switch {
		case errors.Is(err, blobstore.ErrInvalidRef):
			utils.Forbidden(c, "File reference is invalid or has expired")
		case errors.Is(err, blobstore.ErrBlobNotFound), errors.Is(err, repository.ErrNotFound):
			utils.NotFound(c, "File not found")
		default:
			utils.InternalServerError(c, "Failed to load file: "+err.Error())
		}
		return
	}

	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": blob.FileName}))
	c.Data(http.StatusOK, blob.MIMEType, blob.Data)
}

func (h *ReportHandler) loadAccessibleReport(c *gin.Context) (*models.Report, bool) {
	reportID := c.Param("id")
	if _, err := uuid.Parse(reportID); err != nil {
		utils.BadRequest(c, "Invalid report ID format")
		return nil, false
	}

	report, err := h.reports.GetByID(c.Request.Context(), reportID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			utils.NotFound(c, "Report not found")
		} else {
			utils.InternalServerError(c, "Database error: "+err.Error())
		}
		return nil, false
	}

	if !middleware.CanAccessSubject(c, report.ProfileID) {
		utils.Forbidden(c, "You are not authorized to view this report")
		return nil, false
	}
	return report, true
}

func (h *ReportHandler) view(report *models.Report) reportView {
	files := make([]fileView, 0, len(report.Files))
	for i := range report.Files {
		files = append(files, h.fileView(&report.Files[i]))
	}
	return reportView{Report: *report, Files: files}
}

func (h *ReportHandler) fileView(file *models.ReportFile) fileView {
	v := fileView{ID: file.ID, FileName: file.FileName, FileType: file.FileType, CreatedAt: file.CreatedAt}
	ref, err := h.signer.Sign(file.ID)
	if err != nil {
		h.logger.Warn("Failed to sign file reference", zap.String("file_id", file.ID), zap.Error(err))
		return v
	}
	v.Ref = ref
	return v
}

func parseReportDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// documentType prefers the declared type and falls back to sniffing.
func documentType(declared string, data []byte) string {
	if mediaType, _, err := mime.ParseMediaType(declared); err == nil && mediaType != "application/octet-stream" {
		return mediaType
	}
	mediaType, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return mediaType
}

func supportedDocument(mediaType string) bool {
	return strings.HasPrefix(mediaType, "image/") ||
		strings.HasPrefix(mediaType, "text/") ||
		mediaType == "application/pdf"
}

func nonNilParams(p []analysis.ExtractedParameter) []analysis.ExtractedParameter {
	if p == nil {
		return []analysis.ExtractedParameter{}
	}
	return p
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
