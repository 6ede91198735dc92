package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medical-insights-server/internal/analysis"
	"medical-insights-server/internal/blobstore"
	"medical-insights-server/internal/bodyimpact"
	"medical-insights-server/internal/models"
	"medical-insights-server/internal/patterncache"
	"medical-insights-server/internal/repository"
	"medical-insights-server/internal/taxonomy"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func asUser(id string, role models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("userID", id)
		c.Set("userRole", role)
		c.Next()
	}
}

type fakeAnalyzer struct {
	res *bodyimpact.Result
	err error
}

func (f *fakeAnalyzer) Analyze(context.Context, string, bodyimpact.Options) (*bodyimpact.Result, error) {
	return f.res, f.err
}

type fakeSnapshots struct {
	snapshot *analysis.BodyImpactSnapshot
}

func (f *fakeSnapshots) GetSnapshot(context.Context, string) (*analysis.BodyImpactSnapshot, error) {
	if f.snapshot == nil {
		return nil, repository.ErrNotFound
	}
	return f.snapshot, nil
}

type fakePatterns struct{}

func (fakePatterns) Summarize(context.Context, string) (patterncache.Summary, error) {
	return patterncache.Summary{CommonConditions: []string{"Diabetes"}, CommonParameters: []string{"HbA1c"}}, nil
}

type memProfiles struct {
	mu         sync.Mutex
	profiles   map[string]*models.Profile
	conditions map[string][]models.ProfileCondition
	// failConditions makes condition writes fail, rolling back a Create.
	failConditions bool
}

func newMemProfiles(ids ...string) *memProfiles {
	m := &memProfiles{profiles: map[string]*models.Profile{}, conditions: map[string][]models.ProfileCondition{}}
	for _, id := range ids {
		p := &models.Profile{DisplayName: "Patient " + id}
		p.ID = id
		m.profiles[id] = p
	}
	return m
}

func (m *memProfiles) Create(ctx context.Context, p *models.Profile, conditions []analysis.ConditionMention) error {
	m.mu.Lock()
	if m.failConditions && len(conditions) > 0 {
		m.mu.Unlock()
		return errors.New("condition insert failed")
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	cp := *p
	m.profiles[p.ID] = &cp
	m.mu.Unlock()
	return m.AddConditions(ctx, p.ID, conditions)
}

func (m *memProfiles) GetByID(_ context.Context, id string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	cp.Conditions = append([]models.ProfileCondition(nil), m.conditions[id]...)
	return &cp, nil
}

func (m *memProfiles) ListConditions(_ context.Context, id string) ([]models.ProfileCondition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ProfileCondition{}, m.conditions[id]...), nil
}

func (m *memProfiles) AddConditions(_ context.Context, id string, mentions []analysis.ConditionMention) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failConditions && len(mentions) > 0 {
		return errors.New("condition insert failed")
	}
	for _, c := range mentions {
		key := strings.ToLower(strings.TrimSpace(c.Name))
		dup := false
		for _, existing := range m.conditions[id] {
			if existing.NameKey == key {
				dup = true
			}
		}
		if !dup {
			m.conditions[id] = append(m.conditions[id], models.ProfileCondition{
				ProfileID: id, Name: c.Name, NameKey: key, Source: c.Provenance,
			})
		}
	}
	return nil
}

type memReports struct {
	mu      sync.Mutex
	reports map[string]*models.Report
	files   map[string]*models.ReportFile
}

func newMemReports() *memReports {
	return &memReports{reports: map[string]*models.Report{}, files: map[string]*models.ReportFile{}}
}

func (m *memReports) Create(_ context.Context, r *models.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = uuid.New().String()
	cp := *r
	m.reports[r.ID] = &cp
	return nil
}

func (m *memReports) GetByID(_ context.Context, id string) (*models.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *r
	for _, f := range m.files {
		if f.ReportID == id {
			meta := *f
			meta.FileData = nil
			cp.Files = append(cp.Files, meta)
		}
	}
	return &cp, nil
}

func (m *memReports) ListByProfile(_ context.Context, profileID string) ([]models.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Report
	for _, r := range m.reports {
		if r.ProfileID == profileID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memReports) AddFile(_ context.Context, f *models.ReportFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f.ID = uuid.New().String()
	f.CreatedAt = time.Now()
	cp := *f
	m.files[f.ID] = &cp
	return nil
}

func (m *memReports) GetFile(_ context.Context, id string) (*models.ReportFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return f, nil
}

type testServer struct {
	analyzer *fakeAnalyzer
	profiles *memProfiles
	reports  *memReports
	signer   *blobstore.Signer
	taxonomy *taxonomy.Taxonomy
}

func (s *testServer) router(userID string, role models.Role) *gin.Engine {
	r := gin.New()
	impact := NewBodyImpactHandler(s.analyzer, &fakeSnapshots{}, fakePatterns{}, s.taxonomy, nil)
	reports := NewReportHandler(s.reports, s.profiles, s.signer, blobstore.NewDBStore(s.signer, s.reports), nil)
	profiles := NewProfileHandler(s.profiles)

	r.GET("/files/:ref", reports.DownloadFile)
	api := r.Group("/api/v1", asUser(userID, role))
	api.GET("/body-impact/regions", impact.GetRegions)
	api.POST("/body-impact/:patientId/analyze", impact.Analyze)
	api.GET("/body-impact/:patientId", impact.GetSnapshot)
	api.GET("/body-impact/:patientId/patterns", impact.GetPatterns)
	api.POST("/reports", reports.CreateReport)
	api.GET("/reports/:id", reports.GetReportByID)
	api.POST("/reports/:id/files", reports.UploadReportFile)
	api.POST("/profiles", profiles.CreateProfile)
	api.POST("/profiles/:patientId/conditions", profiles.AddConditions)
	api.GET("/profiles/:patientId/conditions", profiles.GetConditions)
	return r
}

func newTestServer(profileIDs ...string) *testServer {
	tax, err := taxonomy.Default()
	if err != nil {
		panic(err)
	}
	return &testServer{
		taxonomy: tax,
		analyzer: &fakeAnalyzer{},
		profiles: newMemProfiles(profileIDs...),
		reports:  newMemReports(),
		signer:   blobstore.NewSigner("ref-secret", time.Minute),
	}
}

func doJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAnalyze_StatusMapping(t *testing.T) {
	snapshot := analysis.BodyImpactSnapshot{
		BodyParts: []analysis.AggregatedBodyImpact{{PartID: "heart", PartName: "Heart", Severity: analysis.SeverityMedium}},
	}
	result := &bodyimpact.Result{Snapshot: snapshot}

	cases := []struct {
		name     string
		res      *bodyimpact.Result
		err      error
		status   int
		withData bool
	}{
		{"success", result, nil, http.StatusOK, true},
		{"not configured", nil, analysis.NewError(analysis.ErrConfiguration, "analyze", errors.New("no key")), http.StatusServiceUnavailable, false},
		{"unknown profile", nil, fmt.Errorf("load profile: %w", repository.ErrNotFound), http.StatusNotFound, false},
		{"snapshot not saved", result, analysis.NewError(analysis.ErrPersistence, "save snapshot", errors.New("db down")), http.StatusInternalServerError, true},
		{"other failure", nil, errors.New("boom"), http.StatusInternalServerError, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer()
			s.analyzer.res, s.analyzer.err = tc.res, tc.err

			w := doJSON(s.router("p1", models.RolePatient), http.MethodPost, "/api/v1/body-impact/p1/analyze", nil)
			assert.Equal(t, tc.status, w.Code)

			env := decode(t, w)
			if !tc.withData {
				assert.Empty(t, env.Data)
				return
			}
			var got bodyimpact.Result
			require.NoError(t, json.Unmarshal(env.Data, &got))
			require.Len(t, got.Snapshot.BodyParts, 1)
			assert.Equal(t, "heart", got.Snapshot.BodyParts[0].PartID)
		})
	}
}

func TestBodyImpactReads(t *testing.T) {
	r := newTestServer().router("d1", models.RoleDoctor)

	assert.Equal(t, http.StatusNotFound, doJSON(r, http.MethodGet, "/api/v1/body-impact/p1", nil).Code)

	w := doJSON(r, http.MethodGet, "/api/v1/body-impact/regions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var regions []taxonomy.Region
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &regions))
	assert.Len(t, regions, 21)

	w = doJSON(r, http.MethodGet, "/api/v1/body-impact/p1/patterns", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var summary patterncache.Summary
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &summary))
	assert.Equal(t, []string{"Diabetes"}, summary.CommonConditions)
}

func TestCreateReport(t *testing.T) {
	s := newTestServer("p1")
	r := s.router("d1", models.RoleDoctor)

	w := doJSON(r, http.MethodPost, "/api/v1/reports", map[string]any{"patientId": "p1", "reportType": "Blood Test"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w).Error, "title")

	w = doJSON(r, http.MethodPost, "/api/v1/reports", map[string]any{
		"patientId": "missing", "reportType": "Blood Test", "title": "CBC",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(r, http.MethodPost, "/api/v1/reports", map[string]any{
		"patientId": "p1", "reportType": "Blood Test", "title": "CBC", "reportDate": "2026-09-30",
		"parameters": []map[string]any{{"name": "Hemoglobin", "value": 10.2, "unit": "g/dL", "isAbnormal": true}},
		"conditions": []string{"Anemia"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created models.Report
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &created))
	assert.Equal(t, "p1", created.ProfileID)
	assert.Equal(t, []string{"Anemia"}, []string(created.Conditions))
	require.Len(t, created.Parameters, 1)
	assert.Equal(t, "Hemoglobin", created.Parameters[0].Name)
	assert.Equal(t, time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC), created.ReportDate.UTC())
}

func TestGetReportByID_OwnerOnlyForPatients(t *testing.T) {
	s := newTestServer("p1")
	report := models.Report{ProfileID: "p1", Title: "Lipids"}
	require.NoError(t, s.reports.Create(context.Background(), &report))
	path := "/api/v1/reports/" + report.ID

	assert.Equal(t, http.StatusOK, doJSON(s.router("p1", models.RolePatient), http.MethodGet, path, nil).Code)
	assert.Equal(t, http.StatusForbidden, doJSON(s.router("p2", models.RolePatient), http.MethodGet, path, nil).Code)
	assert.Equal(t, http.StatusOK, doJSON(s.router("d1", models.RoleDoctor), http.MethodGet, path, nil).Code)
	assert.Equal(t, http.StatusBadRequest, doJSON(s.router("d1", models.RoleDoctor), http.MethodGet, "/api/v1/reports/not-a-uuid", nil).Code)
}

func upload(t *testing.T, r http.Handler, reportID, fileName, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, fileName))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports/"+reportID+"/files", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestUploadAndDownloadReportFile(t *testing.T) {
	s := newTestServer("p1")
	report := models.Report{ProfileID: "p1", Title: "CBC"}
	require.NoError(t, s.reports.Create(context.Background(), &report))
	r := s.router("d1", models.RoleDoctor)

	content := []byte("Hemoglobin 10.2 g/dL (13.5-17.5)")
	w := upload(t, r, report.ID, "cbc.txt", "text/plain; charset=utf-8", content)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var file struct {
		ID       string `json:"id"`
		FileType string `json:"fileType"`
		Ref      string `json:"ref"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &file))
	assert.Equal(t, "text/plain", file.FileType)
	require.NotEmpty(t, file.Ref)

	req := httptest.NewRequest(http.MethodGet, "/files/"+file.Ref, nil)
	dl := httptest.NewRecorder()
	r.ServeHTTP(dl, req)
	require.Equal(t, http.StatusOK, dl.Code)
	assert.Equal(t, content, dl.Body.Bytes())
	assert.Contains(t, dl.Header().Get("Content-Disposition"), "cbc.txt")

	req = httptest.NewRequest(http.MethodGet, "/files/"+file.Ref+"x", nil)
	dl = httptest.NewRecorder()
	r.ServeHTTP(dl, req)
	assert.Equal(t, http.StatusForbidden, dl.Code)

	missing, err := s.signer.Sign(uuid.New().String())
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/files/"+missing, nil)
	dl = httptest.NewRecorder()
	r.ServeHTTP(dl, req)
	assert.Equal(t, http.StatusNotFound, dl.Code)

	w = doJSON(r, http.MethodGet, "/api/v1/reports/"+report.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view struct {
		Files []struct {
			ID  string `json:"id"`
			Ref string `json:"ref"`
		} `json:"files"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &view))
	require.Len(t, view.Files, 1)
	assert.Equal(t, file.ID, view.Files[0].ID)
	assert.NotEmpty(t, view.Files[0].Ref)
}

func TestUploadReportFile_Rejections(t *testing.T) {
	s := newTestServer("p1")
	report := models.Report{ProfileID: "p1", Title: "CBC"}
	require.NoError(t, s.reports.Create(context.Background(), &report))
	r := s.router("d1", models.RoleDoctor)

	assert.Equal(t, http.StatusUnsupportedMediaType, upload(t, r, report.ID, "a.zip", "application/zip", []byte("PK\x03\x04")).Code)
	assert.Equal(t, http.StatusBadRequest, upload(t, r, report.ID, "empty.png", "image/png", nil).Code)
	assert.Equal(t, http.StatusNotFound, upload(t, r, uuid.New().String(), "a.png", "image/png", []byte("x")).Code)
}

func TestProfileConditions(t *testing.T) {
	s := newTestServer("p1")
	r := s.router("d1", models.RoleDoctor)

	assert.Equal(t, http.StatusBadRequest, doJSON(r, http.MethodPost, "/api/v1/profiles/p1/conditions", map[string]any{"conditions": []string{}}).Code)
	assert.Equal(t, http.StatusNotFound, doJSON(r, http.MethodPost, "/api/v1/profiles/nobody/conditions", map[string]any{"conditions": []string{"Asthma"}}).Code)

	w := doJSON(r, http.MethodPost, "/api/v1/profiles/p1/conditions", map[string]any{"conditions": []string{"Asthma", "asthma", "Hypertension"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(r, http.MethodGet, "/api/v1/profiles/p1/conditions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var conditions []models.ProfileCondition
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &conditions))
	require.Len(t, conditions, 2)
	assert.Equal(t, "Asthma", conditions[0].Name)
	assert.Equal(t, analysis.ProvenanceExisting, conditions[0].Source)
}

func TestCreateProfile(t *testing.T) {
	s := newTestServer("p1")
	r := s.router("a1", models.RoleAdmin)

	assert.Equal(t, http.StatusBadRequest, doJSON(r, http.MethodPost, "/api/v1/profiles", map[string]any{"id": "not-a-uuid", "displayName": "X"}).Code)

	id := uuid.New().String()
	w := doJSON(r, http.MethodPost, "/api/v1/profiles", map[string]any{"id": id, "displayName": "Jane", "age": 52, "conditions": []string{"Diabetes"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created models.Profile
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &created))
	assert.Equal(t, id, created.ID)
	require.Len(t, created.Conditions, 1)
	assert.Equal(t, "Diabetes", created.Conditions[0].Name)

	assert.Equal(t, http.StatusBadRequest, doJSON(r, http.MethodPost, "/api/v1/profiles", map[string]any{"id": id, "displayName": "Jane"}).Code)
}

func TestCreateProfile_FailedConditionsLeaveNoProfile(t *testing.T) {
	s := newTestServer()
	r := s.router("a1", models.RoleAdmin)
	id := uuid.New().String()
	body := map[string]any{"id": id, "displayName": "Jane", "conditions": []string{"Diabetes"}}

	s.profiles.failConditions = true
	assert.Equal(t, http.StatusInternalServerError, doJSON(r, http.MethodPost, "/api/v1/profiles", body).Code)
	_, err := s.profiles.GetByID(context.Background(), id)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	s.profiles.failConditions = false
	w := doJSON(r, http.MethodPost, "/api/v1/profiles", body)
	assert.Equal(t, http.StatusCreated, w.Code, "retry succeeds")
}

func TestReadyz(t *testing.T) {
	r := gin.New()
	h := NewHealthHandler(map[string]ReadinessCheck{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})
	r.GET("/health", h.Health)
	r.GET("/readyz", h.Ready)

	assert.Equal(t, http.StatusOK, doJSON(r, http.MethodGet, "/health", nil).Code)

	w := doJSON(r, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "DOWN", body.Status)
	assert.Equal(t, "UP", body.Checks["database"])
	assert.Equal(t, "connection refused", body.Checks["redis"])
}
