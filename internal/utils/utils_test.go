package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medical-insights-server/internal/models"
)

func TestAccessToken_RoundTrip(t *testing.T) {
	token, err := GenerateAccessToken("u1", models.RoleDoctor, "secret", time.Minute)
	require.NoError(t, err)

	claims, err := ValidateToken(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, models.RoleDoctor, claims.Role)

	_, err = ValidateToken(token, "wrong")
	assert.Error(t, err)

	expired, err := GenerateAccessToken("u1", models.RolePatient, "secret", -time.Minute)
	require.NoError(t, err)
	_, err = ValidateToken(expired, "secret")
	assert.Error(t, err)
}

func TestFormatValidationError_UsesJSONNames(t *testing.T) {
	type payload struct {
		ReportType string `json:"reportType" validate:"required"`
		Age        int    `json:"age" validate:"gte=0,lte=130"`
	}
	err := Validate(payload{Age: 200})
	require.Error(t, err)
	msg := FormatValidationError(err)
	assert.Contains(t, msg, "payload.reportType failed on 'required'")
	assert.Contains(t, msg, "payload.age failed on 'lte'=130")
}

func TestRespond_CarriesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Set("requestID", "req-1")

	ErrorWithData(c, http.StatusInternalServerError, "save failed", map[string]int{"scanned": 2})

	var body ResponseData
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "req-1", body.RequestID)
	assert.Equal(t, "save failed", body.Error)
	assert.NotNil(t, body.Data)
}
