package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ResponseData is the envelope every API response uses.
type ResponseData struct {
	Status    int         `json:"status"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	RequestID string      `json:"requestId,omitempty"`
}

// respond writes the envelope, tagging it with the request id when one was assigned.
func respond(c *gin.Context, status int, message string, data interface{}, errMsg string) {
	body := ResponseData{Status: status, Message: message, Data: data, Error: errMsg}
	if id, ok := c.Get("requestID"); ok {
		body.RequestID, _ = id.(string)
	}
	c.JSON(status, body)
}

// Success sends a 200 with data.
func Success(c *gin.Context, message string, data interface{}) {
	respond(c, http.StatusOK, message, data, "")
}

// Created sends a 201 with the created resource.
func Created(c *gin.Context, message string, data interface{}) {
	respond(c, http.StatusCreated, message, data, "")
}

// Error sends an error envelope with the given status.
func Error(c *gin.Context, statusCode int, errorMessage string) {
	respond(c, statusCode, "An error occurred", nil, errorMessage)
}

// ErrorWithData sends an error that still carries a payload,
// e.g. a result computed before a failed write.
func ErrorWithData(c *gin.Context, statusCode int, errorMessage string, data interface{}) {
	respond(c, statusCode, "An error occurred", data, errorMessage)
}

func BadRequest(c *gin.Context, errorMessage string) {
	Error(c, http.StatusBadRequest, errorMessage)
}

func Unauthorized(c *gin.Context, errorMessage string) {
	Error(c, http.StatusUnauthorized, errorMessage)
}

func Forbidden(c *gin.Context, errorMessage string) {
	Error(c, http.StatusForbidden, errorMessage)
}

func NotFound(c *gin.Context, errorMessage string) {
	Error(c, http.StatusNotFound, errorMessage)
}

// TooManyRequests is used by the analysis throttle; callers set Retry-After.
func TooManyRequests(c *gin.Context, errorMessage string) {
	Error(c, http.StatusTooManyRequests, errorMessage)
}

// ServiceUnavailable signals a missing external capability.
func ServiceUnavailable(c *gin.Context, errorMessage string) {
	Error(c, http.StatusServiceUnavailable, errorMessage)
}

func InternalServerError(c *gin.Context, errorMessage string) {
	Error(c, http.StatusInternalServerError, errorMessage)
}
