// Package llm talks to an OpenAI-compatible chat completions endpoint.
package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"medical-insights-server/internal/metrics"
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("language model client is not configured")

const systemPrompt = "You are a clinical data assistant. Answer with valid JSON only, without commentary or markdown."

// Image is an inline image sent with a request.
type Image struct {
	MIMEType string
	Data     []byte
}

// File is an inline document, such as a PDF, sent as a file content part.
type File struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Request is one completion call. Image and File are mutually exclusive.
type Request struct {
	Instruction string
	Image       *Image
	File        *File
	// Context is marshalled to JSON and appended to the instruction.
	Context any
}

// Completer returns the raw text answer to a request.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
	Configured() bool
}

// Config holds the endpoint settings.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	VisionModel string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

type chatContent struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
	File     *chatFile     `json:"file,omitempty"`
}

type chatFile struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Client is a Completer backed by HTTP. It does not retry.
type Client struct {
	httpClient *resty.Client
	cfg        Config
	logger     *zap.Logger
}

// NewClient creates a client. An empty APIKey yields a client whose calls fail with ErrNotConfigured.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = cfg.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	return &Client{httpClient: client, cfg: cfg, logger: logger}
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool {
	return c.cfg.APIKey != ""
}

// Complete sends the request and returns the first choice's content.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	kind := "text"
	model := c.cfg.Model
	if req.Image != nil || req.File != nil {
		kind = "vision"
		model = c.cfg.VisionModel
	}

	body, err := c.buildRequest(model, req)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	text, err := c.post(ctx, body)
	metrics.RecordModelCall(kind, err, time.Since(start))
	if err != nil {
		c.logger.Warn("Model call failed",
			zap.String("kind", kind),
			zap.String("model", model),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return "", err
	}
	return text, nil
}

func (c *Client) buildRequest(model string, req Request) (chatRequest, error) {
	prompt := req.Instruction
	if req.Context != nil {
		ctxJSON, err := json.Marshal(req.Context)
		if err != nil {
			return chatRequest{}, fmt.Errorf("encode request context: %w", err)
		}
		prompt += "\n\nInput:\n" + string(ctxJSON)
	}

	var userContent any = prompt
	switch {
	case req.Image != nil:
		mimeType := req.Image.MIMEType
		if mimeType == "" {
			mimeType = "image/jpeg"
		}
		userContent = []chatContent{
			{Type: "text", Text: prompt},
			{Type: "image_url", ImageURL: &chatImageURL{URL: dataURL(mimeType, req.Image.Data)}},
		}
	case req.File != nil:
		mimeType := req.File.MIMEType
		if mimeType == "" {
			mimeType = "application/pdf"
		}
		name := req.File.Name
		if name == "" {
			name = "document.pdf"
		}
		userContent = []chatContent{
			{Type: "text", Text: prompt},
			{Type: "file", File: &chatFile{Filename: name, FileData: dataURL(mimeType, req.File.Data)}},
		}
	}

	return chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userContent},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}, nil
}

func dataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func (c *Client) post(ctx context.Context, body chatRequest) (string, error) {
	var result chatResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		SetError(&result).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("chat completion request: %w", err)
	}
	if resp.IsError() {
		msg := resp.Status()
		if result.Error != nil && result.Error.Message != "" {
			msg = result.Error.Message
		}
		return "", fmt.Errorf("chat completion returned %d: %s", resp.StatusCode(), msg)
	}
	if len(result.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return result.Choices[0].Message.Content, nil
}
