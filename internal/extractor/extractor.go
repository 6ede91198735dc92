// Package extractor turns report documents into structured parameters and
// condition mentions using a vision-capable language model.
package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"medical-insights-server/internal/analysis"
	"medical-insights-server/internal/blobstore"
	"medical-insights-server/internal/llm"
	"medical-insights-server/internal/metrics"
)

const transcribeInstruction = `Transcribe all text in this medical report document exactly as written.
Keep table rows on one line each, preserving test names, values, units and reference ranges.
Return JSON: {"text": "<full transcription>"}`

const structureInstruction = `From the medical report text in the input, extract every measured test parameter and every diagnosed condition or clinical finding.
Return JSON: {"parameters": [{"name": string, "value": string|number, "unit": string, "normalRange": string, "isAbnormal": boolean}], "conditions": [string]}.
Mark isAbnormal true when the value is outside the reference range or the report flags it (H, L, *, High, Low).`

// Progress is called after each group with the number of files processed so far.
type Progress func(done, total int)

// Config controls batch pacing.
type Config struct {
	// Concurrency is the group size; each group runs in parallel.
	Concurrency int
	// Delay is the pause between groups.
	Delay time.Duration
}

// DefaultConfig returns groups of 3 with a 2s pause.
func DefaultConfig() Config {
	return Config{Concurrency: 3, Delay: 2 * time.Second}
}

// Extractor extracts documents one file at a time or in paced batches.
type Extractor struct {
	fetcher   blobstore.Fetcher
	completer llm.Completer
	cfg       Config
	logger    *zap.Logger
}

// New creates an extractor.
func New(fetcher blobstore.Fetcher, completer llm.Completer, cfg Config, logger *zap.Logger) *Extractor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{fetcher: fetcher, completer: completer, cfg: cfg, logger: logger}
}

type structured struct {
	Parameters []analysis.ExtractedParameter `json:"parameters"`
	Tests      []analysis.ExtractedParameter `json:"tests"`
	Conditions []string                      `json:"conditions"`
	Findings   []string                      `json:"findings"`
}

// Extract returns the structured content of one file, or nil when any step fails.
func (e *Extractor) Extract(ctx context.Context, file analysis.ReportFile) *analysis.ExtractedDocument {
	doc, stage, err := e.extract(ctx, file)
	if err != nil {
		metrics.RecordExtractionFailure(stage)
		e.logger.Warn("Report file extraction failed",
			zap.String("report_id", file.ReportID),
			zap.String("file_id", file.ID),
			zap.String("stage", stage),
			zap.Error(analysis.NewError(analysis.ErrExtraction, "extract."+stage, err)),
		)
		return nil
	}
	return doc
}

func (e *Extractor) extract(ctx context.Context, file analysis.ReportFile) (*analysis.ExtractedDocument, string, error) {
	blob, err := e.fetcher.Fetch(ctx, file.Ref)
	if err != nil {
		return nil, "fetch", err
	}
	if len(blob.Data) == 0 {
		return nil, "fetch", blobstore.ErrBlobNotFound
	}

	mimeType := firstNonEmpty(blob.MIMEType, file.MIMEType)
	text, err := e.transcribe(ctx, blob, mimeType, firstNonEmpty(blob.FileName, file.FileName))
	if err != nil {
		return nil, "transcribe", err
	}

	raw, err := e.completer.Complete(ctx, llm.Request{
		Instruction: structureInstruction,
		Context:     map[string]string{"text": text},
	})
	if err != nil {
		return nil, "structure", err
	}
	body := llm.FirstJSONObject(llm.StripFences(raw))
	if body == "" {
		return nil, "structure", errors.New("no JSON object in response")
	}
	var out structured
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return nil, "structure", fmt.Errorf("decode structured report: %w", err)
	}

	doc := &analysis.ExtractedDocument{
		ReportID: file.ReportID,
		FileID:   file.ID,
		Text:     text,
	}
	for _, p := range append(out.Parameters, out.Tests...) {
		if strings.TrimSpace(p.Name) == "" {
			continue
		}
		p.Name = strings.TrimSpace(p.Name)
		p.SourceReportID = file.ReportID
		doc.Parameters = append(doc.Parameters, p)
	}
	for _, c := range append(out.Conditions, out.Findings...) {
		if c = strings.TrimSpace(c); c != "" {
			doc.Conditions = append(doc.Conditions, c)
		}
	}
	return doc, "", nil
}

// transcribe returns the document text. Plain text documents skip the model;
// PDFs go as file parts since image parts only take image formats.
func (e *Extractor) transcribe(ctx context.Context, blob *blobstore.Blob, mimeType, fileName string) (string, error) {
	if strings.HasPrefix(mimeType, "text/") {
		return string(blob.Data), nil
	}

	req := llm.Request{Instruction: transcribeInstruction}
	if mimeType == "application/pdf" {
		req.File = &llm.File{Name: fileName, MIMEType: mimeType, Data: blob.Data}
	} else {
		req.Image = &llm.Image{MIMEType: mimeType, Data: blob.Data}
	}
	raw, err := e.completer.Complete(ctx, req)
	if err != nil {
		return "", err
	}

	var payload struct {
		Text string `json:"text"`
	}
	if body := llm.FirstJSONObject(llm.StripFences(raw)); body != "" {
		if err := json.Unmarshal([]byte(body), &payload); err == nil && strings.TrimSpace(payload.Text) != "" {
			return payload.Text, nil
		}
	}
	// Some models ignore the JSON wrapper and answer with the bare transcription.
	if text := strings.TrimSpace(llm.StripFences(raw)); text != "" && !strings.HasPrefix(text, "{") {
		return text, nil
	}
	return "", errors.New("empty transcription")
}

// BatchExtract extracts files in groups of cfg.Concurrency, pausing cfg.Delay
// between groups. Failed files are dropped. Results keep input order.
// Cancelling ctx stops before the next group.
func (e *Extractor) BatchExtract(ctx context.Context, files []analysis.ReportFile, progress Progress) []analysis.ExtractedDocument {
	total := len(files)
	out := make([]analysis.ExtractedDocument, 0, total)

	for start := 0; start < total; start += e.cfg.Concurrency {
		end := start + e.cfg.Concurrency
		if end > total {
			end = total
		}

		group := files[start:end]
		results := make([]*analysis.ExtractedDocument, len(group))
		var g errgroup.Group
		for i := range group {
			i := i
			g.Go(func() error {
				results[i] = e.Extract(ctx, group[i])
				return nil
			})
		}
		_ = g.Wait()

		for _, doc := range results {
			if doc != nil {
				out = append(out, *doc)
			}
		}
		if progress != nil {
			progress(end, total)
		}

		if end < total {
			if err := sleep(ctx, e.cfg.Delay); err != nil {
				e.logger.Info("Batch extraction cancelled",
					zap.Int("done", end),
					zap.Int("total", total),
				)
				break
			}
		}
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
