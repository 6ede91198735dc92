// Package blobstore fetches report documents by signed reference.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"medical-insights-server/internal/models"
)

// ErrBlobNotFound is returned when the referenced document does not exist.
var ErrBlobNotFound = errors.New("blob not found")

// Blob is a fetched document.
type Blob struct {
	Data     []byte
	MIMEType string
	FileName string
}

// Fetcher resolves a signed reference to document bytes.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) (*Blob, error)
}

// FileReader loads stored report files by id.
type FileReader interface {
	GetFile(ctx context.Context, fileID string) (*models.ReportFile, error)
}

// DBStore serves documents stored as report file rows.
type DBStore struct {
	signer *Signer
	files  FileReader
}

func NewDBStore(signer *Signer, files FileReader) *DBStore {
	return &DBStore{signer: signer, files: files}
}

func (s *DBStore) Fetch(ctx context.Context, ref string) (*Blob, error) {
	fileID, err := s.signer.Verify(ref)
	if err != nil {
		return nil, err
	}
	file, err := s.files.GetFile(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("load report file %s: %w", fileID, err)
	}
	if file == nil || len(file.FileData) == 0 {
		return nil, ErrBlobNotFound
	}
	return &Blob{Data: file.FileData, MIMEType: file.FileType, FileName: file.FileName}, nil
}

// HTTPStore downloads documents from the public file endpoint.
type HTTPStore struct {
	client *resty.Client
}

// NewHTTPStore creates a store resolving refs against baseURL + "/api/v1/files/".
func NewHTTPStore(baseURL string, timeout time.Duration) *HTTPStore {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout)
	return &HTTPStore{client: client}
}

func (s *HTTPStore) Fetch(ctx context.Context, ref string) (*Blob, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		Get("/api/v1/files/" + url.PathEscape(ref))
	if err != nil {
		return nil, fmt.Errorf("download blob: %w", err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, ErrBlobNotFound
	case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden:
		return nil, ErrInvalidRef
	case resp.IsError():
		return nil, fmt.Errorf("download blob: unexpected status %d", resp.StatusCode())
	}
	return &Blob{
		Data:     resp.Body(),
		MIMEType: resp.Header().Get("Content-Type"),
	}, nil
}
