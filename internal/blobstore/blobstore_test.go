package blobstore

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medical-insights-server/internal/models"
)

func TestSigner_RoundTrip(t *testing.T) {
	s := NewSigner("secret", time.Minute)
	ref, err := s.Sign("file-1")
	require.NoError(t, err)

	id, err := s.Verify(ref)
	require.NoError(t, err)
	assert.Equal(t, "file-1", id)
}

func TestSigner_Expired(t *testing.T) {
	s := NewSigner("secret", time.Minute)
	base := time.Now()
	s.now = func() time.Time { return base }
	ref, err := s.Sign("file-1")
	require.NoError(t, err)

	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, err = s.Verify(ref)
	assert.ErrorIs(t, err, ErrInvalidRef)
}

func TestSigner_WrongSecretAndGarbage(t *testing.T) {
	ref, err := NewSigner("secret", time.Minute).Sign("file-1")
	require.NoError(t, err)

	_, err = NewSigner("other", time.Minute).Verify(ref)
	assert.ErrorIs(t, err, ErrInvalidRef)

	_, err = NewSigner("secret", time.Minute).Verify("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidRef)
}

type fakeFiles map[string]*models.ReportFile

func (f fakeFiles) GetFile(_ context.Context, id string) (*models.ReportFile, error) {
	file, ok := f[id]
	if !ok {
		return nil, errors.New("record not found")
	}
	return file, nil
}

func TestDBStore_Fetch(t *testing.T) {
	signer := NewSigner("secret", time.Minute)
	store := NewDBStore(signer, fakeFiles{
		"f1":    {FileName: "cbc.png", FileType: "image/png", FileData: []byte("png-bytes")},
		"empty": {FileName: "x.png", FileType: "image/png"},
	})
	ctx := context.Background()

	ref, _ := signer.Sign("f1")
	blob, err := store.Fetch(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), blob.Data)
	assert.Equal(t, "image/png", blob.MIMEType)

	ref, _ = signer.Sign("empty")
	_, err = store.Fetch(ctx, ref)
	assert.ErrorIs(t, err, ErrBlobNotFound)

	ref, _ = signer.Sign("missing")
	_, err = store.Fetch(ctx, ref)
	assert.Error(t, err)

	_, err = store.Fetch(ctx, "bogus")
	assert.ErrorIs(t, err, ErrInvalidRef)
}

func TestHTTPStore_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/good"):
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte("jpeg-bytes"))
		case strings.HasSuffix(r.URL.Path, "/expired"):
			w.WriteHeader(http.StatusUnauthorized)
		case strings.HasSuffix(r.URL.Path, "/broken"):
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	store := NewHTTPStore(srv.URL, time.Second)
	ctx := context.Background()

	blob, err := store.Fetch(ctx, "good")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), blob.Data)
	assert.Equal(t, "image/jpeg", blob.MIMEType)

	_, err = store.Fetch(ctx, "gone")
	assert.ErrorIs(t, err, ErrBlobNotFound)

	_, err = store.Fetch(ctx, "expired")
	assert.ErrorIs(t, err, ErrInvalidRef)

	_, err = store.Fetch(ctx, "broken")
	assert.Error(t, err)
}
