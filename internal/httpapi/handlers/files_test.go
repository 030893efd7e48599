package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kweaver-ai/sandboxctl/internal/domain"
	"github.com/kweaver-ai/sandboxctl/internal/services"
)

func newTestFileHandler(t *testing.T) (*gin.Engine, *fakeSessionRepo, *fakeObjectStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	engine := gin.New()

	sessions := newFakeSessionRepo()
	sess, err := domain.NewSession("sess_20260304_abcdef12", "python-3.11", "test-bucket", domain.DefaultResourceLimit(), "docker", 600, time.Now())
	require.NoError(t, err)
	require.NoError(t, sessions.Create(context.Background(), sess))

	objects := newFakeObjectStore()
	svc := services.NewFileService(sessions, objects, 0)
	h := NewFileHandler(svc)
	h.RegisterRoutes(engine.Group("/v1"))
	return engine, sessions, objects
}

func TestFileHandler_UploadAndDownload(t *testing.T) {
	engine, _, _ := newTestFileHandler(t)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "hello.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("hello world"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	uploadReq := httptest.NewRequest(http.MethodPost, "/v1/sessions/sess_20260304_abcdef12/files/upload?path=hello.txt", &buf)
	uploadReq.Header.Set("Content-Type", writer.FormDataContentType())
	uploadRec := httptest.NewRecorder()
	engine.ServeHTTP(uploadRec, uploadReq)
	require.Equal(t, http.StatusNoContent, uploadRec.Code)

	downloadRec := doRequest(t, engine, http.MethodGet, "/v1/sessions/sess_20260304_abcdef12/files/download?path=hello.txt", nil)
	assert.Equal(t, http.StatusOK, downloadRec.Code)
	assert.Equal(t, "hello world", downloadRec.Body.String())
}

func TestFileHandler_Upload_MissingPath(t *testing.T) {
	engine, _, _ := newTestFileHandler(t)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/sess_20260304_abcdef12/files/upload", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestFileHandler_Download_UnknownPath(t *testing.T) {
	engine, _, _ := newTestFileHandler(t)

	rec := doRequest(t, engine, http.MethodGet, "/v1/sessions/sess_20260304_abcdef12/files/download?path=missing.txt", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFileHandler_List(t *testing.T) {
	engine, _, objects := newTestFileHandler(t)
	require.NoError(t, objects.Upload(context.Background(), "sessions/sess_20260304_abcdef12/a.txt", io.NopCloser(bytes.NewReader([]byte("x"))), 1, "text/plain"))

	rec := doRequest(t, engine, http.MethodGet, "/v1/sessions/sess_20260304_abcdef12/files", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Items []fileObjectResponse `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Items, 1)
}

func TestFileHandler_Delete(t *testing.T) {
	engine, _, objects := newTestFileHandler(t)
	require.NoError(t, objects.Upload(context.Background(), "sessions/sess_20260304_abcdef12/a.txt", io.NopCloser(bytes.NewReader([]byte("x"))), 1, "text/plain"))

	rec := doRequest(t, engine, http.MethodDelete, "/v1/sessions/sess_20260304_abcdef12/files?path=a.txt", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	ok, err := objects.Exists(context.Background(), "sessions/sess_20260304_abcdef12/a.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}
