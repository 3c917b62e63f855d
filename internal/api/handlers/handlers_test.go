package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/markdave123-py/kbchat/internal/botframework"
	"github.com/markdave123-py/kbchat/internal/core"
	"github.com/markdave123-py/kbchat/internal/models"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type stubAssistant struct {
	question string
	results  []models.RetrievedChunk
	err      error
}

func (s *stubAssistant) HandleQuestion(_ context.Context, text string) string {
	s.question = text
	return "answer to " + text
}

func (s *stubAssistant) Search(_ context.Context, text string, _ int) ([]models.RetrievedChunk, error) {
	s.question = text
	return s.results, s.err
}

type stubRunner struct {
	summary *models.IngestSummary
	err     error
}

func (s stubRunner) Run(context.Context) (*models.IngestSummary, error) { return s.summary, s.err }
func (s stubRunner) LastRun() *models.IngestSummary                     { return s.summary }

type stubReplier struct {
	in   *botframework.Activity
	text string
	err  error
}

func (s *stubReplier) SendReply(_ context.Context, in *botframework.Activity, text string) error {
	s.in, s.text = in, text
	return s.err
}

type denyAll struct{}

func (denyAll) Validate(context.Context, string) error { return errors.New("bad token") }

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	Health(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"status": "ok", "message": "RAG bot is running"}, decode(t, rec))
}

func TestChat_Query(t *testing.T) {
	a := &stubAssistant{}
	h := NewChatHandler(a)

	rec := httptest.NewRecorder()
	h.QueryKnowledgeBase(rec, httptest.NewRequest(http.MethodPost, "/api/chat/query", strings.NewReader(`{"query":"revenue?"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "answer to revenue?", decode(t, rec)["answer"])

	rec = httptest.NewRecorder()
	h.QueryKnowledgeBase(rec, httptest.NewRequest(http.MethodPost, "/api/chat/query", strings.NewReader(`not json`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChat_Search(t *testing.T) {
	a := &stubAssistant{results: []models.RetrievedChunk{{Content: "c", SourceFile: "f.pdf", SourceType: models.SourcePDF, Page: 2}}}
	h := NewChatHandler(a)

	rec := httptest.NewRecorder()
	h.Search(rec, httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(`{"query":"c","k":3}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	results := decode(t, rec)["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, "f.pdf", results[0].(map[string]any)["source_file"])

	rec = httptest.NewRecorder()
	h.Search(rec, httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(`{"query":" "}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	a.err = core.ErrIndexQuery
	rec = httptest.NewRecorder()
	h.Search(rec, httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(`{"query":"c"}`)))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestIngest(t *testing.T) {
	tests := []struct {
		name     string
		runner   stubRunner
		wantCode int
		wantStat string
	}{
		{"success", stubRunner{summary: &models.IngestSummary{Status: models.IngestSuccess, ChunksUploaded: 12}}, http.StatusOK, "success"},
		{"partial", stubRunner{summary: &models.IngestSummary{Status: models.IngestPartial, ChunksUploaded: 3}}, http.StatusOK, "partial"},
		{"in progress", stubRunner{err: core.ErrIngestInProgress}, http.StatusConflict, ""},
		{"aborted", stubRunner{summary: &models.IngestSummary{Status: models.IngestPartial}, err: core.ErrConfiguration}, http.StatusInternalServerError, "failed"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewIngestHandler(tc.runner, quiet).Ingest(rec, httptest.NewRequest(http.MethodPost, "/ingest", nil))

			assert.Equal(t, tc.wantCode, rec.Code)
			body := decode(t, rec)
			if tc.wantStat != "" {
				assert.Equal(t, tc.wantStat, body["status"])
			}
			if tc.name == "success" {
				assert.EqualValues(t, 12, body["chunks_uploaded"])
			}
		})
	}
}

func TestIngest_Status(t *testing.T) {
	rec := httptest.NewRecorder()
	NewIngestHandler(stubRunner{}, quiet).Status(rec, httptest.NewRequest(http.MethodGet, "/ingest", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	last := &models.IngestSummary{Status: models.IngestPartial, ChunksUploaded: 7, ChunksUnchanged: 2}
	rec = httptest.NewRecorder()
	NewIngestHandler(stubRunner{summary: last}, quiet).Status(rec, httptest.NewRequest(http.MethodGet, "/ingest", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "partial", body["status"])
	assert.EqualValues(t, 7, body["chunks_uploaded"])
	assert.EqualValues(t, 2, body["summary"].(map[string]any)["chunks_unchanged"])
}

const activityJSON = `{"type":"message","id":"1","serviceUrl":"https://smba.example","from":{"id":"u"},"recipient":{"id":"b"},"conversation":{"id":"c"},"text":"What was revenue?"}`

func TestBot_Messages(t *testing.T) {
	a, rep := &stubAssistant{}, &stubReplier{}
	h := NewBotHandler(a, rep, nil, quiet)

	rec := httptest.NewRecorder()
	h.Messages(rec, httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(activityJSON)))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())
	assert.Equal(t, "What was revenue?", a.question)
	assert.Equal(t, "answer to What was revenue?", rep.text)
	assert.Equal(t, "c", rep.in.Conversation.ID)
}

func TestBot_NonMessageActivityIsAcknowledged(t *testing.T) {
	a, rep := &stubAssistant{}, &stubReplier{}
	rec := httptest.NewRecorder()
	NewBotHandler(a, rep, nil, quiet).Messages(rec,
		httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(`{"type":"conversationUpdate"}`)))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Nil(t, rep.in)
}

func TestBot_Errors(t *testing.T) {
	rec := httptest.NewRecorder()
	NewBotHandler(&stubAssistant{}, &stubReplier{}, nil, quiet).Messages(rec,
		httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(`{"text":`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	NewBotHandler(&stubAssistant{}, &stubReplier{}, denyAll{}, quiet).Messages(rec,
		httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(activityJSON)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	NewBotHandler(&stubAssistant{}, &stubReplier{err: errors.New("403")}, nil, quiet).Messages(rec,
		httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(activityJSON)))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestLogin(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	h := NewAuthHandler(string(hash), "signing-key")

	rec := httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"password":"s3cret"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	tokenStr := decode(t, rec)["token"].(string)
	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) { return []byte("signing-key"), nil })
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Subject)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), claims.ExpiresAt.Time, time.Minute)

	rec = httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"password":"nope"}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	NewAuthHandler("", "k").Login(rec, httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type stubUploader struct {
	name string
	err  error
}

func (s *stubUploader) Upload(_ context.Context, filename, contentType string, data []byte) (*models.StoredBlob, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.name = filename
	return &models.StoredBlob{Name: filename, URL: "mem://" + filename, Size: len(data), ContentType: contentType}, nil
}

func multipartBody(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadDocument(t *testing.T) {
	up := &stubUploader{}
	h := NewDocumentHandler(up, quiet)

	body, ct := multipartBody(t, "sales.csv", "a,b\n1,2\n")
	req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.UploadDocument(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "sales.csv", up.name)
	assert.EqualValues(t, 8, decode(t, rec)["size"])

	up.err = core.ErrUnsupportedFormat
	body, ct = multipartBody(t, "notes.txt", "x")
	req = httptest.NewRequest(http.MethodPost, "/api/documents/upload", body)
	req.Header.Set("Content-Type", ct)
	rec = httptest.NewRecorder()
	h.UploadDocument(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	rec = httptest.NewRecorder()
	h.UploadDocument(rec, httptest.NewRequest(http.MethodPost, "/api/documents/upload", strings.NewReader("x")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
