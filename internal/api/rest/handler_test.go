package rest

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stiffinWanjohi/bulkmail/internal/audit"
	"github.com/stiffinWanjohi/bulkmail/internal/config"
	"github.com/stiffinWanjohi/bulkmail/internal/dispatch"
	"github.com/stiffinWanjohi/bulkmail/internal/distlock"
	"github.com/stiffinWanjohi/bulkmail/internal/domain"
	"github.com/stiffinWanjohi/bulkmail/internal/draft"
	"github.com/stiffinWanjohi/bulkmail/internal/progress"
)

type stubTransport struct {
	mu       sync.Mutex
	sent     []domain.Message
	failures map[string]string
	block    chan struct{}
	hold     string // only this address waits on block when set
	started  chan string
}

func (s *stubTransport) Name() string { return "stub" }

func (s *stubTransport) Send(ctx context.Context, msg domain.Message) domain.SendResult {
	if s.started != nil {
		s.started <- msg.To
	}
	if s.block != nil && (s.hold == "" || s.hold == msg.To) {
		select {
		case <-s.block:
		case <-ctx.Done():
			return domain.NewFailureResult(0, ctx.Err().Error(), 0)
		}
	}
	s.mu.Lock()
	s.sent = append(s.sent, msg)
	s.mu.Unlock()
	if reason, ok := s.failures[msg.To]; ok {
		return domain.NewFailureResult(0, reason, 1)
	}
	return domain.NewSuccessResult("id", 200, 1)
}

func (s *stubTransport) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type testEnv struct {
	handler  *Handler
	router   chi.Router
	drafts   *draft.Store
	runner   *dispatch.Runner
	recorder *audit.LogRecorder
	tr       *stubTransport
}

func setupEnv(t *testing.T, tr *stubTransport) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	drafts := draft.NewStore(client)
	progressStore := progress.NewStore(client)
	rec := audit.NewLogRecorder()
	orch := dispatch.NewOrchestrator(dispatch.Config{
		Transport: tr,
		Audit:     rec,
		Progress:  progressStore,
	})
	runner := dispatch.NewRunner(orch, dispatch.RunnerConfig{
		Locker:  distlock.NewLocker(client),
		LockTTL: time.Minute,
		Clamp:   config.Default().Dispatch.Clamp,
	})
	t.Cleanup(func() { _ = runner.Shutdown(5 * time.Second) })

	h := NewHandler(drafts, runner, rec).
		WithProgressStore(progressStore).
		WithTransport(tr)

	return &testEnv{
		handler:  h,
		router:   h.Router(),
		drafts:   drafts,
		runner:   runner,
		recorder: rec,
		tr:       tr,
	}
}

func (e *testEnv) do(t *testing.T, method, path, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) doJSON(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		require.NoError(t, err)
	}
	return e.do(t, method, path, "application/json", data)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// createReadyDraft creates a draft with a complete sender and recipients.
func (e *testEnv) createReadyDraft(t *testing.T, emails ...string) string {
	t.Helper()

	rec := e.doJSON(t, http.MethodPost, "/api/drafts", map[string]any{
		"name":     "Launch",
		"sender":   map[string]string{"email": "owner@example.com", "name": "Owner", "appPassword": "secret"},
		"subject":  "Hello",
		"template": "<p>Hi {{name}}</p>",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decodeBody(t, rec)["id"].(string)

	var csvBody strings.Builder
	csvBody.WriteString("email,name\n")
	for i, addr := range emails {
		csvBody.WriteString(addr + ",User" + string(rune('A'+i)) + "\n")
	}
	rec = e.do(t, http.MethodPut, "/api/drafts/"+id+"/recipients", "text/csv", []byte(csvBody.String()))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return id
}

func waitForRun(t *testing.T, r *dispatch.Runner, id uuid.UUID) {
	t.Helper()
	done := r.Done(id)
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
}

func TestDraftLifecycle(t *testing.T) {
	env := setupEnv(t, &stubTransport{})

	rec := env.doJSON(t, http.MethodPost, "/api/drafts", map[string]any{
		"name":   "Spring",
		"sender": map[string]string{"email": "owner@example.com", "appPassword": "secret"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")
	id := decodeBody(t, rec)["id"].(string)

	rec = env.doJSON(t, http.MethodPatch, "/api/drafts/"+id, map[string]any{
		"subject": "New subject",
		"sender":  map[string]string{"email": "owner@example.com", "name": "Owner"},
		"mode":    "sequential",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "New subject", body["subject"])
	assert.Equal(t, "sequential", body["mode"])

	stored, err := env.drafts.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "secret", stored.Sender.AppPassword, "blank password keeps the stored one")
	assert.Equal(t, "Owner", stored.Sender.Name)

	rec = env.doJSON(t, http.MethodGet, "/api/drafts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["data"], 1)

	rec = env.doJSON(t, http.MethodDelete, "/api/drafts/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.doJSON(t, http.MethodGet, "/api/drafts/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateDraft_Validation(t *testing.T) {
	env := setupEnv(t, &stubTransport{})
	id := env.createReadyDraft(t, "a@example.com")

	rec := env.doJSON(t, http.MethodPatch, "/api/drafts/"+id, map[string]any{"emailColumn": "phone"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "emailColumn", decodeBody(t, rec)["field"])

	rec = env.doJSON(t, http.MethodPatch, "/api/drafts/"+id, map[string]any{"mode": "burst"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(t, http.MethodPatch, "/api/drafts/"+id, "application/json", []byte("{"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReplaceRecipients_CSV(t *testing.T) {
	env := setupEnv(t, &stubTransport{})
	id := env.createReadyDraft(t, "seed@example.com")

	body := "\ufeffEmail Address,name\na@example.com,Ann\nbroken\n\nb@example.com,Bob\n"
	rec := env.do(t, http.MethodPut, "/api/drafts/"+id+"/recipients", "text/csv", []byte(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody(t, rec)
	assert.EqualValues(t, 2, resp["count"])
	assert.Equal(t, "Email Address", resp["emailColumn"])
	assert.Equal(t, []any{float64(3)}, resp["rejectedLines"])
	assert.Equal(t, []any{"Email Address", "name"}, resp["columns"])
}

func TestReplaceRecipients_JSONAndMultipart(t *testing.T) {
	env := setupEnv(t, &stubTransport{})
	id := env.createReadyDraft(t, "seed@example.com")

	rec := env.doJSON(t, http.MethodPut, "/api/drafts/"+id+"/recipients", map[string]any{
		"columns": []string{"email", "name"},
		"rows":    [][]string{{"a@example.com", "Ann"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, decodeBody(t, rec)["count"])

	rec = env.doJSON(t, http.MethodPut, "/api/drafts/"+id+"/recipients", map[string]any{
		"columns": []string{"email", "email"},
		"rows":    [][]string{},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "columns", decodeBody(t, rec)["field"])

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(uploadField, "list.csv")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("email\nx@example.com\ny@example.com\nz@example.com\n"))
	require.NoError(t, mw.Close())

	rec = env.do(t, http.MethodPut, "/api/drafts/"+id+"/recipients", mw.FormDataContentType(), buf.Bytes())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 3, decodeBody(t, rec)["count"])
}

func TestReplaceRecipients_TooLarge(t *testing.T) {
	env := setupEnv(t, &stubTransport{})
	id := env.createReadyDraft(t, "a@example.com")
	env.handler.WithMaxUpload(16)

	body := "email\n" + strings.Repeat("someone@example.com\n", 10)
	rec := env.do(t, http.MethodPut, "/api/drafts/"+id+"/recipients", "text/csv", []byte(body))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRecipientRows(t *testing.T) {
	env := setupEnv(t, &stubTransport{})

	rec := env.doJSON(t, http.MethodPost, "/api/drafts", map[string]any{"name": "empty"})
	require.Equal(t, http.StatusCreated, rec.Code)
	emptyID := decodeBody(t, rec)["id"].(string)

	rec = env.doJSON(t, http.MethodPost, "/api/drafts/"+emptyID+"/recipients/rows",
		map[string]any{"values": map[string]string{"email": "a@example.com"}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	id := env.createReadyDraft(t, "a@example.com")
	base := "/api/drafts/" + id + "/recipients/rows"

	rec = env.doJSON(t, http.MethodPost, base, map[string]any{"values": map[string]string{"email": "b@example.com", "name": "Bo"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.EqualValues(t, 2, decodeBody(t, rec)["count"])

	rec = env.doJSON(t, http.MethodPut, base+"/0", map[string]any{"values": map[string]string{"email": "c@example.com", "name": "Cy"}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.doJSON(t, http.MethodPost, base, map[string]any{"values": map[string]string{"phone": "123"}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.doJSON(t, http.MethodDelete, base+"/5", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.doJSON(t, http.MethodDelete, base+"/x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.doJSON(t, http.MethodDelete, base+"/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	d, err := env.drafts.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, 1, d.RecipientCount())
	row, err := d.Recipients.Row(0)
	require.NoError(t, err)
	assert.Equal(t, "c@example.com", row.Value("email"))
}

func TestPreviewDraft(t *testing.T) {
	env := setupEnv(t, &stubTransport{})
	id := env.createReadyDraft(t, "a@example.com", "b@example.com")

	rec := env.doJSON(t, http.MethodPatch, "/api/drafts/"+id, map[string]any{"template": "<p>{{name}} at {{company}}</p>"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.doJSON(t, http.MethodPost, "/api/drafts/"+id+"/preview", map[string]int{"row": 1})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "b@example.com", body["to"])
	assert.Equal(t, "<p>UserB at {{company}}</p>", body["html"])
	assert.Equal(t, []any{"company"}, body["unknownPlaceholders"])
	assert.NotContains(t, rec.Body.String(), "secret")

	rec = env.doJSON(t, http.MethodPost, "/api/drafts/"+id+"/preview", map[string]int{"row": 9})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendDraft_FullRun(t *testing.T) {
	tr := &stubTransport{failures: map[string]string{"b@example.com": "HTTP 500: mailbox unavailable"}}
	env := setupEnv(t, tr)
	id := env.createReadyDraft(t, "a@example.com", "b@example.com", "c@example.com")

	rec := env.doJSON(t, http.MethodPost, "/api/drafts/"+id+"/send", map[string]any{"concurrency": 2, "delayMs": 0})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	campaignID := uuid.MustParse(body["campaignId"].(string))
	assert.Equal(t, "/api/campaigns/"+campaignID.String(), rec.Header().Get("Location"))

	waitForRun(t, env.runner, campaignID)
	assert.Equal(t, 3, tr.count())

	base := "/api/campaigns/" + campaignID.String()

	rec = env.doJSON(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	c := decodeBody(t, rec)
	assert.Equal(t, "failed", c["status"])
	assert.EqualValues(t, 2, c["sentCount"])
	assert.EqualValues(t, 1, c["failedCount"])

	rec = env.doJSON(t, http.MethodGet, base+"/progress", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	p := decodeBody(t, rec)
	assert.Equal(t, true, p["finished"])
	assert.Equal(t, "3/3", p["label"])

	rec = env.doJSON(t, http.MethodGet, base+"/failures", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	failures := decodeBody(t, rec)["data"].([]any)
	require.Len(t, failures, 1)
	assert.Equal(t, "b@example.com", failures[0].(map[string]any)["email"])

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, base+"/progress/stream", nil).WithContext(ctx)
	stream := httptest.NewRecorder()
	start := time.Now()
	env.router.ServeHTTP(stream, req)
	assert.Less(t, time.Since(start), time.Second, "a finished run's stream closes after the stored snapshot")
	assert.Equal(t, "text/event-stream", stream.Header().Get("Content-Type"))
	assert.Equal(t, 1, strings.Count(stream.Body.String(), "event: progress"))
	assert.Contains(t, stream.Body.String(), `"label":"3/3"`)

	rec = env.doJSON(t, http.MethodGet, base+"/logs.csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	rows, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"email", "status", "message", "created_at"}, rows[0])
}

func TestListFailures_ActiveRun(t *testing.T) {
	tr := &stubTransport{
		failures: map[string]string{"a@example.com": "550 mailbox unavailable"},
		block:    make(chan struct{}),
		hold:     "b@example.com",
		started:  make(chan string, 10),
	}
	env := setupEnv(t, tr)
	id := env.createReadyDraft(t, "a@example.com", "b@example.com")

	rec := env.doJSON(t, http.MethodPost, "/api/drafts/"+id+"/send", map[string]any{"concurrency": 1})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	campaignID := uuid.MustParse(decodeBody(t, rec)["campaignId"].(string))

	assert.Equal(t, "a@example.com", <-tr.started)
	assert.Equal(t, "b@example.com", <-tr.started)

	rec = env.doJSON(t, http.MethodGet, "/api/campaigns/"+campaignID.String()+"/failures", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["active"])
	failures := body["data"].([]any)
	require.Len(t, failures, 1)
	assert.Equal(t, "a@example.com", failures[0].(map[string]any)["email"])
	assert.Equal(t, "550 mailbox unavailable", failures[0].(map[string]any)["error"])

	close(tr.block)
	waitForRun(t, env.runner, campaignID)

	rec = env.doJSON(t, http.MethodGet, "/api/campaigns/"+campaignID.String()+"/failures", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, false, body["active"])
	assert.Len(t, body["data"], 1)
}

func TestSendDraft_Rejections(t *testing.T) {
	tr := &stubTransport{block: make(chan struct{}), started: make(chan string, 10)}
	env := setupEnv(t, tr)

	rec := env.doJSON(t, http.MethodPost, "/api/drafts", map[string]any{"name": "no sender"})
	require.Equal(t, http.StatusCreated, rec.Code)
	incomplete := decodeBody(t, rec)["id"].(string)

	rec = env.doJSON(t, http.MethodPost, "/api/drafts/"+incomplete+"/send", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "recipients", decodeBody(t, rec)["field"])

	id := env.createReadyDraft(t, "a@example.com", "b@example.com")
	rec = env.doJSON(t, http.MethodPost, "/api/drafts/"+id+"/send", map[string]any{"concurrency": 1})
	require.Equal(t, http.StatusAccepted, rec.Code)
	campaignID := decodeBody(t, rec)["campaignId"].(string)
	<-tr.started

	rec = env.doJSON(t, http.MethodPost, "/api/drafts/"+id+"/send", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.doJSON(t, http.MethodGet, "/api/campaigns", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["data"], 1)

	rec = env.doJSON(t, http.MethodGet, "/api/campaigns/"+campaignID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["active"])

	rec = env.doJSON(t, http.MethodPost, "/api/campaigns/"+campaignID+"/cancel", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	waitForRun(t, env.runner, uuid.MustParse(campaignID))

	rec = env.doJSON(t, http.MethodPost, "/api/campaigns/"+campaignID+"/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCampaignLookups(t *testing.T) {
	env := setupEnv(t, &stubTransport{})

	rec := env.doJSON(t, http.MethodGet, "/api/campaigns/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	unknown := "/api/campaigns/" + uuid.NewString()
	for _, path := range []string{unknown, unknown + "/progress", unknown + "/failures", unknown + "/logs.csv"} {
		rec = env.doJSON(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestTestConnection(t *testing.T) {
	tr := &stubTransport{failures: map[string]string{"bad@example.com": "535 authentication failed"}}
	env := setupEnv(t, tr)

	rec := env.doJSON(t, http.MethodPost, "/api/connection/test", map[string]any{
		"sender": map[string]string{"email": "owner@example.com", "appPassword": "secret"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", decodeBody(t, rec)["status"])

	rec = env.doJSON(t, http.MethodPost, "/api/connection/test", map[string]any{
		"sender": map[string]string{"email": "bad@example.com", "appPassword": "secret"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "535 authentication failed", body["detail"])

	id := env.createReadyDraft(t, "a@example.com")
	rec = env.doJSON(t, http.MethodPost, "/api/connection/test", map[string]any{"draftId": id})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", decodeBody(t, rec)["status"])

	rec = env.doJSON(t, http.MethodPost, "/api/connection/test", map[string]any{"sender": map[string]string{"email": "x@example.com"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "error", decodeBody(t, rec)["status"])
	assert.Equal(t, 3, tr.count(), "incomplete sender must not reach the transport")
}

func TestTestConnection_NoTransport(t *testing.T) {
	env := setupEnv(t, &stubTransport{})
	env.handler.transport = nil

	rec := env.doJSON(t, http.MethodPost, "/api/connection/test", map[string]any{})
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestSendGuard(t *testing.T) {
	env := setupEnv(t, &stubTransport{})
	env.handler.WithSendGuard(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			respondError(w, http.StatusTooManyRequests, "slow down", "RATE_LIMITED")
		})
	})
	router := env.handler.Router()

	req := httptest.NewRequest(http.MethodPost, "/api/connection/test", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/drafts", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
