package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"stash/internal/ai"
	"stash/internal/auth"
	"stash/internal/config"
	"stash/internal/events"
	"stash/internal/files"
	"stash/internal/ingest"
	"stash/internal/models"
	"stash/internal/render"
	"stash/internal/store"
	"stash/internal/testutil"
)

type textClassifier struct{}

func (textClassifier) Classify(ctx context.Context, raw string) models.ItemType {
	return models.TypeText
}

type queue struct {
	mu  sync.Mutex
	ids []string
}

func (q *queue) Submit(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, id)
	return true
}

type memObjects struct{}

func (memObjects) PutObject(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	return "https://cdn.example.com/" + key, nil
}

func (memObjects) RemoveObject(ctx context.Context, key string) error { return nil }

const secret = "api-test-secret"

type testServer struct {
	router *gin.Engine
	srv    *Server
	queue  *queue
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	gdb := testutil.TestDB(t)
	st := store.New(gdb)
	log := logrus.New()
	log.SetOutput(io.Discard)
	bus := events.NewBus(16)
	t.Cleanup(bus.Close)
	q := &queue{}

	srv := &Server{
		DB:    gdb,
		Store: st,
		Ingest: &ingest.Service{
			Store:      st,
			Classifier: textClassifier{},
			Files:      files.NewHandler(memObjects{}, nil, time.Second, "", 1<<20),
			Bus:        bus,
			Dispatch:   q,
			Log:        log,
		},
		Dispatch:  q,
		Bus:       bus,
		Render:    render.NewClient("", "", time.Second),
		Assets:    ai.NewClient("", "", time.Second),
		Auth:      config.AuthConfig{Mode: config.AuthModeJWT, JWTSecret: secret, Admins: []string{"alice"}},
		MaxUpload: 1 << 20,
		Log:       log,
	}
	r := gin.New()
	srv.RegisterRoutes(r)
	return &testServer{router: r, srv: srv, queue: q}
}

func (ts *testServer) do(t *testing.T, user, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if user != "" {
		token, err := auth.IssueToken([]byte(secret), user, time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) postJSON(t *testing.T, user, content string) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(CreateItemRequest{Content: content})
	return ts.do(t, user, http.MethodPost, "/api/items", bytes.NewReader(payload), "application/json")
}

func TestCreateAndListItems(t *testing.T) {
	ts := newTestServer(t)

	w := ts.postJSON(t, "alice", "remember to water the plants")
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", w.Code, w.Body.String())
	}
	var created ingest.Result
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}

	w = ts.postJSON(t, "alice", "remember to water the plants")
	if w.Code != http.StatusOK {
		t.Fatalf("duplicate = %d", w.Code)
	}
	var dup ingest.Result
	_ = json.Unmarshal(w.Body.Bytes(), &dup)
	if !dup.Existed || dup.ItemID != created.ItemID {
		t.Errorf("duplicate = %+v", dup)
	}
	if len(ts.queue.ids) != 1 {
		t.Errorf("dispatched = %v", ts.queue.ids)
	}

	w = ts.do(t, "alice", http.MethodGet, "/api/items", nil, "")
	var items []store.ItemView
	if err := json.Unmarshal(w.Body.Bytes(), &items); err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Title != "remember to water the plants" {
		t.Errorf("items = %+v", items)
	}

	w = ts.do(t, "bob", http.MethodGet, "/api/items/"+created.ItemID, nil, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("other user get = %d", w.Code)
	}
	w = ts.do(t, "alice", http.MethodGet, "/api/items/"+created.ItemID, nil, "")
	if w.Code != http.StatusOK {
		t.Errorf("get = %d", w.Code)
	}
}

func TestCreateItemValidationAndAuth(t *testing.T) {
	ts := newTestServer(t)
	if w := ts.postJSON(t, "", "x"); w.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d", w.Code)
	}
	if w := ts.postJSON(t, "alice", "   "); w.Code != http.StatusBadRequest {
		t.Errorf("blank = %d", w.Code)
	}
	if w := ts.do(t, "alice", http.MethodPost, "/api/items", bytes.NewBufferString("{"), "application/json"); w.Code != http.StatusBadRequest {
		t.Errorf("bad json = %d", w.Code)
	}
}

func TestUploadFile(t *testing.T) {
	ts := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("file", "notes.pdf")
	_, _ = part.Write([]byte("%PDF-1.4 test"))
	_ = mw.Close()

	w := ts.do(t, "alice", http.MethodPost, "/api/items", &buf, mw.FormDataContentType())
	if w.Code != http.StatusCreated {
		t.Fatalf("upload = %d %s", w.Code, w.Body.String())
	}
	var res ingest.Result
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if res.Type != models.TypeDocument {
		t.Errorf("type = %s", res.Type)
	}
	item, err := ts.srv.Store.Get(context.Background(), res.ItemID)
	if err != nil {
		t.Fatal(err)
	}
	if item.Title != "notes.pdf" {
		t.Errorf("title = %q", item.Title)
	}
}

func TestDeleteAndReenrich(t *testing.T) {
	ts := newTestServer(t)
	w := ts.postJSON(t, "alice", "a note")
	var created ingest.Result
	_ = json.Unmarshal(w.Body.Bytes(), &created)

	if w := ts.do(t, "alice", http.MethodPost, "/api/items/"+created.ItemID+"/enrich", nil, ""); w.Code != http.StatusAccepted {
		t.Errorf("enrich = %d", w.Code)
	}
	if len(ts.queue.ids) != 2 {
		t.Errorf("dispatched = %v", ts.queue.ids)
	}
	if w := ts.do(t, "bob", http.MethodDelete, "/api/items/"+created.ItemID, nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("other user delete = %d", w.Code)
	}
	if w := ts.do(t, "alice", http.MethodDelete, "/api/items/"+created.ItemID, nil, ""); w.Code != http.StatusOK {
		t.Errorf("delete = %d", w.Code)
	}
	if w := ts.do(t, "alice", http.MethodGet, "/api/items/"+created.ItemID, nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d", w.Code)
	}
}

func TestUpdateServices(t *testing.T) {
	ts := newTestServer(t)
	payload := `{"renderBaseUrl":"http://render.local/fetch","renderApiKey":"k"}`
	w := ts.do(t, "alice", http.MethodPut, "/api/settings/services", bytes.NewBufferString(payload), "application/json")
	if w.Code != http.StatusOK {
		t.Fatalf("update = %d %s", w.Code, w.Body.String())
	}
	if !ts.srv.Render.Enabled() || ts.srv.Render.BaseURL() != "http://render.local/fetch" {
		t.Errorf("render client not reconfigured: %q", ts.srv.Render.BaseURL())
	}
	if ts.srv.Assets.Enabled() {
		t.Error("assets client should stay disabled")
	}
}

func TestUpdateServicesAdminOnly(t *testing.T) {
	ts := newTestServer(t)
	ts.srv.Render.Configure("https://render.internal", "operator-secret")

	payload := `{"renderBaseUrl":"https://attacker.example.com"}`
	w := ts.do(t, "bob", http.MethodPut, "/api/settings/services", bytes.NewBufferString(payload), "application/json")
	if w.Code != http.StatusForbidden {
		t.Fatalf("non-admin update = %d", w.Code)
	}
	if got := ts.srv.Render.BaseURL(); got != "https://render.internal" {
		t.Errorf("render base url changed to %q", got)
	}
	if w := ts.do(t, "bob", http.MethodGet, "/api/settings/services", nil, ""); w.Code != http.StatusForbidden {
		t.Errorf("non-admin read = %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	if w := ts.do(t, "", http.MethodGet, "/healthz", nil, ""); w.Code != http.StatusOK {
		t.Errorf("health = %d", w.Code)
	}
}
