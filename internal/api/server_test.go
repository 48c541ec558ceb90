package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/foxzi/gratulo/internal/db"
	"github.com/foxzi/gratulo/internal/mailer"
	"github.com/foxzi/gratulo/internal/models"
	"github.com/foxzi/gratulo/internal/queue"
	"github.com/foxzi/gratulo/internal/ratelimit"
	"github.com/foxzi/gratulo/internal/repository"
	"github.com/foxzi/gratulo/internal/scheduler"
	"github.com/foxzi/gratulo/internal/template"
)

type testStack struct {
	server *Server
	queue  queue.Queue
	key    string
}

func setupServer(t *testing.T, allowedIPs []string) *testStack {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	q, err := queue.NewBolt(filepath.Join(t.TempDir(), "queue.db"), 50)
	if err != nil {
		t.Fatalf("failed to open queue: %v", err)
	}
	t.Cleanup(func() { q.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	limiter := ratelimit.NewMemory(10, time.Minute)
	drainer := queue.NewDrainer(q, nopSender{}, limiter, queue.DrainerConfig{
		Interval: time.Minute,
		Mails:    10,
		Window:   time.Minute,
	}, logger)

	members := repository.NewMemberRepository(database.DB)
	groups := repository.NewGroupRepository(database.DB)
	templates := repository.NewTemplateRepository(database.DB)
	jobs := repository.NewJobRepository(database.DB)
	settings := repository.NewSettingsRepository(database.DB)
	keys := repository.NewAPIKeyRepository(database.DB)

	svc := mailer.New(mailer.Repos{
		Members:   members,
		Groups:    groups,
		Templates: templates,
		Jobs:      jobs,
		Settings:  settings,
	}, q, nil, template.Config{}, logger)

	server, err := New(Deps{
		Members:    members,
		Groups:     groups,
		Templates:  templates,
		Jobs:       jobs,
		Keys:       keys,
		Mailer:     svc,
		Scheduler:  scheduler.New(svc, jobs, logger),
		Queue:      q,
		Drainer:    drainer,
		AllowedIPs: allowedIPs,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("failed to build api server: %v", err)
	}

	created, err := keys.Create("test")
	if err != nil {
		t.Fatalf("failed to create api key: %v", err)
	}

	return &testStack{server: server, queue: q, key: created.Key}
}

type nopSender struct{}

func (nopSender) Send(ctx context.Context, msg *queue.Message) error {
	return nil
}

func (ts *testStack) do(t *testing.T, method, path, body string, withKey bool) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if withKey {
		req.Header.Set("X-API-Key", ts.key)
	}

	w := httptest.NewRecorder()
	ts.server.ServeHTTP(w, req)
	return w
}

func TestRequireKey(t *testing.T) {
	ts := setupServer(t, nil)

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{name: "no key", want: http.StatusUnauthorized},
		{name: "wrong key", header: "X-API-Key", value: "wrong", want: http.StatusUnauthorized},
		{name: "valid x-api-key", header: "X-API-Key", want: http.StatusOK},
		{name: "valid bearer", header: "Authorization", want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/members", nil)
			switch tt.header {
			case "X-API-Key":
				value := tt.value
				if value == "" {
					value = ts.key
				}
				req.Header.Set("X-API-Key", value)
			case "Authorization":
				req.Header.Set("Authorization", "Bearer "+ts.key)
			}

			w := httptest.NewRecorder()
			ts.server.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d. Body: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestMailerStatusWithoutKey(t *testing.T) {
	ts := setupServer(t, nil)

	w := ts.do(t, "GET", "/api/v1/mailer/status", "", false)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var status queue.Status
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	if status.State != queue.StateIdle {
		t.Errorf("state = %q, want %q", status.State, queue.StateIdle)
	}
	if status.RateLimitMails != 10 {
		t.Errorf("rate_limit_mails = %d, want 10", status.RateLimitMails)
	}
}

func TestAllowlist(t *testing.T) {
	// httptest requests arrive from 192.0.2.1.
	blocked := setupServer(t, []string{"10.0.0.0/8"})
	w := blocked.do(t, "GET", "/api/v1/mailer/status", "", false)
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}

	allowed := setupServer(t, []string{"192.0.2.0/24"})
	w = allowed.do(t, "GET", "/api/v1/mailer/status", "", false)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestMemberLifecycle(t *testing.T) {
	ts := setupServer(t, nil)

	body := `{
		"first_name": "Erika",
		"last_name": "Musterfrau",
		"email": "erika@example.org",
		"gender": "w",
		"date1": "1985-06-12",
		"date2": "2010-01-01"
	}`
	w := ts.do(t, "POST", "/api/v1/members", body, true)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want %d. Body: %s", w.Code, http.StatusCreated, w.Body.String())
	}

	var created models.Member
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode member: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("expected member id to be set")
	}
	if created.GroupID == nil {
		t.Error("expected member to land in the default group")
	}

	w = ts.do(t, "GET", "/api/v1/members", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d, want %d", w.Code, http.StatusOK)
	}
	var list memberListResponse
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("failed to decode list: %v", err)
	}
	if list.Total != 1 || len(list.Members) != 1 {
		t.Errorf("list = %d members, total %d, want 1/1", len(list.Members), list.Total)
	}

	update := `{
		"first_name": "Erika",
		"last_name": "Beispiel",
		"email": "erika@example.org",
		"gender": "w",
		"date1": "1985-06-12"
	}`
	path := "/api/v1/members/" + itoa(created.ID)
	w = ts.do(t, "PUT", path, update, true)
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, want %d. Body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	w = ts.do(t, "GET", path, "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d, want %d", w.Code, http.StatusOK)
	}
	var got models.Member
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode member: %v", err)
	}
	if got.LastName != "Beispiel" {
		t.Errorf("last name = %q, want Beispiel", got.LastName)
	}
	if got.Date2 != nil {
		t.Error("expected date2 to be cleared by the update")
	}

	w = ts.do(t, "DELETE", path, "", true)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want %d", w.Code, http.StatusNoContent)
	}

	w = ts.do(t, "GET", path, "", true)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestMemberValidation(t *testing.T) {
	ts := setupServer(t, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{invalid}`, http.StatusBadRequest},
		{"missing first name", `{"last_name":"M","email":"a@b.de","gender":"m","date1":"1990-01-01"}`, http.StatusBadRequest},
		{"bad email", `{"first_name":"A","last_name":"M","email":"nope","gender":"m","date1":"1990-01-01"}`, http.StatusBadRequest},
		{"bad gender", `{"first_name":"A","last_name":"M","email":"a@b.de","gender":"x","date1":"1990-01-01"}`, http.StatusBadRequest},
		{"bad date", `{"first_name":"A","last_name":"M","email":"a@b.de","gender":"m","date1":"01.01.1990"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, "POST", "/api/v1/members", tt.body, true)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d. Body: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}

	valid := `{"first_name":"A","last_name":"M","email":"dup@example.org","gender":"m","date1":"1990-01-01"}`
	if w := ts.do(t, "POST", "/api/v1/members", valid, true); w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", w.Code, http.StatusCreated)
	}
	if w := ts.do(t, "POST", "/api/v1/members", valid, true); w.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestGroupLifecycle(t *testing.T) {
	ts := setupServer(t, nil)

	w := ts.do(t, "POST", "/api/v1/groups", `{"name":"Vorstand"}`, true)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want %d. Body: %s", w.Code, http.StatusCreated, w.Body.String())
	}
	var created models.Group
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode group: %v", err)
	}

	w = ts.do(t, "GET", "/api/v1/groups", "", true)
	var groups []models.Group
	if err := json.NewDecoder(w.Body).Decode(&groups); err != nil {
		t.Fatalf("failed to decode groups: %v", err)
	}
	// The migration seeds the default group.
	if len(groups) != 2 {
		t.Errorf("groups = %d, want 2", len(groups))
	}

	var defaultID int64
	for _, g := range groups {
		if g.IsDefault {
			defaultID = g.ID
		}
	}
	if defaultID == 0 {
		t.Fatal("expected a default group")
	}

	w = ts.do(t, "DELETE", "/api/v1/groups/"+itoa(defaultID), "", true)
	if w.Code != http.StatusConflict {
		t.Errorf("delete default status = %d, want %d", w.Code, http.StatusConflict)
	}

	w = ts.do(t, "DELETE", "/api/v1/groups/"+itoa(created.ID), "", true)
	if w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want %d", w.Code, http.StatusNoContent)
	}
}

func TestQueueEndpoints(t *testing.T) {
	ts := setupServer(t, nil)

	msg := &queue.Message{
		ID:        "msg-1",
		To:        "erika@example.org",
		Subject:   "Hallo",
		Body:      "<p>Hallo</p>",
		Status:    queue.StatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := ts.queue.Enqueue(context.Background(), msg); err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}

	w := ts.do(t, "GET", "/api/v1/queue", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("queue status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp queueListResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode queue: %v", err)
	}
	if resp.Stats.Pending != 1 {
		t.Errorf("pending = %d, want 1", resp.Stats.Pending)
	}
	if len(resp.Pending) != 1 || resp.Pending[0].ID != "msg-1" {
		t.Errorf("pending list = %+v, want msg-1", resp.Pending)
	}

	// Retrying a pending message is refused.
	w = ts.do(t, "POST", "/api/v1/queue/msg-1/retry", "", true)
	if w.Code != http.StatusConflict {
		t.Errorf("retry status = %d, want %d", w.Code, http.StatusConflict)
	}

	w = ts.do(t, "GET", "/api/v1/queue/log", "", true)
	if w.Code != http.StatusOK {
		t.Errorf("log status = %d, want %d", w.Code, http.StatusOK)
	}

	w = ts.do(t, "DELETE", "/api/v1/queue/msg-1", "", true)
	if w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want %d", w.Code, http.StatusNoContent)
	}
	w = ts.do(t, "DELETE", "/api/v1/queue/msg-1", "", true)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestJobRunNotFound(t *testing.T) {
	ts := setupServer(t, nil)

	w := ts.do(t, "POST", "/api/v1/jobs/999/run", "", true)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d. Body: %s", w.Code, http.StatusNotFound, w.Body.String())
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
