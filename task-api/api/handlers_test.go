package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"taskmanager/coordinator"
	"taskmanager/domain"
)

type mockTasks struct {
	mu      sync.Mutex
	creates []coordinator.CreateInput
	updates []coordinator.UpdateInput
	lists   []domain.TaskFilter
	deletes []string
	attach  []string
	err     error
}

func (m *mockTasks) Create(ctx context.Context, in coordinator.CreateInput) (domain.TaskView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates = append(m.creates, in)
	if m.err != nil {
		return domain.TaskView{}, m.err
	}
	return domain.TaskView{
		Task:        domain.Task{TaskID: "t1", Title: in.Title, UserID: in.UserID, Status: domain.StatusPending},
		Memberships: []domain.Membership{{TaskID: "t1", UserID: in.UserID, Role: domain.RoleCreator, Status: domain.MembershipActive}},
	}, nil
}

func (m *mockTasks) Update(ctx context.Context, in coordinator.UpdateInput) (coordinator.UpdateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, in)
	if m.err != nil {
		return coordinator.UpdateResult{}, m.err
	}
	return coordinator.UpdateResult{View: domain.TaskView{Task: domain.Task{TaskID: in.TaskID}}, UpdatedFields: in.Patch.Fields()}, nil
}

func (m *mockTasks) Get(ctx context.Context, taskID string) (domain.TaskView, error) {
	if m.err != nil {
		return domain.TaskView{}, m.err
	}
	return domain.TaskView{Task: domain.Task{TaskID: taskID}}, nil
}

func (m *mockTasks) List(ctx context.Context, userID string, filter domain.TaskFilter) ([]domain.TaskView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists = append(m.lists, filter)
	return []domain.TaskView{{Task: domain.Task{TaskID: "a", UserID: userID}}}, m.err
}

func (m *mockTasks) Delete(ctx context.Context, taskID, actorID string) ([]domain.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes = append(m.deletes, taskID)
	return nil, m.err
}

func (m *mockTasks) AttachFile(ctx context.Context, taskID, userID, filename string) (coordinator.AttachResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attach = append(m.attach, filename)
	if m.err != nil {
		return coordinator.AttachResult{}, m.err
	}
	return coordinator.AttachResult{
		Grant:  domain.UploadGrant{UploadURL: "https://uploads/x", FileKey: "tasks/" + taskID + "/a-" + filename, AttachmentID: "a"},
		Update: coordinator.UpdateResult{View: domain.TaskView{Task: domain.Task{TaskID: taskID, FileKey: "tasks/" + taskID + "/a-" + filename}}},
	}, nil
}

type mockAuth struct{}

func (mockAuth) Verify(header string) (Principal, error) {
	if header != "Bearer good.token.sig" {
		return Principal{}, &domain.AuthError{Reason: "invalid token"}
	}
	return Principal{Subject: "user", Email: "user@example.com"}, nil
}

type mockContacts struct {
	mu    sync.Mutex
	calls []string
}

func (m *mockContacts) UpsertContact(ctx context.Context, userID, email, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, userID+"="+email)
	return nil
}

type memKeys struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (k *memKeys) Add(ctx context.Context, key string) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.keys == nil {
		k.keys = map[string]bool{}
	}
	if k.keys[key] {
		return false, nil
	}
	k.keys[key] = true
	return true, nil
}

func (k *memKeys) Remove(ctx context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.keys, key)
	return nil
}

type mockBatch struct {
	got []domain.QueueMessage
}

func (m *mockBatch) ProcessBatch(ctx context.Context, msgs []domain.QueueMessage) domain.BatchResult {
	m.got = append(m.got, msgs...)
	res := domain.NewBatchResult(len(msgs))
	for _, msg := range msgs {
		res.Successful = append(res.Successful, domain.BatchSuccess{MessageID: msg.ID})
	}
	return res
}

type testServer struct {
	e        *echo.Echo
	tasks    *mockTasks
	contacts *mockContacts
	batch    *mockBatch
	hook     *test.Hook
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)
	s := &testServer{e: echo.New(), tasks: &mockTasks{}, contacts: &mockContacts{}, batch: &mockBatch{}, hook: hook}
	Register(s.e, Deps{
		Tasks:        s.tasks,
		Auth:         mockAuth{},
		Contacts:     s.contacts,
		SeenContacts: &memKeys{},
		Commands:     s.batch,
		TriggerToken: "trigger-token-123456",
		Logger:       logger,
	})
	return s
}

func (s *testServer) do(method, target, body, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if auth != "" {
		req.Header.Set(echo.HeaderAuthorization, auth)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

const goodAuth = "Bearer good.token.sig"

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid error json %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestCreateTask(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/api/tasks", `{"title":"Plan","description":"x","dueDate":"2024-05-01","assignees":["u2"]}`, goodAuth)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201 got %d: %s", rec.Code, rec.Body.String())
	}
	if len(s.tasks.creates) != 1 {
		t.Fatalf("expected one create, got %d", len(s.tasks.creates))
	}
	in := s.tasks.creates[0]
	if in.UserID != "user" || in.Title != "Plan" || in.DueDate == nil || len(in.Assignees) != 1 {
		t.Fatalf("unexpected create input: %+v", in)
	}
	var view domain.TaskView
	if err := sonic.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if view.Task.TaskID != "t1" || len(view.Memberships) != 1 {
		t.Fatalf("unexpected view: %+v", view)
	}
	if len(s.contacts.calls) != 1 || s.contacts.calls[0] != "user=user@example.com" {
		t.Fatalf("expected contact to be recorded once, got %v", s.contacts.calls)
	}
}

func TestCreateTaskExplicitUser(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/api/tasks", `{"title":"Plan","userId":"owner-7"}`, goodAuth)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201 got %d", rec.Code)
	}
	if s.tasks.creates[0].UserID != "owner-7" {
		t.Fatalf("expected body userId to win, got %q", s.tasks.creates[0].UserID)
	}
}

func TestCreateTaskInvalidBody(t *testing.T) {
	s := newTestServer(t)
	for name, body := range map[string]string{
		"not_json":    `{"title":`,
		"bad_status":  `{"title":"x","status":7}`,
		"bad_due":     `{"title":"x","dueDate":"tomorrow"}`,
		"json_array":  `[1,2]`,
		"bad_members": `{"title":"x","assignees":"u2"}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/tasks", body, goodAuth)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400 got %d", rec.Code)
			}
			if resp := decodeError(t, rec); resp.Error != "validation_error" {
				t.Fatalf("unexpected error kind %q", resp.Error)
			}
		})
	}
	if len(s.tasks.creates) != 0 {
		t.Fatalf("expected no coordinator calls")
	}
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/api/tasks", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Error != "unauthorized" {
		t.Fatalf("unexpected error kind %q", resp.Error)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{domain.NewValidationError("title", "title is required"), http.StatusBadRequest, "validation_error"},
		{&domain.NotFoundError{Entity: "task", ID: "t1"}, http.StatusNotFound, "not_found"},
		{&domain.ConflictError{Entity: "task", Key: "t1"}, http.StatusBadRequest, "conflict"},
		{&domain.ConditionalWriteError{Entity: "task", ID: "t1", Reason: "task does not exist"}, http.StatusConflict, "conditional_write_failed"},
		{&domain.DownstreamError{Store: "dts", Op: "get", Err: errors.New("secret host detail")}, http.StatusInternalServerError, "downstream_error"},
		{&domain.PartialFailureError{Op: "create", TaskID: "t1", Err: errors.New("secret host detail"), CompensationErr: errors.New("secret host detail")}, http.StatusInternalServerError, "partial_failure"},
	}
	for _, tc := range cases {
		t.Run(tc.kind, func(t *testing.T) {
			s := newTestServer(t)
			s.tasks.err = tc.err
			rec := s.do(http.MethodGet, "/api/tasks/t1", "", goodAuth)
			if rec.Code != tc.status {
				t.Fatalf("expected %d got %d", tc.status, rec.Code)
			}
			resp := decodeError(t, rec)
			if resp.Error != tc.kind || resp.Message == "" {
				t.Fatalf("unexpected error body %+v", resp)
			}
			if strings.Contains(resp.Message, "secret host detail") {
				t.Fatalf("store detail leaked: %q", resp.Message)
			}
		})
	}
}

func TestListTasksPassesFilters(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/api/tasks?status=completed&title=plan", "", goodAuth)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if len(s.tasks.lists) != 1 || s.tasks.lists[0] != (domain.TaskFilter{Status: domain.StatusCompleted, Title: "plan"}) {
		t.Fatalf("unexpected filters %+v", s.tasks.lists)
	}
	var resp listTasksResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(resp.Tasks) != 1 || resp.Tasks[0].Task.UserID != "user" {
		t.Fatalf("unexpected tasks %+v", resp.Tasks)
	}
}

func TestUpdateTask(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPut, "/api/tasks/t9", `{"status":"completed","description":null,"assignees":["u3"]}`, goodAuth)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	in := s.tasks.updates[0]
	if in.TaskID != "t9" || in.ActorID != "user" || !in.ReplaceAssignees || in.Assignees[0] != "u3" {
		t.Fatalf("unexpected update input %+v", in)
	}
	if !in.Patch.Description.Null {
		t.Fatalf("expected explicit null description")
	}
	var resp updateTaskResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.UpdatedTask.TaskID != "t9" || len(resp.UpdatedFields) != 2 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestUpdateWithoutAssigneesKeepsMembership(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPut, "/api/tasks/t9", `{"title":"New"}`, goodAuth)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if s.tasks.updates[0].ReplaceAssignees {
		t.Fatalf("assignees must not be replaced when absent")
	}
}

func TestDeleteTask(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodDelete, "/api/tasks/t4", "", goodAuth)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var resp deleteTaskResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.TaskID != "t4" || len(s.tasks.deletes) != 1 {
		t.Fatalf("unexpected delete response %+v", resp)
	}
}

func TestAttachFile(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/api/tasks/t4/attachments", `{"filename":"report.pdf"}`, goodAuth)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp["fileKey"] != "tasks/t4/a-report.pdf" || resp["uploadUrl"] != "https://uploads/x" {
		t.Fatalf("unexpected grant %v", resp)
	}
	task, ok := resp["task"].(map[string]any)
	if !ok || task["fileKey"] != "tasks/t4/a-report.pdf" {
		t.Fatalf("unexpected task %v", resp["task"])
	}
}

func TestQueueCommandsRequiresTriggerToken(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/api/queue/commands", `{"Records":[]}`, goodAuth)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
}

func TestQueueCommands(t *testing.T) {
	s := newTestServer(t)
	body := `{"Records":[{"messageId":"m1","body":"{\"operation\":\"get\"}"},{"messageId":"m2","body":"x"}]}`
	rec := s.do(http.MethodPost, "/api/queue/commands", body, "Bearer trigger-token-123456")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	var resp queueTriggerResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(resp.Results.Successful) != 2 || len(s.batch.got) != 2 || s.batch.got[0].Body != `{"operation":"get"}` {
		t.Fatalf("unexpected batch %+v / %+v", resp, s.batch.got)
	}
}

func TestUnknownRouteUsesErrorShape(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/nope", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Error != "not_found" {
		t.Fatalf("unexpected error kind %q", resp.Error)
	}
}

func TestGzipRequestBody(t *testing.T) {
	s := newTestServer(t)
	var buf bytes.Buffer
	zw := newGzipWriter(&buf)
	_, _ = zw.Write([]byte(`{"title":"Zipped"}`))
	_ = zw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/tasks", &buf)
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	req.Header.Set(echo.HeaderAuthorization, goodAuth)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	if s.tasks.creates[0].Title != "Zipped" {
		t.Fatalf("unexpected title %q", s.tasks.creates[0].Title)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader("not gzip"))
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	req.Header.Set(echo.HeaderAuthorization, goodAuth)
	rec = httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid gzip, got %d", rec.Code)
	}
}
