// Package api is the HTTP adapter of the task service.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskmanager/coordinator"
	"taskmanager/domain"
)

const maxBodySize = 64 * 1024

// TaskService is the coordinator as seen by the HTTP handlers.
type TaskService interface {
	Create(ctx context.Context, in coordinator.CreateInput) (domain.TaskView, error)
	Update(ctx context.Context, in coordinator.UpdateInput) (coordinator.UpdateResult, error)
	Get(ctx context.Context, taskID string) (domain.TaskView, error)
	List(ctx context.Context, userID string, filter domain.TaskFilter) ([]domain.TaskView, error)
	Delete(ctx context.Context, taskID, actorID string) ([]domain.Membership, error)
	AttachFile(ctx context.Context, taskID, userID, filename string) (coordinator.AttachResult, error)
}

// Authenticator turns an Authorization header into a Principal.
type Authenticator interface {
	Verify(header string) (Principal, error)
}

// ContactStore records the email address of authenticated users.
type ContactStore interface {
	UpsertContact(ctx context.Context, userID, email, name string) error
}

// KeySet remembers keys for a while.
type KeySet interface {
	Add(ctx context.Context, key string) (bool, error)
	Remove(ctx context.Context, key string) error
}

// BatchProcessor handles queue-triggered command batches.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, msgs []domain.QueueMessage) domain.BatchResult
}

// Deps are the collaborators of the HTTP handlers. Contacts, SeenContacts,
// Commands and Redis are optional; the routes depending on them are not
// registered when they are nil.
type Deps struct {
	Tasks        TaskService
	Auth         Authenticator
	Contacts     ContactStore
	SeenContacts KeySet
	Commands     BatchProcessor
	TriggerToken string
	Redis        *redis.Client
	Logger       *log.Logger
	Heartbeat    time.Duration
}

type handlers struct {
	tasks        TaskService
	auth         Authenticator
	contacts     ContactStore
	seen         KeySet
	commands     BatchProcessor
	triggerToken string
	redis        *redis.Client
	logger       *log.Logger
	heartbeat    time.Duration
}

// Register wires the API routes and the shared middleware onto e.
func Register(e *echo.Echo, d Deps) {
	if d.Logger == nil {
		d.Logger = log.StandardLogger()
	}
	if d.Heartbeat <= 0 {
		d.Heartbeat = 25 * time.Second
	}
	h := &handlers{
		tasks:        d.Tasks,
		auth:         d.Auth,
		contacts:     d.Contacts,
		seen:         d.SeenContacts,
		commands:     d.Commands,
		triggerToken: d.TriggerToken,
		redis:        d.Redis,
		logger:       d.Logger,
		heartbeat:    d.Heartbeat,
	}
	e.JSONSerializer = sonicSerializer{}
	e.HTTPErrorHandler = errorHandler(d.Logger)

	g := e.Group("/api", instrument(d.Logger), GzipRequestMiddleware(), middleware.BodyLimit("256K"))
	tasks := g.Group("/tasks", h.requireAuth)
	tasks.POST("", h.createTask)
	tasks.GET("", h.listTasks)
	tasks.GET("/:id", h.getTask)
	tasks.PUT("/:id", h.updateTask)
	tasks.DELETE("/:id", h.deleteTask)
	tasks.POST("/:id/attachments", h.attachFile)

	if h.commands != nil {
		g.POST("/queue/commands", h.queueCommands)
	}
	if h.redis != nil {
		g.GET("/notifications/stream", h.streamNotifications, h.requireAuth)
	}
}

type createTaskRequest struct {
	UserID    string   `json:"userId"`
	Assignees []string `json:"assignees"`
}

type updateTaskRequest struct {
	Assignees *[]string `json:"assignees"`
}

type listTasksResponse struct {
	Tasks []domain.TaskView `json:"tasks"`
}

type updateTaskResponse struct {
	UpdatedTask   domain.Task         `json:"updatedTask"`
	Memberships   []domain.Membership `json:"membership"`
	UpdatedFields []string            `json:"updatedFields"`
}

type deleteTaskResponse struct {
	Message string `json:"message"`
	TaskID  string `json:"taskId"`
}

type attachRequest struct {
	Filename string `json:"filename"`
}

type attachResponse struct {
	domain.UploadGrant
	Task domain.Task `json:"task"`
}

// readBody returns the raw request body and its top-level members.
func readBody(c echo.Context) ([]byte, map[string]json.RawMessage, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodySize+1))
	if err != nil {
		return nil, nil, domain.NewValidationError("", "unreadable body")
	}
	if len(body) > maxBodySize {
		return nil, nil, domain.NewValidationError("", "body too large")
	}
	var raw map[string]json.RawMessage
	if err := sonic.Unmarshal(body, &raw); err != nil || raw == nil {
		return nil, nil, domain.NewValidationError("", "invalid body")
	}
	return body, raw, nil
}

func (h *handlers) createTask(c echo.Context) error {
	m := metricsFrom(c)
	body, raw, err := readBody(c)
	if err != nil {
		return fail(c, "decode", err)
	}
	patch, err := domain.PatchFromRaw(raw)
	if err != nil {
		return fail(c, "decode", err)
	}
	var req createTaskRequest
	if err := sonic.Unmarshal(body, &req); err != nil {
		return fail(c, "decode", domain.NewValidationError("", "invalid body"))
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = principalFrom(c).Subject
	}

	var view domain.TaskView
	err = m.Time("store", func() error {
		var err error
		view, err = h.tasks.Create(c.Request().Context(), coordinator.NewCreateInput(patch, userID, req.Assignees))
		return err
	})
	if err != nil {
		return fail(c, "store", err)
	}
	m.Set("task_id", view.Task.TaskID)
	return c.JSON(http.StatusCreated, view)
}

func (h *handlers) listTasks(c echo.Context) error {
	m := metricsFrom(c)
	filter := domain.TaskFilter{
		Status: domain.Status(strings.TrimSpace(c.QueryParam("status"))),
		Title:  c.QueryParam("title"),
	}
	m.Set("status_filter", string(filter.Status))
	m.Set("title_filter", filter.Title != "")

	var views []domain.TaskView
	err := m.Time("store", func() error {
		var err error
		views, err = h.tasks.List(c.Request().Context(), principalFrom(c).Subject, filter)
		return err
	})
	if err != nil {
		return fail(c, "store", err)
	}
	m.Set("tasks_returned", len(views))
	return c.JSON(http.StatusOK, listTasksResponse{Tasks: views})
}

func (h *handlers) getTask(c echo.Context) error {
	var view domain.TaskView
	err := metricsFrom(c).Time("store", func() error {
		var err error
		view, err = h.tasks.Get(c.Request().Context(), c.Param("id"))
		return err
	})
	if err != nil {
		return fail(c, "store", err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *handlers) updateTask(c echo.Context) error {
	m := metricsFrom(c)
	body, raw, err := readBody(c)
	if err != nil {
		return fail(c, "decode", err)
	}
	patch, err := domain.PatchFromRaw(raw)
	if err != nil {
		return fail(c, "decode", err)
	}
	var req updateTaskRequest
	if err := sonic.Unmarshal(body, &req); err != nil {
		return fail(c, "decode", domain.NewValidationError("assignees", "invalid value"))
	}
	in := coordinator.UpdateInput{TaskID: c.Param("id"), ActorID: principalFrom(c).Subject, Patch: patch}
	if req.Assignees != nil {
		in.Assignees = *req.Assignees
		in.ReplaceAssignees = true
	}

	var res coordinator.UpdateResult
	err = m.Time("store", func() error {
		var err error
		res, err = h.tasks.Update(c.Request().Context(), in)
		return err
	})
	if err != nil {
		return fail(c, "store", err)
	}
	m.Set("updated_fields", res.UpdatedFields)
	return c.JSON(http.StatusOK, updateTaskResponse{
		UpdatedTask:   res.View.Task,
		Memberships:   res.View.Memberships,
		UpdatedFields: res.UpdatedFields,
	})
}

func (h *handlers) deleteTask(c echo.Context) error {
	taskID := c.Param("id")
	err := metricsFrom(c).Time("store", func() error {
		_, err := h.tasks.Delete(c.Request().Context(), taskID, principalFrom(c).Subject)
		return err
	})
	if err != nil {
		return fail(c, "store", err)
	}
	return c.JSON(http.StatusOK, deleteTaskResponse{Message: "Task deleted successfully", TaskID: taskID})
}

func (h *handlers) attachFile(c echo.Context) error {
	var req attachRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, "decode", domain.NewValidationError("", "invalid body"))
	}
	var res coordinator.AttachResult
	err := metricsFrom(c).Time("store", func() error {
		var err error
		res, err = h.tasks.AttachFile(c.Request().Context(), c.Param("id"), principalFrom(c).Subject, req.Filename)
		return err
	})
	if err != nil {
		return fail(c, "store", err)
	}
	return c.JSON(http.StatusCreated, attachResponse{UploadGrant: res.Grant, Task: res.Update.View.Task})
}
