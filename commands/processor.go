// Package commands executes task operations delivered on the command queue.
package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"taskmanager/coordinator"
	"taskmanager/domain"
)

// Operations accepted on the command queue.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
	OpGet    = "get"
)

// Coordinator is the subset of the task coordinator commands dispatch to.
type Coordinator interface {
	Create(ctx context.Context, in coordinator.CreateInput) (domain.TaskView, error)
	Update(ctx context.Context, in coordinator.UpdateInput) (coordinator.UpdateResult, error)
	Delete(ctx context.Context, taskID, actorID string) ([]domain.Membership, error)
	Get(ctx context.Context, taskID string) (domain.TaskView, error)
	List(ctx context.Context, userID string, filter domain.TaskFilter) ([]domain.TaskView, error)
}

// Deduper suppresses redelivered create commands.
type Deduper interface {
	Add(ctx context.Context, key string) (bool, error)
	Remove(ctx context.Context, key string) error
}

// Doer posts callback payloads.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Command is one decoded queue message.
type Command struct {
	Operation   string           `json:"operation"`
	TaskID      string           `json:"taskId"`
	UserID      string           `json:"userId"`
	Assignees   *[]string        `json:"assignees"`
	Status      string           `json:"status"`
	Title       string           `json:"title"`
	CallbackURL string           `json:"callbackUrl"`
	Patch       domain.TaskPatch `json:"-"`
}

type envelope struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

// Outcome is posted to a command's callback URL.
type Outcome struct {
	MessageID string `json:"messageId"`
	Operation string `json:"operation"`
	TaskID    string `json:"taskId,omitempty"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Result    any    `json:"result,omitempty"`
}

// ProcessorConfig wires a Processor.
type ProcessorConfig struct {
	Coordinator     Coordinator
	Deduper         Deduper
	HTTPClient      Doer
	Logger          *log.Logger
	Outcomes        *prometheus.CounterVec
	CallbackTimeout time.Duration
}

// Processor turns command messages into coordinator calls.
type Processor struct {
	coord    Coordinator
	dedupe   Deduper
	client   Doer
	logger   *log.Logger
	outcomes *prometheus.CounterVec
	timeout  time.Duration
}

// NewOutcomeCounter creates the per-operation command counter and registers
// it when reg is non-nil.
func NewOutcomeCounter(reg prometheus.Registerer) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskmanager_commands_total",
		Help: "Queue commands by operation and outcome.",
	}, []string{"operation", "outcome"})
	if reg != nil {
		reg.MustRegister(c)
	}
	return c
}

// NewProcessor validates cfg and returns a Processor.
func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	if cfg.Coordinator == nil {
		return nil, errors.New("commands: coordinator is required")
	}
	if cfg.Deduper == nil {
		return nil, errors.New("commands: deduper is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.StandardLogger()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}
	if cfg.Outcomes == nil {
		cfg.Outcomes = NewOutcomeCounter(nil)
	}
	if cfg.CallbackTimeout <= 0 {
		cfg.CallbackTimeout = 5 * time.Second
	}
	return &Processor{
		coord:    cfg.Coordinator,
		dedupe:   cfg.Deduper,
		client:   cfg.HTTPClient,
		logger:   cfg.Logger,
		outcomes: cfg.Outcomes,
		timeout:  cfg.CallbackTimeout,
	}, nil
}

// Decode parses a message body, unwrapping notification envelopes.
func Decode(body []byte) (Command, error) {
	var env envelope
	if err := sonic.Unmarshal(body, &env); err == nil && env.Type == "Notification" {
		body = []byte(env.Message)
	}
	var raw map[string]json.RawMessage
	if err := sonic.Unmarshal(body, &raw); err != nil {
		return Command{}, domain.NewValidationError("", "invalid message body")
	}
	var cmd Command
	if err := sonic.Unmarshal(body, &cmd); err != nil {
		return Command{}, domain.NewValidationError("", "invalid message body")
	}
	patch, err := domain.PatchFromRaw(raw)
	if err != nil {
		return Command{}, err
	}
	cmd.Patch = patch
	cmd.Operation = strings.ToLower(strings.TrimSpace(cmd.Operation))
	cmd.TaskID = strings.TrimSpace(cmd.TaskID)
	cmd.UserID = strings.TrimSpace(cmd.UserID)
	return cmd, nil
}

func (c Command) validate() error {
	switch c.Operation {
	case "":
		return domain.NewValidationError("operation", "operation is required")
	case OpCreate, OpUpdate, OpDelete, OpGet:
	default:
		return domain.NewValidationError("operation", fmt.Sprintf("unsupported operation %q", c.Operation))
	}
	if c.UserID == "" {
		return domain.NewValidationError("userId", "userId is required")
	}
	if (c.Operation == OpUpdate || c.Operation == OpDelete) && c.TaskID == "" {
		return domain.NewValidationError("taskId", "taskId is required")
	}
	return nil
}

// ProcessBatch runs every message independently and partitions the outcomes.
func (p *Processor) ProcessBatch(ctx context.Context, msgs []domain.QueueMessage) domain.BatchResult {
	res := domain.NewBatchResult(len(msgs))
	for _, msg := range msgs {
		entry := p.logger.WithField("message_id", msg.ID)
		cmd, err := Decode([]byte(msg.Body))
		if err == nil {
			err = cmd.validate()
		}
		if err != nil {
			entry.WithError(err).Warn("rejecting command")
			p.outcomes.WithLabelValues("invalid", "failed").Inc()
			res.Failed = append(res.Failed, domain.BatchFailure{MessageID: msg.ID, Error: err.Error()})
			p.callback(ctx, cmd.CallbackURL, Outcome{MessageID: msg.ID, Operation: cmd.Operation, Error: err.Error(), Kind: domain.ErrorKind(err)})
			continue
		}

		entry = entry.WithFields(log.Fields{"operation": cmd.Operation, "user": cmd.UserID, "task": cmd.TaskID})
		success, err := p.execute(ctx, msg.ID, cmd)
		outcome := Outcome{MessageID: msg.ID, Operation: cmd.Operation, TaskID: success.TaskID}
		if err != nil {
			entry.WithError(err).WithField("kind", domain.ErrorKind(err)).Error("command failed")
			p.outcomes.WithLabelValues(cmd.Operation, "failed").Inc()
			res.Failed = append(res.Failed, domain.BatchFailure{MessageID: msg.ID, Error: err.Error()})
			outcome.TaskID = cmd.TaskID
			outcome.Error = err.Error()
			outcome.Kind = domain.ErrorKind(err)
		} else {
			label := "succeeded"
			if success.Duplicate {
				label = "duplicate"
			}
			entry.Debug("command processed")
			p.outcomes.WithLabelValues(cmd.Operation, label).Inc()
			res.Successful = append(res.Successful, success)
			outcome.Success = true
			outcome.Result = success.Result
		}
		p.callback(ctx, cmd.CallbackURL, outcome)
	}
	return res
}

func (p *Processor) execute(ctx context.Context, messageID string, cmd Command) (domain.BatchSuccess, error) {
	out := domain.BatchSuccess{MessageID: messageID, Operation: cmd.Operation, TaskID: cmd.TaskID, UserID: cmd.UserID}
	switch cmd.Operation {
	case OpCreate:
		added, err := p.dedupe.Add(ctx, messageID)
		if err != nil {
			return out, domain.NewDownstreamError("redis", "dedupe", err)
		}
		if !added {
			out.Duplicate = true
			return out, nil
		}
		var assignees []string
		if cmd.Assignees != nil {
			assignees = *cmd.Assignees
		}
		view, err := p.coord.Create(ctx, coordinator.NewCreateInput(cmd.Patch, cmd.UserID, assignees))
		if err != nil {
			if rerr := p.dedupe.Remove(context.WithoutCancel(ctx), messageID); rerr != nil {
				p.logger.WithError(rerr).WithField("message_id", messageID).Warn("failed to release dedupe key")
			}
			return out, err
		}
		out.TaskID = view.Task.TaskID
		out.Result = view
	case OpUpdate:
		in := coordinator.UpdateInput{TaskID: cmd.TaskID, ActorID: cmd.UserID, Patch: cmd.Patch}
		if cmd.Assignees != nil {
			in.Assignees = *cmd.Assignees
			in.ReplaceAssignees = true
		}
		upd, err := p.coord.Update(ctx, in)
		if err != nil {
			return out, err
		}
		out.UpdatedFields = upd.UpdatedFields
		out.Result = upd.View
	case OpDelete:
		if _, err := p.coord.Delete(ctx, cmd.TaskID, cmd.UserID); err != nil {
			return out, err
		}
	case OpGet:
		if cmd.TaskID != "" {
			view, err := p.coord.Get(ctx, cmd.TaskID)
			if err != nil {
				return out, err
			}
			out.Result = view
			break
		}
		views, err := p.coord.List(ctx, cmd.UserID, domain.TaskFilter{Status: domain.Status(cmd.Status), Title: cmd.Title})
		if err != nil {
			return out, err
		}
		out.Result = views
	}
	return out, nil
}

// callback posts the outcome to url. Failures are logged and otherwise
// ignored.
func (p *Processor) callback(ctx context.Context, url string, outcome Outcome) {
	if url == "" {
		return
	}
	entry := p.logger.WithFields(log.Fields{"message_id": outcome.MessageID, "callback": url})
	body, err := sonic.Marshal(outcome)
	if err != nil {
		entry.WithError(err).Warn("failed to encode callback")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		entry.WithError(err).Warn("invalid callback url")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		entry.WithError(err).Warn("callback failed")
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		entry.WithField("status", resp.StatusCode).Warn("callback rejected")
	}
}
