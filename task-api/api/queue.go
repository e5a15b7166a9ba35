package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"taskmanager/domain"
)

type queueRecord struct {
	MessageID    string `json:"messageId"`
	Body         string `json:"body"`
	DequeueCount int64  `json:"dequeueCount"`
}

type queueTriggerRequest struct {
	Records []queueRecord `json:"Records"`
}

type queueTriggerResponse struct {
	Message string             `json:"message"`
	Results domain.BatchResult `json:"results"`
}

// queueCommands runs a batch of command messages pushed by a queue trigger.
// The caller authenticates with the shared trigger token.
func (h *handlers) queueCommands(c echo.Context) error {
	m := metricsFrom(c)
	if !sharedTokenMatches(c.Request().Header.Get(echo.HeaderAuthorization), h.triggerToken) {
		return fail(c, "auth", &domain.AuthError{Reason: "invalid trigger token"})
	}
	var req queueTriggerRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, "decode", domain.NewValidationError("Records", "invalid body"))
	}
	msgs := make([]domain.QueueMessage, 0, len(req.Records))
	for _, r := range req.Records {
		if r.MessageID == "" {
			return fail(c, "decode", domain.NewValidationError("messageId", "messageId is required"))
		}
		msgs = append(msgs, domain.QueueMessage{ID: r.MessageID, Body: r.Body, DequeueCount: r.DequeueCount})
	}

	var res domain.BatchResult
	_ = m.Time("process", func() error {
		res = h.commands.ProcessBatch(c.Request().Context(), msgs)
		return nil
	})
	m.Set("records", len(msgs))
	m.Set("failed", len(res.Failed))
	return c.JSON(http.StatusOK, queueTriggerResponse{Message: "Processed command batch", Results: res})
}
