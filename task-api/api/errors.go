package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskmanager/domain"
)

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

var kindStatus = map[string]int{
	"validation_error":         http.StatusBadRequest,
	"not_found":                http.StatusNotFound,
	"unauthorized":             http.StatusUnauthorized,
	"conflict":                 http.StatusBadRequest,
	"conditional_write_failed": http.StatusConflict,
	"downstream_error":         http.StatusInternalServerError,
	"partial_failure":          http.StatusInternalServerError,
}

// statusFor maps an error to its HTTP status and machine-readable kind.
func statusFor(err error) (int, string) {
	kind := domain.ErrorKind(err)
	return kindStatus[kind], kind
}

// fail writes err as a JSON error body and records it on the request
// metrics under stage.
func fail(c echo.Context, stage string, err error) error {
	status, kind := statusFor(err)
	metricsFrom(c).Fail(stage, err)
	msg := err.Error()
	switch kind {
	case "downstream_error":
		msg = "a backing service failed, try again later"
	case "partial_failure":
		msg = "the operation failed and could not be fully rolled back"
	}
	return c.JSON(status, errorResponse{Message: msg, Error: kind})
}

func asHTTPError(err error, target **echo.HTTPError) bool {
	return errors.As(err, target)
}

// errorHandler renders errors that escape handlers, such as unknown routes
// or rejected request bodies, in the same shape as handler errors.
func errorHandler(logger *log.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		var he *echo.HTTPError
		if asHTTPError(err, &he) {
			msg, ok := he.Message.(string)
			if !ok {
				msg = http.StatusText(he.Code)
			}
			kind := "http_error"
			switch he.Code {
			case http.StatusNotFound:
				kind = "not_found"
			case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
				kind = "validation_error"
			case http.StatusUnauthorized:
				kind = "unauthorized"
			}
			if werr := c.JSON(he.Code, errorResponse{Message: msg, Error: kind}); werr != nil {
				logger.WithError(werr).Warn("failed to write error response")
			}
			return
		}
		logger.WithError(err).Error("unhandled request error")
		if werr := c.JSON(http.StatusInternalServerError, errorResponse{Message: "internal error", Error: "internal_error"}); werr != nil {
			logger.WithError(werr).Warn("failed to write error response")
		}
	}
}
