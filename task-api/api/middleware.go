package api

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

const principalContextKey = "principal"

// GzipRequestMiddleware decompresses gzip-encoded request bodies. Invalid
// gzip payloads are rejected with 400.
func GzipRequestMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !hasGzipEncoding(req.Header.Get(echo.HeaderContentEncoding)) {
				return next(c)
			}
			body := req.Body
			gr, err := gzip.NewReader(body)
			if err != nil {
				_ = body.Close()
				return echo.NewHTTPError(http.StatusBadRequest, "invalid gzip body")
			}
			req.Body = &gzipReadCloser{Reader: gr, body: body}
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)
			return next(c)
		}
	}
}

func hasGzipEncoding(header string) bool {
	for _, enc := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}

type gzipReadCloser struct {
	*gzip.Reader
	body io.Closer
}

func (g *gzipReadCloser) Close() error {
	err := g.Reader.Close()
	if cerr := g.body.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// requireAuth verifies the bearer token and stores the principal on the
// context. The first request of a user within the contact TTL also records
// their email address for notifications.
func (h *handlers) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		if header == "" {
			if token := c.QueryParam("token"); token != "" {
				header = bearerPrefix + token
			}
		}
		var p Principal
		err := metricsFrom(c).Time("auth", func() error {
			var err error
			p, err = h.auth.Verify(header)
			return err
		})
		if err != nil {
			return fail(c, "auth", err)
		}
		c.Set(principalContextKey, p)
		h.recordContact(c.Request().Context(), p)
		return next(c)
	}
}

func principalFrom(c echo.Context) Principal {
	p, _ := c.Get(principalContextKey).(Principal)
	return p
}

func (h *handlers) recordContact(ctx context.Context, p Principal) {
	if h.contacts == nil || h.seen == nil || p.Email == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	entry := h.logger.WithField("user", p.Subject)
	fresh, err := h.seen.Add(ctx, p.Subject)
	if err != nil || !fresh {
		if err != nil {
			entry.WithError(err).Debug("contact dedupe unavailable")
		}
		return
	}
	if err := h.contacts.UpsertContact(ctx, p.Subject, p.Email, p.Name); err != nil {
		entry.WithError(err).Warn("failed to record contact")
		if rerr := h.seen.Remove(ctx, p.Subject); rerr != nil {
			entry.WithError(rerr).Debug("failed to release contact key")
		}
		return
	}
	entry.WithFields(log.Fields{"email": p.Email}).Debug("contact recorded")
}
