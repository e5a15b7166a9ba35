package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"taskmanager/notify"
)

const sseDataPrefix = "data: "

// streamNotifications relays notifications delivered to the caller's Redis
// channel as server-sent events.
func (h *handlers) streamNotifications(c echo.Context) error {
	p := principalFrom(c)
	res := c.Response()
	flusher, ok := res.Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}
	ctx := c.Request().Context()
	sub := h.redis.Subscribe(ctx, notify.Channel(p.Subject))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		h.logger.WithError(err).WithField("user", p.Subject).Warn("subscribe failed")
		return c.String(http.StatusServiceUnavailable, "notifications unavailable")
	}

	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := res.Write([]byte(": ping\n\n")); err != nil {
				return nil
			}
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if _, err := res.Write([]byte(sseDataPrefix + msg.Payload + "\n\n")); err != nil {
				return nil
			}
		}
		flusher.Flush()
	}
}
