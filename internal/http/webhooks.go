package http

import (
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v4"

	"github.com/careloop/caring-relay/internal/audit"
	"github.com/careloop/caring-relay/internal/callback"
	"github.com/careloop/caring-relay/internal/queue"
)

// inboundSMSHandler receives patient texts from Twilio.  Handled failures
// (unknown phone, missing care plan) answer 200 with a short body so
// Twilio stops retrying; success answers 204.
func inboundSMSHandler(proc *callback.Processor, a *audit.Recorder) echo.HandlerFunc {
	return func(c echo.Context) error {
		from := c.FormValue("From")
		body := c.FormValue("Body")
		sid := c.FormValue("SmsSid")
		a.Entry("call to /sms webhook", "debug", map[string]any{
			"from": from,
			"sid":  sid,
		})

		err := proc.OnInboundSMS(c.Request().Context(), from, body, sid)
		if err != nil {
			a.Entry("inbound message handling failed", "error", map[string]any{
				"error": err.Error(),
			})
			return c.String(http.StatusOK, err.Error())
		}
		return c.NoContent(http.StatusNoContent)
	}
}

// messageStatusHandler receives delivery-status callbacks.  Twilio can
// call back before the dispatched request is visible in the store; that
// race lands the event on the retry queue and still answers 200.
func messageStatusHandler(proc *callback.Processor, retry *queue.RetryQueue, a *audit.Recorder) echo.HandlerFunc {
	return func(c echo.Context) error {
		sid := c.FormValue("MessageSid")
		status := c.FormValue("MessageStatus")
		a.Entry("call to /message-status webhook", "debug", map[string]any{
			"sid":    sid,
			"status": status,
		})

		err := proc.OnStatusUpdate(c.Request().Context(), sid, status)
		if err == nil {
			return c.NoContent(http.StatusNoContent)
		}
		if errors.Is(err, callback.ErrSIDNotFound) {
			ev := queue.StatusEvent{SID: sid, Status: status}
			if qErr := retry.Push(c.Request().Context(), ev); qErr != nil {
				a.Entry("queueing status callback failed", "error", map[string]any{
					"sid":   sid,
					"error": qErr.Error(),
				})
			}
		}
		a.Entry("status callback handling failed", "error", map[string]any{
			"error": err.Error(),
		})
		return c.String(http.StatusOK, err.Error())
	}
}
