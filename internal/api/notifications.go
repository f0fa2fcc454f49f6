package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/cankoe/reminder-scheduler/internal/notifier"
)

const (
	ActionSendAll       = "send_all"
	ActionSendImmediate = "send_immediate"
	ActionTest          = "test"
)

type notificationRequest struct {
	Action  string `json:"action"`
	EventID string `json:"event_id"`
	Address string `json:"address"`
}

func notificationsHandler(n Notifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req notificationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			log.Error().Err(err).Str("route", "POST /api/notifications").Msg("Invalid request body")
			abortWithError(c, invalidRequest("Invalid request body. Expected a JSON object with an action."))
			return
		}

		switch req.Action {
		case ActionSendAll:
			sendAll(c, n)
		case ActionSendImmediate:
			if req.EventID == "" {
				abortWithError(c, invalidRequest("event_id is required for send_immediate"))
				return
			}
			sendImmediate(c, n, req.EventID)
		case ActionTest:
			if req.EventID == "" || req.Address == "" {
				abortWithError(c, invalidRequest("event_id and address are required for test"))
				return
			}
			sendTest(c, n, req.EventID, req.Address)
		default:
			abortWithError(c, invalidRequest("Unknown action. Use send_all, send_immediate or test."))
		}
	}
}

func sendAll(c *gin.Context, n Notifier) {
	// A client disconnect must not cut short a run that is already sending.
	summary, err := n.RunOnce(context.WithoutCancel(c.Request.Context()), n.Now())
	if errors.Is(err, notifier.ErrRepository) {
		log.Error().Err(err).Str("route", "POST /api/notifications").Msg("Run failed")
		abortWithError(c, err)
		return
	}
	// Any other error means the run stopped early; what it sent is still reported.
	interrupted := err != nil
	if interrupted {
		log.Warn().Err(err).Str("route", "POST /api/notifications").Str("run_id", summary.RunID).
			Msg("Run interrupted, returning partial summary")
	}
	results := summary.Results
	if results == nil {
		results = []notifier.EventResult{}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     !interrupted,
		"interrupted": interrupted,
		"run_id":      summary.RunID,
		"attempted":   summary.Attempted,
		"notified":    summary.Notified,
		"results":     results,
	})
}

func sendImmediate(c *gin.Context, n Notifier, eventID string) {
	res, err := n.NotifyNow(c.Request.Context(), eventID)
	if err != nil {
		log.Error().Err(err).Str("route", "POST /api/notifications").Str("event_id", eventID).Msg("Immediate notification failed")
		abortWithError(c, err)
		return
	}
	notified := 0
	if res.Notified() {
		notified = 1
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  res.Notified(),
		"notified": notified,
		"result":   res,
	})
}

func sendTest(c *gin.Context, n Notifier, eventID, address string) {
	res, err := n.TestNotify(c.Request.Context(), eventID, address)
	if err != nil {
		log.Error().Err(err).Str("route", "POST /api/notifications").Str("event_id", eventID).Msg("Test notification failed")
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": res.Outcome == notifier.OutcomeSent,
		"result":  res,
	})
}

func notificationStatusHandler(n Notifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := n.Status(c.Request.Context(), c.Param("id"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, st)
	}
}
