// Package httpapi exposes the operational surface of the pipeline: queue
// introspection, manual triggers, watch lifecycle and the push webhook.
package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	prettylogger "github.com/rdbell/echo-pretty-logger"
	"github.com/ztrue/tracerr"

	"github.com/inboxpilot/inboxpilot/adapters"
	"github.com/inboxpilot/inboxpilot/classify"
	f "github.com/inboxpilot/inboxpilot/core"
	appErrors "github.com/inboxpilot/inboxpilot/errors"
	"github.com/inboxpilot/inboxpilot/jobs"
	"github.com/inboxpilot/inboxpilot/log"
	"github.com/inboxpilot/inboxpilot/watch"
)

type Server struct {
	echo       *echo.Echo
	stores     f.Stores
	producer   jobs.Producer
	inspector  f.JobInspector
	classifier *classify.Handler
	watches    *watch.Manager
	verifier   *adapters.PushTokenVerifier
	dedup      *adapters.IdempotencyStore
}

type customValidator struct {
	validate *validator.Validate
}

func (v *customValidator) Validate(i any) error {
	if err := v.validate.Struct(i); err != nil {
		return appErrors.BadRequest("%v", err)
	}
	return nil
}

func NewServer(
	stores f.Stores,
	producer jobs.Producer,
	inspector f.JobInspector,
	classifier *classify.Handler,
	watches *watch.Manager,
	verifier *adapters.PushTokenVerifier,
	dedup *adapters.IdempotencyStore,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &customValidator{validate: validator.New()}
	e.Use(prettylogger.Logger)
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogLevel: 2,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			tracerr.PrintSourceColor(tracerr.Wrap(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
		},
	}))
	e.Use(middleware.RemoveTrailingSlash())
	e.Use(middleware.RequestID())

	s := &Server{
		echo:       e,
		stores:     stores,
		producer:   producer,
		inspector:  inspector,
		classifier: classifier,
		watches:    watches,
		verifier:   verifier,
		dedup:      dedup,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.echo.Group("/api")

	api.GET("/queues/:name", s.queueStats)
	api.GET("/queues/:name/jobs/:id", s.jobStatus)
	api.GET("/dead-letters", s.listDeadLetters)

	api.POST("/sync", s.triggerSync)
	api.POST("/emails/:id/classify", s.triggerClassification)
	api.POST("/emails/:id/agents", s.triggerAgent)
	api.POST("/emails/:id/feedback", s.classificationFeedback)

	api.GET("/users/:id/sync", s.syncStatus)
	api.GET("/users/:id/watch", s.watchStatus)
	api.POST("/users/:id/watch/start", s.startWatch)
	api.POST("/users/:id/watch/stop", s.stopWatch)
	api.POST("/users/:id/watch/renew", s.renewWatch)
	api.POST("/users/:id/auto-sync", s.enableAutoSync)
	api.DELETE("/users/:id/auto-sync", s.disableAutoSync)

	api.POST("/scheduler/check-polling", s.triggerTick(jobs.NameCheckPolling))
	api.POST("/scheduler/renew-watches", s.triggerTick(jobs.NameRenewWatches))

	s.echo.POST("/webhooks/gmail", s.gmailPush)
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "up"})
	})
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Listen(port int) error {
	if port == 0 {
		port = 8080
	}
	return s.echo.Start(fmt.Sprintf(":%d", port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func fail(c echo.Context, err error) error {
	return c.JSON(appErrors.GetStatusCode(err), echo.Map{"error": err.Error()})
}

// ------------------------------------------------------------------------------------------------------------------
// QUEUE INTROSPECTION
// ------------------------------------------------------------------------------------------------------------------

var knownQueues = map[string]bool{
	f.QueueEmailSync:      true,
	f.QueueClassification: true,
	f.QueueAgents:         true,
	f.QueueDocumentOCR:    true,
	f.QueueScheduler:      true,
	f.QueueDeadLetter:     true,
}

func (s *Server) queueStats(c echo.Context) error {
	name := c.Param("name")
	if !knownQueues[name] {
		return fail(c, appErrors.NotFound("unknown queue: %s", name))
	}
	stats, err := s.inspector.QueueStats(c.Request().Context(), name)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) jobStatus(c echo.Context) error {
	name := c.Param("name")
	if !knownQueues[name] {
		return fail(c, appErrors.NotFound("unknown queue: %s", name))
	}
	status, err := s.inspector.JobStatus(c.Request().Context(), name, c.Param("id"))
	if err != nil {
		// The inspector reports missing jobs as plain errors.
		return fail(c, appErrors.NotFound("job not found: %s", c.Param("id")))
	}
	return c.JSON(http.StatusOK, status)
}

func (s *Server) listDeadLetters(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	records, err := s.stores.DeadLetters.List(c.Request().Context(), limit)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"dead_letters": records})
}

// ------------------------------------------------------------------------------------------------------------------
// MANUAL TRIGGERS
// ------------------------------------------------------------------------------------------------------------------

type syncRequest struct {
	UserID   string `json:"user_id" validate:"required"`
	FullSync bool   `json:"full_sync"`
}

// triggerSync is the user-initiated path: an enqueue failure surfaces as an
// error response, never silently dropped.
func (s *Server) triggerSync(c echo.Context) error {
	var req syncRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, appErrors.BadRequest("invalid request body"))
	}
	if err := c.Validate(&req); err != nil {
		return fail(c, err)
	}
	if err := s.producer.EnqueueSync(c.Request().Context(), req.UserID, req.FullSync); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusAccepted, echo.Map{"queued": true})
}

type classifyRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

func (s *Server) triggerClassification(c echo.Context) error {
	var req classifyRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, appErrors.BadRequest("invalid request body"))
	}
	if err := c.Validate(&req); err != nil {
		return fail(c, err)
	}
	err := s.producer.EnqueueClassification(c.Request().Context(), c.Param("id"), req.UserID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusAccepted, echo.Map{"queued": true})
}

type agentRequest struct {
	UserID   string            `json:"user_id" validate:"required"`
	Type     string            `json:"type" validate:"required,oneof=task-extractor document-summarizer sow-generator"`
	Metadata map[string]string `json:"metadata"`
}

func (s *Server) triggerAgent(c echo.Context) error {
	var req agentRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, appErrors.BadRequest("invalid request body"))
	}
	if err := c.Validate(&req); err != nil {
		return fail(c, err)
	}
	err := s.producer.EnqueueAgent(c.Request().Context(), req.Type, c.Param("id"), req.UserID, req.Metadata)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusAccepted, echo.Map{"queued": true})
}

type feedbackRequest struct {
	Category string `json:"category" validate:"required"`
	Feedback string `json:"feedback"`
}

func (s *Server) classificationFeedback(c echo.Context) error {
	var req feedbackRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, appErrors.BadRequest("invalid request body"))
	}
	if err := c.Validate(&req); err != nil {
		return fail(c, err)
	}
	err := s.classifier.Reclassify(c.Request().Context(), c.Param("id"), req.Category, req.Feedback)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"updated": true})
}

func (s *Server) triggerTick(tickType string) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := s.producer.EnqueueSchedulerTick(c.Request().Context(), tickType); err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusAccepted, echo.Map{"queued": true})
	}
}

// ------------------------------------------------------------------------------------------------------------------
// SYNC / WATCH STATE
// ------------------------------------------------------------------------------------------------------------------

func (s *Server) syncStatus(c echo.Context) error {
	ctx := c.Request().Context()
	userID := c.Param("id")
	state, err := s.stores.SyncState.Get(ctx, userID)
	if err != nil {
		return fail(c, err)
	}
	count, err := s.stores.Emails.CountByUser(ctx, userID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"state": state, "email_count": count})
}

func (s *Server) watchStatus(c echo.Context) error {
	status, err := s.watches.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, status)
}

func (s *Server) startWatch(c echo.Context) error {
	if err := s.watches.Start(c.Request().Context(), c.Param("id")); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"started": true})
}

func (s *Server) stopWatch(c echo.Context) error {
	if err := s.watches.Stop(c.Request().Context(), c.Param("id")); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"stopped": true})
}

func (s *Server) renewWatch(c echo.Context) error {
	if err := s.watches.Renew(c.Request().Context(), c.Param("id")); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"renewed": true})
}

type autoSyncRequest struct {
	Strategy               string `json:"strategy" validate:"required,oneof=webhook polling hybrid"`
	PollingIntervalMinutes int    `json:"polling_interval_minutes"`
}

func (s *Server) enableAutoSync(c echo.Context) error {
	var req autoSyncRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, appErrors.BadRequest("invalid request body"))
	}
	if err := c.Validate(&req); err != nil {
		return fail(c, err)
	}
	err := s.watches.EnableAutoSync(c.Request().Context(), c.Param("id"), req.Strategy, req.PollingIntervalMinutes)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"enabled": true})
}

func (s *Server) disableAutoSync(c echo.Context) error {
	if err := s.watches.DisableAutoSync(c.Request().Context(), c.Param("id")); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"disabled": true})
}

// ------------------------------------------------------------------------------------------------------------------
// PUSH WEBHOOK
// ------------------------------------------------------------------------------------------------------------------

type pushEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type pushNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    any    `json:"historyId"`
}

// gmailPush ingests one push notification: verify the caller, drop redelivery
// duplicates, resolve the mailbox owner and enqueue an incremental sync. The
// endpoint always acks known-bad payloads so the delivery service stops
// redelivering them.
func (s *Server) gmailPush(c echo.Context) error {
	ctx := c.Request().Context()

	token := ""
	authz := c.Request().Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		token = authz[len("bearer "):]
	}
	if err := s.verifier.Verify(ctx, token); err != nil {
		return fail(c, err)
	}

	var envelope pushEnvelope
	if err := c.Bind(&envelope); err != nil {
		return fail(c, appErrors.BadRequest("invalid push envelope"))
	}

	if envelope.Message.MessageID != "" {
		seen, err := s.dedup.Seen(ctx, "push:"+envelope.Message.MessageID)
		if err != nil {
			log.Warn("push dedup check failed: %v", err)
		} else if seen {
			return c.NoContent(http.StatusNoContent)
		}
	}

	raw, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		log.Warn("push payload not base64: %v", err)
		return c.NoContent(http.StatusNoContent)
	}
	var notification pushNotification
	if err := json.Unmarshal(raw, &notification); err != nil || notification.EmailAddress == "" {
		log.Warn("push payload unreadable: %v", err)
		return c.NoContent(http.StatusNoContent)
	}

	user, err := s.stores.Users.FindByEmail(ctx, notification.EmailAddress)
	if err != nil {
		log.Warn("push for unknown mailbox %s", notification.EmailAddress)
		return c.NoContent(http.StatusNoContent)
	}
	if err := s.producer.EnqueueSync(ctx, user.ID, false); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
