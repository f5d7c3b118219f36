package handler

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/kursadbilgin/broadcast-engine/internal/domain"
	"github.com/kursadbilgin/broadcast-engine/internal/service"
)

// Headers accepted on cross-origin function calls.
const functionCORSHeaders = "authorization,x-client-info,apikey,content-type"

type StalledResumer interface {
	ResumeStalled(ctx context.Context) (service.ResumeResult, error)
}

type DueChecker interface {
	CheckDue(ctx context.Context) (int, error)
}

type BroadcastService interface {
	Create(ctx context.Context, input service.CreateBroadcastInput) (*domain.Broadcast, error)
	GetProgress(ctx context.Context, id string) (*service.BroadcastProgress, error)
}

type FlagInvalidator interface {
	Invalidate()
}

// FunctionDeps are the services behind the /functions/v1 routes. Flags is optional; without it
// the cache invalidation route is not registered.
type FunctionDeps struct {
	Coordinator    StalledResumer
	Scheduler      DueChecker
	Worker         service.DispatchHandler
	Broadcasts     BroadcastService
	Flags          FlagInvalidator
	ServiceRoleKey string
}

type FunctionsHandler struct {
	deps FunctionDeps
}

func NewFunctionsHandler(deps FunctionDeps) (*FunctionsHandler, error) {
	if deps.Coordinator == nil {
		return nil, fmt.Errorf("continuation coordinator is required")
	}
	if deps.Scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if deps.Worker == nil {
		return nil, fmt.Errorf("dispatch worker is required")
	}
	if deps.Broadcasts == nil {
		return nil, fmt.Errorf("broadcast service is required")
	}
	if strings.TrimSpace(deps.ServiceRoleKey) == "" {
		return nil, fmt.Errorf("service role key is required")
	}
	return &FunctionsHandler{deps: deps}, nil
}

func RegisterFunctionRoutes(router fiber.Router, deps FunctionDeps) error {
	h, err := NewFunctionsHandler(deps)
	if err != nil {
		return err
	}

	fn := router.Group("/functions/v1", functionCORS(), CorrelationMiddleware())

	fn.Post("/resume-stalled-broadcasts", h.ResumeStalled)
	fn.Post("/check-scheduled-broadcasts", h.CheckScheduled)
	fn.Get("/check-scheduled-broadcasts", h.CheckScheduled)

	auth := RequireServiceRole(deps.ServiceRoleKey)
	fn.Post("/whatsapp-broadcast-worker", auth, h.RunWorker)
	fn.Post("/broadcasts", auth, h.CreateBroadcast)
	fn.Get("/broadcasts/:id", auth, h.GetBroadcast)
	if deps.Flags != nil {
		fn.Post("/feature-flags/invalidate", auth, h.InvalidateFlags)
	}

	return nil
}

// functionCORS answers preflight requests with an empty 200 instead of the 204 the cors
// middleware writes.
func functionCORS() fiber.Handler {
	handler := cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: functionCORSHeaders,
	})

	return func(c *fiber.Ctx) error {
		preflight := c.Method() == fiber.MethodOptions && c.Get(fiber.HeaderAccessControlRequestMethod) != ""
		if err := handler(c); err != nil || !preflight {
			return err
		}
		c.Response().ResetBody()
		c.Status(fiber.StatusOK)
		return nil
	}
}

type resumeStalledResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Resumed   int    `json:"resumed"`
	Completed int    `json:"completed"`
}

type checkScheduledResponse struct {
	Success bool   `json:"success"`
	Started int    `json:"started"`
	Message string `json:"message"`
}

type workerRequest struct {
	Action        string `json:"action"`
	BroadcastID   string `json:"broadcastId"`
	CorrelationID string `json:"correlationId"`
}

type workerResponse struct {
	Success    bool   `json:"success"`
	Processed  int    `json:"processed"`
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
	Deferred   int    `json:"deferred"`
	Remaining  int64  `json:"remaining"`
	Completed  bool   `json:"completed"`
	SkipReason string `json:"skipReason,omitempty"`
}

type createBroadcastRequest struct {
	UserID      *string                  `json:"userId"`
	Name        string                   `json:"name"`
	Message     string                   `json:"message"`
	ScheduledAt *string                  `json:"scheduledAt"`
	Recipients  []createRecipientRequest `json:"recipients"`
}

type createRecipientRequest struct {
	Phone string  `json:"phone"`
	Name  *string `json:"name"`
}

type broadcastResponse struct {
	ID               string               `json:"id"`
	UserID           *string              `json:"userId,omitempty"`
	Name             string               `json:"name"`
	Message          string               `json:"message"`
	Status           string               `json:"status"`
	ScheduledAt      *time.Time           `json:"scheduledAt,omitempty"`
	TotalRecipients  int                  `json:"totalRecipients"`
	SentCount        int                  `json:"sentCount"`
	FailedCount      int                  `json:"failedCount"`
	LastProcessingAt *time.Time           `json:"lastProcessingAt,omitempty"`
	StartedAt        *time.Time           `json:"startedAt,omitempty"`
	CompletedAt      *time.Time           `json:"completedAt,omitempty"`
	Pending          *int64               `json:"pending,omitempty"`
	Counts           []recipientCountItem `json:"counts,omitempty"`
}

type recipientCountItem struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

func (h *FunctionsHandler) ResumeStalled(c *fiber.Ctx) error {
	result, err := h.deps.Coordinator.ResumeStalled(c.UserContext())
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(resumeStalledResponse{
		Success: true,
		Message: fmt.Sprintf("Resumed %d stalled broadcasts, completed %d of %d candidates",
			result.Resumed, result.Completed, result.Candidates),
		Resumed:   result.Resumed,
		Completed: result.Completed,
	})
}

func (h *FunctionsHandler) CheckScheduled(c *fiber.Ctx) error {
	started, err := h.deps.Scheduler.CheckDue(c.UserContext())
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(checkScheduledResponse{
		Success: true,
		Started: started,
		Message: fmt.Sprintf("Started %d scheduled broadcasts", started),
	})
}

func (h *FunctionsHandler) RunWorker(c *fiber.Ctx) error {
	var req workerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	action, err := domain.ParseDispatchActionFromString(req.Action)
	if err != nil {
		return err
	}

	ctx := c.UserContext()
	dispatch := domain.DispatchRequest{
		Action:        action,
		BroadcastID:   strings.TrimSpace(req.BroadcastID),
		CorrelationID: strings.TrimSpace(req.CorrelationID),
	}
	if dispatch.CorrelationID == "" {
		dispatch.CorrelationID = correlationIDFrom(ctx)
	}

	result, err := h.deps.Worker.Handle(ctx, dispatch)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(workerResponse{
		Success:    true,
		Processed:  result.Processed,
		Sent:       result.Sent,
		Failed:     result.Failed,
		Deferred:   result.Deferred,
		Remaining:  result.Remaining,
		Completed:  result.Completed,
		SkipReason: result.SkipReason,
	})
}

// InvalidateFlags drops this process's feature flag snapshot so a toggle takes effect
// before the cache TTL runs out.
func (h *FunctionsHandler) InvalidateFlags(c *fiber.Ctx) error {
	h.deps.Flags.Invalidate()
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"success": true})
}

func (h *FunctionsHandler) CreateBroadcast(c *fiber.Ctx) error {
	var req createBroadcastRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	input, err := requestToCreateInput(req)
	if err != nil {
		return err
	}

	created, err := h.deps.Broadcasts.Create(c.UserContext(), input)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(toBroadcastResponse(created, nil))
}

func (h *FunctionsHandler) GetBroadcast(c *fiber.Ctx) error {
	progress, err := h.deps.Broadcasts.GetProgress(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(toBroadcastResponse(progress.Broadcast, progress))
}

func requestToCreateInput(req createBroadcastRequest) (service.CreateBroadcastInput, error) {
	input := service.CreateBroadcastInput{
		UserID:     req.UserID,
		Name:       req.Name,
		Message:    req.Message,
		Recipients: make([]service.RecipientInput, 0, len(req.Recipients)),
	}

	if req.ScheduledAt != nil && strings.TrimSpace(*req.ScheduledAt) != "" {
		scheduledAt, err := time.Parse(time.RFC3339, strings.TrimSpace(*req.ScheduledAt))
		if err != nil {
			return service.CreateBroadcastInput{}, fmt.Errorf("%w: scheduledAt must be RFC3339", domain.ErrValidation)
		}
		input.ScheduledAt = &scheduledAt
	}

	for _, r := range req.Recipients {
		input.Recipients = append(input.Recipients, service.RecipientInput{Phone: r.Phone, Name: r.Name})
	}
	return input, nil
}

func toBroadcastResponse(b *domain.Broadcast, progress *service.BroadcastProgress) broadcastResponse {
	if b == nil {
		return broadcastResponse{}
	}

	resp := broadcastResponse{
		ID:               b.ID,
		UserID:           b.UserID,
		Name:             b.Name,
		Message:          b.Message,
		Status:           b.Status.String(),
		ScheduledAt:      b.ScheduledAt,
		TotalRecipients:  b.TotalRecipients,
		SentCount:        b.SentCount,
		FailedCount:      b.FailedCount,
		LastProcessingAt: b.LastProcessingAt,
		StartedAt:        b.StartedAt,
		CompletedAt:      b.CompletedAt,
	}

	if progress != nil {
		pending := progress.Pending
		resp.Pending = &pending
		resp.Counts = make([]recipientCountItem, 0, len(progress.Counts))
		for _, count := range progress.Counts {
			resp.Counts = append(resp.Counts, recipientCountItem{Status: count.Status.String(), Count: count.Count})
		}
	}
	return resp
}

// RequireServiceRole accepts requests carrying key as a bearer token or apikey header.
func RequireServiceRole(key string) fiber.Handler {
	expected := []byte(strings.TrimSpace(key))

	return func(c *fiber.Ctx) error {
		token := strings.TrimSpace(c.Get("apikey"))
		if auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization)); auth != "" {
			if bearer, ok := strings.CutPrefix(auth, "Bearer "); ok {
				token = strings.TrimSpace(bearer)
			}
		}

		if token == "" || subtle.ConstantTimeCompare([]byte(token), expected) != 1 {
			return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
		}
		return c.Next()
	}
}
