package controller

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"business-copilot-be/internal/dto"
	"business-copilot-be/internal/pkg/serverutils"
	"business-copilot-be/internal/service"
	"business-copilot-be/pkg/llm"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
)

type IChatController interface {
	RegisterRoutes(r fiber.Router)
	CreateSession(ctx *fiber.Ctx) error
	GetAllSessions(ctx *fiber.Ctx) error
	GetMessages(ctx *fiber.Ctx) error
	SendChat(ctx *fiber.Ctx) error
	EditMessage(ctx *fiber.Ctx) error
	ArchiveSession(ctx *fiber.Ctx) error
	RenameSession(ctx *fiber.Ctx) error
	DatasetDebug(ctx *fiber.Ctx) error
}

type chatController struct {
	service service.IChatService
}

func NewChatController(service service.IChatService) IChatController {
	return &chatController{service: service}
}

func (c *chatController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/copilot/v1")
	h.Use(serverutils.JwtMiddleware)
	h.Post("/sessions", c.CreateSession)
	h.Get("/sessions", c.GetAllSessions)
	h.Get("/sessions/:id/messages", c.GetMessages)
	h.Patch("/sessions/:id", c.RenameSession)
	h.Post("/sessions/:id/archive", c.ArchiveSession)
	h.Post("/chat", c.SendChat)
	h.Post("/messages/:id/edit", c.EditMessage)
	h.Get("/dataset", c.DatasetDebug)
}

func callerID(ctx *fiber.Ctx) (uuid.UUID, error) {
	raw, _ := ctx.Locals("user_id").(string)
	userId, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, serverutils.NewUnauthorizedError("invalid user id")
	}
	return userId, nil
}

func (c *chatController) CreateSession(ctx *fiber.Ctx) error {
	userId, err := callerID(ctx)
	if err != nil {
		return err
	}

	res, err := c.service.CreateSession(ctx.Context(), userId)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success create session", res))
}

func (c *chatController) GetAllSessions(ctx *fiber.Ctx) error {
	userId, err := callerID(ctx)
	if err != nil {
		return err
	}
	limit := ctx.QueryInt("limit")

	res, err := c.service.GetAllSessions(ctx.Context(), userId, limit)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get sessions", res))
}

func (c *chatController) GetMessages(ctx *fiber.Ctx) error {
	userId, err := callerID(ctx)
	if err != nil {
		return err
	}
	sessionId, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return serverutils.NewBadRequestError("invalid session id")
	}
	limit := ctx.QueryInt("limit")

	var before *time.Time
	if raw := ctx.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return serverutils.NewBadRequestError("invalid before cursor")
		}
		before = &t
	}

	res, err := c.service.GetMessages(ctx.Context(), userId, sessionId, limit, before)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get messages", res))
}

func (c *chatController) ArchiveSession(ctx *fiber.Ctx) error {
	userId, err := callerID(ctx)
	if err != nil {
		return err
	}
	sessionId, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return serverutils.NewBadRequestError("invalid session id")
	}

	if err := c.service.ArchiveSession(ctx.Context(), userId, sessionId); err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse[any]("Success archive session", nil))
}

func (c *chatController) RenameSession(ctx *fiber.Ctx) error {
	userId, err := callerID(ctx)
	if err != nil {
		return err
	}
	sessionId, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return serverutils.NewBadRequestError("invalid session id")
	}

	var req dto.RenameSessionRequest
	if err := ctx.BodyParser(&req); err != nil {
		return serverutils.NewBadRequestError("invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	if err := c.service.RenameSession(ctx.Context(), userId, sessionId, req.Title); err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse[any]("Success rename session", nil))
}

func (c *chatController) SendChat(ctx *fiber.Ctx) error {
	userId, err := callerID(ctx)
	if err != nil {
		return err
	}

	var req dto.SendChatRequest
	if err := ctx.BodyParser(&req); err != nil {
		return serverutils.NewBadRequestError("invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	if ctx.Query("stream") == "false" {
		res, err := c.service.SendChat(ctx.Context(), userId, &req, nil)
		if err != nil {
			return err
		}
		return ctx.JSON(serverutils.SuccessResponse("Success send chat", res))
	}

	// Gate and persist before committing to a stream so validation failures
	// still map to their HTTP status.
	pending, err := c.service.PrepareSend(ctx.Context(), userId, &req)
	if err != nil {
		return err
	}
	return c.streamExchange(ctx, pending)
}

func (c *chatController) EditMessage(ctx *fiber.Ctx) error {
	userId, err := callerID(ctx)
	if err != nil {
		return err
	}
	messageId, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return serverutils.NewBadRequestError("invalid message id")
	}

	var req dto.EditMessageRequest
	if err := ctx.BodyParser(&req); err != nil {
		return serverutils.NewBadRequestError("invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	if ctx.Query("stream") == "false" {
		res, err := c.service.EditMessage(ctx.Context(), userId, messageId, &req, nil)
		if err != nil {
			return err
		}
		return ctx.JSON(serverutils.SuccessResponse("Success edit message", res))
	}

	pending, err := c.service.PrepareEdit(ctx.Context(), userId, messageId, &req)
	if err != nil {
		return err
	}
	return c.streamExchange(ctx, pending)
}

func (c *chatController) DatasetDebug(ctx *fiber.Ctx) error {
	userId, err := callerID(ctx)
	if err != nil {
		return err
	}

	var sections []string
	if raw := ctx.Query("sections"); raw != "" {
		sections = strings.Split(raw, ",")
	}

	res, err := c.service.DatasetDebug(ctx.Context(), userId, sections)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success build dataset", res))
}

// streamExchange completes a prepared exchange inside a fasthttp body stream
// writer and frames the wire events as SSE. The fiber handler returns before
// the writer runs, so generation gets a fresh context that is cancelled only
// by downstream write failures (client gone) inside the service. The error
// event is reserved for failures after streaming starts; everything before
// PrepareSend/PrepareEdit returned has already been mapped to an HTTP status.
func (c *chatController) streamExchange(ctx *fiber.Ctx, pending *service.PendingExchange) error {
	ctx.Set(fiber.HeaderContentType, "text/event-stream")
	ctx.Set(fiber.HeaderCacheControl, "no-cache")
	ctx.Set(fiber.HeaderConnection, "keep-alive")
	ctx.Set("X-Accel-Buffering", "no")

	ctx.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		emit := func(event string, payload any) error {
			data, err := json.Marshal(payload)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
				return err
			}
			return w.Flush()
		}

		callbacks := &service.StreamCallbacks{
			OnStart: func(sessionId, messageId uuid.UUID) error {
				return emit("start", fiber.Map{
					"sessionId": sessionId,
					"messageId": messageId,
				})
			},
			OnThoughtDelta: func(delta string) error {
				return emit("thought_delta", fiber.Map{"delta": delta})
			},
			OnThoughtDone: func() error {
				return emit("thought_done", fiber.Map{})
			},
			OnAnswerDelta: func(delta string) error {
				return emit("answer_delta", fiber.Map{"delta": delta})
			},
		}

		res, err := c.service.CompleteExchange(context.Background(), pending, callbacks)
		if err != nil {
			if errors.Is(err, llm.ErrAborted) {
				// Client cancelled: close silently, nothing was persisted.
				return
			}
			_ = emit("error", fiber.Map{"message": userFacingMessage(err)})
			return
		}

		done := fiber.Map{
			"sessionId": res.ChatSessionId,
			"text":      res.Reply.Content,
		}
		if res.Reply.ThoughtContent != "" {
			done["thoughtContent"] = res.Reply.ThoughtContent
		}
		_ = emit("done", done)
	}))

	return nil
}

func userFacingMessage(err error) string {
	var appErr *serverutils.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "generation failed"
}
