package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"business-copilot-be/internal/constant"
	"business-copilot-be/internal/dto"
	"business-copilot-be/internal/entity"
	"business-copilot-be/internal/pkg/logger"
	"business-copilot-be/internal/pkg/serverutils"
	"business-copilot-be/internal/repository/specification"
	"business-copilot-be/internal/repository/unitofwork"
	"business-copilot-be/pkg/cache"
	"business-copilot-be/pkg/dataset"
	"business-copilot-be/pkg/llm"
	"business-copilot-be/pkg/llm/factory"
	"business-copilot-be/pkg/permission"

	"github.com/google/uuid"
)

const (
	datasetTTL = 60 * time.Second
	listingTTL = 5 * time.Minute
)

// StreamCallbacks receive the wire events for a streaming exchange. A non-nil
// error from any callback means the downstream write failed; the exchange is
// then treated as a client cancellation.
type StreamCallbacks struct {
	OnStart        func(sessionId, messageId uuid.UUID) error
	OnThoughtDelta func(delta string) error
	OnThoughtDone  func() error
	OnAnswerDelta  func(delta string) error
}

type IChatService interface {
	CreateSession(ctx context.Context, userId uuid.UUID) (*dto.CreateSessionResponse, error)
	GetAllSessions(ctx context.Context, userId uuid.UUID, limit int) ([]dto.SessionResponse, error)
	GetMessages(ctx context.Context, userId, sessionId uuid.UUID, limit int, before *time.Time) ([]dto.MessageResponse, error)
	SendChat(ctx context.Context, userId uuid.UUID, req *dto.SendChatRequest, stream *StreamCallbacks) (*dto.SendChatResponse, error)
	EditMessage(ctx context.Context, userId, messageId uuid.UUID, req *dto.EditMessageRequest, stream *StreamCallbacks) (*dto.SendChatResponse, error)
	PrepareSend(ctx context.Context, userId uuid.UUID, req *dto.SendChatRequest) (*PendingExchange, error)
	PrepareEdit(ctx context.Context, userId, messageId uuid.UUID, req *dto.EditMessageRequest) (*PendingExchange, error)
	CompleteExchange(ctx context.Context, pending *PendingExchange, stream *StreamCallbacks) (*dto.SendChatResponse, error)
	ArchiveSession(ctx context.Context, userId, sessionId uuid.UUID) error
	RenameSession(ctx context.Context, userId, sessionId uuid.UUID, title string) error
	DatasetDebug(ctx context.Context, userId uuid.UUID, sections []string) (*dto.DatasetDebugResponse, error)
}

// PendingExchange is a gated, persisted exchange awaiting generation. The
// split lets the transport surface validation failures with a proper HTTP
// status before it commits to a response stream.
type PendingExchange struct {
	in exchangeInput
}

// ProviderFactory builds the provider adapter for the settings in force.
type ProviderFactory func(settings *dto.CopilotSettings) (llm.Provider, error)

type chatService struct {
	uowFactory  unitofwork.RepositoryFactory
	oracle      permission.Oracle
	assembler   *dataset.Assembler
	cache       *cache.Cache
	publisher   IPublisherService
	logger      logger.ILogger
	providerFor ProviderFactory
	fallback    dto.CopilotSettings // used when no app_settings row exists
	now         func() time.Time
}

func NewChatService(
	uowFactory unitofwork.RepositoryFactory,
	oracle permission.Oracle,
	assembler *dataset.Assembler,
	cacheLayer *cache.Cache,
	publisher IPublisherService,
	log logger.ILogger,
	fallback dto.CopilotSettings,
) IChatService {
	return &chatService{
		uowFactory: uowFactory,
		oracle:     oracle,
		assembler:  assembler,
		cache:      cacheLayer,
		publisher:  publisher,
		logger:     log,
		providerFor: func(s *dto.CopilotSettings) (llm.Provider, error) {
			return factory.NewProvider(s.Provider, s.APIKey, s.Model, s.BaseURL)
		},
		fallback: fallback,
		now:      time.Now,
	}
}

// Namespaces

func sessionsNamespace(userId uuid.UUID) string {
	return "chat:sessions:" + userId.String()
}

func messagesNamespace(sessionId uuid.UUID) string {
	return "chat:messages:" + sessionId.String()
}

func datasetNamespace(userId uuid.UUID) string {
	return "dataset:" + userId.String()
}

// Gates

func (s *chatService) loadSettings(ctx context.Context) (*dto.CopilotSettings, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	row, err := uow.SettingRepository().Get(ctx, constant.SettingKeyCopilot)
	if err != nil {
		return nil, serverutils.NewInternalError("failed to read settings", err)
	}
	if row == nil {
		settings := s.fallback
		return &settings, nil
	}
	var settings dto.CopilotSettings
	if err := json.Unmarshal(row.Value, &settings); err != nil {
		return nil, serverutils.NewInternalError("malformed settings document", err)
	}
	return &settings, nil
}

func (s *chatService) gate(ctx context.Context, userId uuid.UUID) (*dto.CopilotSettings, *permission.Principal, error) {
	settings, err := s.loadSettings(ctx)
	if err != nil {
		return nil, nil, err
	}
	if !settings.Usable() {
		return nil, nil, serverutils.NewBadRequestError("assistant is not enabled or not configured")
	}

	principal, err := s.oracle.Resolve(ctx, userId)
	if err != nil {
		return nil, nil, serverutils.NewInternalError("failed to resolve permissions", err)
	}
	if !principal.Has(permission.CapChatUse) {
		return nil, nil, serverutils.NewForbiddenError("missing chat capability")
	}
	return settings, principal, nil
}

// Sessions

func (s *chatService) CreateSession(ctx context.Context, userId uuid.UUID) (*dto.CreateSessionResponse, error) {
	if _, _, err := s.gate(ctx, userId); err != nil {
		return nil, err
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	session := &entity.ChatSession{
		Id:        uuid.New(),
		UserId:    userId,
		Title:     constant.PlaceholderTitle,
		CreatedAt: s.now(),
	}
	if err := uow.ChatSessionRepository().Create(ctx, session); err != nil {
		return nil, serverutils.NewInternalError("failed to create session", err)
	}

	s.bump(ctx, sessionsNamespace(userId))
	return &dto.CreateSessionResponse{Id: session.Id}, nil
}

func (s *chatService) GetAllSessions(ctx context.Context, userId uuid.UUID, limit int) ([]dto.SessionResponse, error) {
	if _, _, err := s.gate(ctx, userId); err != nil {
		return nil, err
	}
	limit = normalizeLimit(limit, constant.DefaultSessionPageSize)

	raw, _, err := s.cache.GetOrSet(ctx, sessionsNamespace(userId), fmt.Sprintf("limit=%d", limit), listingTTL,
		func(ctx context.Context) ([]byte, error) {
			uow := s.uowFactory.NewUnitOfWork(ctx)
			sessions, err := uow.ChatSessionRepository().FindAll(ctx,
				specification.OwnedBy{UserID: userId},
				specification.NotArchived{},
				specification.OrderBy{Field: "updated_at", Desc: true},
				specification.Pagination{Limit: limit},
			)
			if err != nil {
				return nil, err
			}
			out := make([]dto.SessionResponse, len(sessions))
			for i, sess := range sessions {
				out[i] = dto.SessionResponse{
					Id:        sess.Id,
					Title:     sess.Title,
					Archived:  sess.Archived,
					CreatedAt: sess.CreatedAt,
					UpdatedAt: sess.UpdatedAt,
				}
			}
			return json.Marshal(out)
		})
	if err != nil {
		return nil, serverutils.NewInternalError("failed to list sessions", err)
	}

	var out []dto.SessionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, serverutils.NewInternalError("corrupt session listing", err)
	}
	return out, nil
}

func (s *chatService) GetMessages(ctx context.Context, userId, sessionId uuid.UUID, limit int, before *time.Time) ([]dto.MessageResponse, error) {
	if _, _, err := s.gate(ctx, userId); err != nil {
		return nil, err
	}
	limit = normalizeLimit(limit, constant.DefaultMessagePageSize)

	uow := s.uowFactory.NewUnitOfWork(ctx)
	session, err := uow.ChatSessionRepository().FindOne(ctx,
		specification.ByID{ID: sessionId},
		specification.OwnedBy{UserID: userId},
	)
	if err != nil {
		return nil, serverutils.NewInternalError("failed to load session", err)
	}
	if session == nil {
		return nil, serverutils.NewNotFoundError("session not found")
	}

	variant := fmt.Sprintf("limit=%d:before=none", limit)
	if before != nil {
		variant = fmt.Sprintf("limit=%d:before=%d", limit, before.UnixNano())
	}

	raw, _, err := s.cache.GetOrSet(ctx, messagesNamespace(sessionId), variant, listingTTL,
		func(ctx context.Context) ([]byte, error) {
			specs := []specification.Specification{
				specification.ByChatSessionID{ChatSessionID: sessionId},
				specification.OrderBy{Field: "created_at", Desc: true},
				specification.Pagination{Limit: limit},
			}
			if before != nil {
				specs = append(specs, specification.CreatedBefore{Timestamp: *before})
			}
			messages, err := uow.ChatMessageRepository().FindAll(ctx, specs...)
			if err != nil {
				return nil, err
			}
			// Page is fetched newest-first, returned oldest-first.
			out := make([]dto.MessageResponse, len(messages))
			for i, msg := range messages {
				out[len(messages)-1-i] = dto.MessageResponse{
					Id:             msg.Id,
					Role:           msg.Role,
					Content:        msg.Content,
					ThoughtContent: msg.ThoughtContent,
					CreatedAt:      msg.CreatedAt,
				}
			}
			return json.Marshal(out)
		})
	if err != nil {
		return nil, serverutils.NewInternalError("failed to list messages", err)
	}

	var out []dto.MessageResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, serverutils.NewInternalError("corrupt message listing", err)
	}
	return out, nil
}

func (s *chatService) ArchiveSession(ctx context.Context, userId, sessionId uuid.UUID) error {
	if _, _, err := s.gate(ctx, userId); err != nil {
		return err
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return serverutils.NewInternalError("failed to start transaction", err)
	}
	session, err := uow.ChatSessionRepository().FindOne(ctx,
		specification.ByID{ID: sessionId},
		specification.OwnedBy{UserID: userId},
	)
	if err != nil {
		_ = uow.Rollback()
		return serverutils.NewInternalError("failed to load session", err)
	}
	if session == nil {
		_ = uow.Rollback()
		return serverutils.NewNotFoundError("session not found")
	}
	session.Archived = true
	if err := uow.ChatSessionRepository().Update(ctx, session); err != nil {
		_ = uow.Rollback()
		return serverutils.NewInternalError("failed to archive session", err)
	}
	if err := uow.Commit(); err != nil {
		return serverutils.NewInternalError("failed to commit", err)
	}

	s.bump(ctx, sessionsNamespace(userId))
	s.bump(ctx, messagesNamespace(sessionId))
	return nil
}

func (s *chatService) RenameSession(ctx context.Context, userId, sessionId uuid.UUID, title string) error {
	if _, _, err := s.gate(ctx, userId); err != nil {
		return err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return serverutils.NewBadRequestError("title must not be empty")
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return serverutils.NewInternalError("failed to start transaction", err)
	}
	session, err := uow.ChatSessionRepository().FindOne(ctx,
		specification.ByID{ID: sessionId},
		specification.OwnedBy{UserID: userId},
	)
	if err != nil {
		_ = uow.Rollback()
		return serverutils.NewInternalError("failed to load session", err)
	}
	if session == nil {
		_ = uow.Rollback()
		return serverutils.NewNotFoundError("session not found")
	}
	session.Title = truncateTitle(title)
	if err := uow.ChatSessionRepository().Update(ctx, session); err != nil {
		_ = uow.Rollback()
		return serverutils.NewInternalError("failed to rename session", err)
	}
	if err := uow.Commit(); err != nil {
		return serverutils.NewInternalError("failed to commit", err)
	}

	s.bump(ctx, sessionsNamespace(userId))
	return nil
}

// Exchanges

func (s *chatService) SendChat(ctx context.Context, userId uuid.UUID, req *dto.SendChatRequest, stream *StreamCallbacks) (*dto.SendChatResponse, error) {
	pending, err := s.PrepareSend(ctx, userId, req)
	if err != nil {
		return nil, err
	}
	return s.CompleteExchange(ctx, pending, stream)
}

// PrepareSend gates the caller, finds or creates the session, and persists
// the user turn. Generation happens in CompleteExchange.
func (s *chatService) PrepareSend(ctx context.Context, userId uuid.UUID, req *dto.SendChatRequest) (*PendingExchange, error) {
	settings, principal, err := s.gate(ctx, userId)
	if err != nil {
		return nil, err
	}

	question, retry := splitRetryMarker(req.Message)
	if err := validQuestion(question); err != nil {
		return nil, err
	}

	// A misconfigured provider is a client-visible bad request, caught here
	// rather than mid-stream.
	provider, err := s.providerFor(settings)
	if err != nil {
		return nil, serverutils.NewBadRequestError(err.Error())
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return nil, serverutils.NewInternalError("failed to start transaction", err)
	}

	var session *entity.ChatSession
	if req.ChatSessionId != nil {
		session, err = uow.ChatSessionRepository().FindOne(ctx,
			specification.ByID{ID: *req.ChatSessionId},
			specification.OwnedBy{UserID: userId},
		)
		if err != nil {
			_ = uow.Rollback()
			return nil, serverutils.NewInternalError("failed to load session", err)
		}
		if session == nil {
			_ = uow.Rollback()
			return nil, serverutils.NewNotFoundError("session not found")
		}
		if session.Archived {
			_ = uow.Rollback()
			return nil, serverutils.NewConflictError("session is archived")
		}
	} else {
		session = &entity.ChatSession{
			Id:        uuid.New(),
			UserId:    userId,
			Title:     constant.PlaceholderTitle,
			CreatedAt: s.now(),
		}
		if err := uow.ChatSessionRepository().Create(ctx, session); err != nil {
			_ = uow.Rollback()
			return nil, serverutils.NewInternalError("failed to create session", err)
		}
	}

	var sent *entity.ChatMessage
	if !retry {
		sent = &entity.ChatMessage{
			Id:            uuid.New(),
			ChatSessionId: session.Id,
			Role:          constant.RoleUser,
			Content:       question,
			CreatedAt:     s.now(),
		}
		if err := uow.ChatMessageRepository().Create(ctx, sent); err != nil {
			_ = uow.Rollback()
			return nil, serverutils.NewInternalError("failed to persist message", err)
		}
	}

	if err := uow.Commit(); err != nil {
		return nil, serverutils.NewInternalError("failed to commit", err)
	}
	// A retry turn into an existing session commits nothing, so it must not
	// orphan cached listings.
	if req.ChatSessionId == nil || sent != nil {
		s.bump(ctx, sessionsNamespace(userId))
	}
	if sent != nil {
		s.bump(ctx, messagesNamespace(session.Id))
	}

	return &PendingExchange{in: exchangeInput{
		settings:  settings,
		principal: principal,
		provider:  provider,
		session:   session,
		sent:      sent,
		question:  question,
		retry:     retry,
		autoTitle: true,
	}}, nil
}

func (s *chatService) EditMessage(ctx context.Context, userId, messageId uuid.UUID, req *dto.EditMessageRequest, stream *StreamCallbacks) (*dto.SendChatResponse, error) {
	pending, err := s.PrepareEdit(ctx, userId, messageId, req)
	if err != nil {
		return nil, err
	}
	return s.CompleteExchange(ctx, pending, stream)
}

// PrepareEdit gates the caller, rewrites the edited user turn, and removes
// the assistant reply that immediately followed it. Regeneration happens in
// CompleteExchange.
func (s *chatService) PrepareEdit(ctx context.Context, userId, messageId uuid.UUID, req *dto.EditMessageRequest) (*PendingExchange, error) {
	settings, principal, err := s.gate(ctx, userId)
	if err != nil {
		return nil, err
	}

	question := strings.TrimSpace(req.Message)
	if err := validQuestion(question); err != nil {
		return nil, err
	}

	provider, err := s.providerFor(settings)
	if err != nil {
		return nil, serverutils.NewBadRequestError(err.Error())
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return nil, serverutils.NewInternalError("failed to start transaction", err)
	}

	edited, err := uow.ChatMessageRepository().FindOne(ctx, specification.ByID{ID: messageId})
	if err != nil {
		_ = uow.Rollback()
		return nil, serverutils.NewInternalError("failed to load message", err)
	}
	if edited == nil {
		_ = uow.Rollback()
		return nil, serverutils.NewNotFoundError("message not found")
	}
	if edited.Role != constant.RoleUser {
		_ = uow.Rollback()
		return nil, serverutils.NewBadRequestError("only user messages can be edited")
	}

	session, err := uow.ChatSessionRepository().FindOne(ctx,
		specification.ByID{ID: edited.ChatSessionId},
		specification.OwnedBy{UserID: userId},
	)
	if err != nil {
		_ = uow.Rollback()
		return nil, serverutils.NewInternalError("failed to load session", err)
	}
	if session == nil {
		_ = uow.Rollback()
		return nil, serverutils.NewNotFoundError("session not found")
	}
	if session.Archived {
		_ = uow.Rollback()
		return nil, serverutils.NewConflictError("session is archived")
	}

	edited.Content = question
	if err := uow.ChatMessageRepository().Update(ctx, edited); err != nil {
		_ = uow.Rollback()
		return nil, serverutils.NewInternalError("failed to update message", err)
	}

	// Remove the single assistant message immediately following the edit.
	following, err := uow.ChatMessageRepository().FindAll(ctx,
		specification.ByChatSessionID{ChatSessionID: session.Id},
		specification.CreatedAfter{Timestamp: edited.CreatedAt},
		specification.OrderBy{Field: "created_at", Desc: false},
		specification.Pagination{Limit: 1},
	)
	if err != nil {
		_ = uow.Rollback()
		return nil, serverutils.NewInternalError("failed to load reply", err)
	}
	if len(following) == 1 && following[0].Role == constant.RoleAssistant {
		if err := uow.ChatMessageRepository().Delete(ctx, following[0].Id); err != nil {
			_ = uow.Rollback()
			return nil, serverutils.NewInternalError("failed to delete reply", err)
		}
	}

	if err := uow.Commit(); err != nil {
		return nil, serverutils.NewInternalError("failed to commit", err)
	}
	s.bump(ctx, messagesNamespace(session.Id))

	return &PendingExchange{in: exchangeInput{
		settings:  settings,
		principal: principal,
		provider:  provider,
		session:   session,
		sent:      edited,
		question:  question,
		historyAt: &edited.CreatedAt,
		replyAt:   edited.CreatedAt.Add(time.Second),
	}}, nil
}

// CompleteExchange runs generation for a prepared exchange and persists the
// assistant reply.
func (s *chatService) CompleteExchange(ctx context.Context, pending *PendingExchange, stream *StreamCallbacks) (*dto.SendChatResponse, error) {
	in := pending.in
	if in.replyAt.IsZero() {
		in.replyAt = s.now()
	}
	return s.runExchange(ctx, in, stream)
}

type exchangeInput struct {
	settings  *dto.CopilotSettings
	principal *permission.Principal
	provider  llm.Provider
	session   *entity.ChatSession
	sent      *entity.ChatMessage // nil for retry turns
	question  string
	retry     bool
	autoTitle bool
	// historyAt bounds the replayed transcript (inclusive); nil means all.
	historyAt *time.Time
	replyAt   time.Time
}

// runExchange builds the dataset, streams the provider response, and persists
// the assistant reply. Cancellation (client disconnect or context timeout)
// persists nothing assistant-side and skips all cache bumps.
func (s *chatService) runExchange(ctx context.Context, in exchangeInput, stream *StreamCallbacks) (*dto.SendChatResponse, error) {
	started := s.now()

	history, err := s.loadHistory(ctx, in.session.Id, in.historyAt)
	if err != nil {
		return nil, err
	}

	transcript := make([]llm.Message, 0, len(history)+2)
	var priorUserTurns []string
	for _, msg := range history {
		transcript = append(transcript, llm.Message{Role: msg.Role, Content: msg.Content})
		if msg.Role == constant.RoleUser {
			priorUserTurns = append(priorUserTurns, msg.Content)
		}
	}
	if in.retry {
		// Marker turns are replayed in-memory only, never persisted.
		transcript = append(transcript, llm.Message{Role: constant.RoleUser, Content: in.question})
	} else if len(priorUserTurns) > 0 {
		priorUserTurns = priorUserTurns[:len(priorUserTurns)-1]
	}

	topics := dataset.DetectTopics(in.question, priorUserTurns)
	window := dataset.DefaultWindow(s.now())

	var queryCount, datasetChars int
	serialized, status, err := s.cache.GetOrSet(ctx,
		datasetNamespace(in.principal.ID),
		dataset.VariantKey(in.principal, window, topics),
		datasetTTL,
		func(ctx context.Context) ([]byte, error) {
			d, err := s.assembler.Build(ctx, in.principal, window, topics)
			if err != nil {
				return nil, err
			}
			queryCount = d.QueryCount
			return d.Serialized, nil
		})
	if err != nil {
		return nil, serverutils.NewInternalError("failed to build dataset", err)
	}
	datasetChars = len(serialized)

	currency := in.settings.Currency
	if currency == "" {
		currency = s.fallback.Currency
	}
	prompt := dataset.SystemPromptFor(serialized, in.settings.Language, currency, window)

	messages := append([]llm.Message{{Role: "system", Content: prompt}}, transcript...)

	result, err := s.generate(ctx, in.provider, in.session.Id, messages, stream)
	if err != nil {
		if errors.Is(err, llm.ErrAborted) {
			return nil, err
		}
		s.logger.Error("chat", "provider call failed", map[string]interface{}{
			"session_id": in.session.Id.String(),
			"error":      err.Error(),
		})
		return nil, serverutils.NewUpstreamError("assistant is unavailable", err)
	}

	reply := &entity.ChatMessage{
		Id:             result.messageId,
		ChatSessionId:  in.session.Id,
		Role:           constant.RoleAssistant,
		Content:        result.output.Text,
		ThoughtContent: result.output.ThoughtContent,
		CreatedAt:      in.replyAt,
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return nil, serverutils.NewInternalError("failed to start transaction", err)
	}
	if err := uow.ChatMessageRepository().Create(ctx, reply); err != nil {
		_ = uow.Rollback()
		return nil, serverutils.NewInternalError("failed to persist reply", err)
	}

	if in.autoTitle && in.session.Title == constant.PlaceholderTitle {
		in.session.Title = s.titleFor(ctx, in.provider, in.question)
	}
	// Save refreshes updated_at so listings order by recency.
	if err := uow.ChatSessionRepository().Update(ctx, in.session); err != nil {
		_ = uow.Rollback()
		return nil, serverutils.NewInternalError("failed to update session", err)
	}
	if err := uow.Commit(); err != nil {
		return nil, serverutils.NewInternalError("failed to commit", err)
	}

	s.bump(ctx, messagesNamespace(in.session.Id))
	s.bump(ctx, sessionsNamespace(in.principal.ID))

	if s.publisher != nil {
		s.publisher.PublishExchangeCompleted(&dto.ExchangeCompletedMessage{
			ChatSessionId: in.session.Id,
			UserId:        in.principal.ID,
			QuestionChars: len(in.question),
			AnswerChars:   len(reply.Content),
			ThoughtChars:  len(reply.ThoughtContent),
			DatasetChars:  datasetChars,
			QueryCount:    queryCount,
			CacheStatus:   string(status),
			DurationMs:    s.now().Sub(started).Milliseconds(),
		})
	}

	resp := &dto.SendChatResponse{
		ChatSessionId:    in.session.Id,
		ChatSessionTitle: in.session.Title,
		Reply: &dto.SendChatResponseChat{
			Id:             reply.Id,
			Role:           reply.Role,
			Content:        reply.Content,
			ThoughtContent: reply.ThoughtContent,
			CreatedAt:      reply.CreatedAt,
		},
	}
	if in.sent != nil {
		resp.Sent = &dto.SendChatResponseChat{
			Id:        in.sent.Id,
			Role:      in.sent.Role,
			Content:   in.sent.Content,
			CreatedAt: in.sent.CreatedAt,
		}
	}
	return resp, nil
}

type generated struct {
	messageId uuid.UUID
	output    *llm.Result
}

// generate runs the provider call, streaming when callbacks are supplied.
// A failed downstream write cancels the upstream read.
func (s *chatService) generate(ctx context.Context, provider llm.Provider, sessionId uuid.UUID, messages []llm.Message, stream *StreamCallbacks) (*generated, error) {
	messageId := uuid.New()

	if stream == nil {
		out, err := provider.Generate(ctx, messages)
		if err != nil {
			return nil, err
		}
		return &generated{messageId: messageId, output: out}, nil
	}

	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if stream.OnStart != nil {
		if err := stream.OnStart(sessionId, messageId); err != nil {
			return nil, llm.ErrAborted
		}
	}

	handler := llm.StreamHandler{
		OnThoughtDelta: func(delta string) {
			if stream.OnThoughtDelta != nil && stream.OnThoughtDelta(delta) != nil {
				cancel()
			}
		},
		OnThoughtDone: func() {
			if stream.OnThoughtDone != nil && stream.OnThoughtDone() != nil {
				cancel()
			}
		},
		OnAnswerDelta: func(delta string) {
			if stream.OnAnswerDelta != nil && stream.OnAnswerDelta(delta) != nil {
				cancel()
			}
		},
	}

	out, err := provider.GenerateStream(genCtx, messages, handler)
	if err != nil {
		return nil, err
	}
	return &generated{messageId: messageId, output: out}, nil
}

func (s *chatService) loadHistory(ctx context.Context, sessionId uuid.UUID, until *time.Time) ([]*entity.ChatMessage, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	specs := []specification.Specification{
		specification.ByChatSessionID{ChatSessionID: sessionId},
		specification.OrderBy{Field: "created_at", Desc: true},
		specification.Pagination{Limit: constant.HistoryTurns},
	}
	if until != nil {
		specs = append(specs, specification.CreatedBefore{Timestamp: until.Add(time.Millisecond)})
	}
	messages, err := uow.ChatMessageRepository().FindAll(ctx, specs...)
	if err != nil {
		return nil, serverutils.NewInternalError("failed to load history", err)
	}
	// Reverse into chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// titleFor asks the provider for a short title and falls back to a cleaned-up
// version of the question.
func (s *chatService) titleFor(ctx context.Context, provider llm.Provider, question string) string {
	titleCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := provider.Generate(titleCtx, []llm.Message{
		{Role: constant.RoleUser, Content: fmt.Sprintf(constant.TitlePrompt, question)},
	}, llm.WithMaxTokens(32))
	if err == nil {
		if title := truncateTitle(strings.Trim(strings.TrimSpace(out.Text), `"'`)); title != "" {
			return title
		}
	}
	return heuristicTitle(question)
}

var titleSpaces = regexp.MustCompile(`\s+`)

func heuristicTitle(question string) string {
	title := titleSpaces.ReplaceAllString(strings.TrimSpace(question), " ")
	title = strings.TrimRight(title, "?!.,;: ")
	if title == "" {
		return constant.PlaceholderTitle
	}
	return truncateTitle(title)
}

func truncateTitle(title string) string {
	runes := []rune(title)
	if len(runes) <= constant.MaxTitleLength {
		return title
	}
	return string(runes[:constant.MaxTitleLength-1]) + "…"
}

func validQuestion(question string) error {
	if question == "" {
		return serverutils.NewBadRequestError("message must not be empty")
	}
	if utf8.RuneCountInString(question) > constant.MaxQuestionChars {
		return serverutils.NewBadRequestError(fmt.Sprintf("message exceeds %d characters", constant.MaxQuestionChars))
	}
	return nil
}

func splitRetryMarker(message string) (question string, retry bool) {
	trimmed := strings.TrimSpace(message)
	if strings.HasPrefix(trimmed, constant.RetryMarker) {
		return strings.TrimSpace(strings.TrimPrefix(trimmed, constant.RetryMarker)), true
	}
	return trimmed, false
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > constant.MaxPageSize {
		return constant.MaxPageSize
	}
	return limit
}

func (s *chatService) bump(ctx context.Context, namespace string) {
	if err := s.cache.Bump(ctx, namespace); err != nil {
		s.logger.Warn("cache", "namespace bump failed", map[string]interface{}{
			"namespace": namespace,
			"error":     err.Error(),
		})
	}
}

// Dataset debug

func (s *chatService) DatasetDebug(ctx context.Context, userId uuid.UUID, sections []string) (*dto.DatasetDebugResponse, error) {
	_, principal, err := s.gate(ctx, userId)
	if err != nil {
		return nil, err
	}

	var requested []string
	if len(sections) > 0 {
		requested = sections
	}
	window := dataset.DefaultWindow(s.now())

	var queryCount int
	serialized, status, err := s.cache.GetOrSet(ctx,
		datasetNamespace(principal.ID),
		dataset.VariantKey(principal, window, requested),
		datasetTTL,
		func(ctx context.Context) ([]byte, error) {
			d, err := s.assembler.Build(ctx, principal, window, requested)
			if err != nil {
				return nil, err
			}
			queryCount = d.QueryCount
			return d.Serialized, nil
		})
	if err != nil {
		return nil, serverutils.NewInternalError("failed to build dataset", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(serialized, &doc); err != nil {
		return nil, serverutils.NewInternalError("corrupt dataset", err)
	}

	return &dto.DatasetDebugResponse{
		Meta:        doc["meta"],
		QueryCount:  queryCount,
		CacheStatus: string(status),
		CharCount:   len(serialized),
	}, nil
}
