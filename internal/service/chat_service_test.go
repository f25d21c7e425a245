package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"business-copilot-be/internal/constant"
	"business-copilot-be/internal/dto"
	"business-copilot-be/internal/model"
	"business-copilot-be/internal/pkg/serverutils"
	"business-copilot-be/internal/repository/unitofwork"
	"business-copilot-be/pkg/cache"
	"business-copilot-be/pkg/dataset"
	"business-copilot-be/pkg/llm"
	"business-copilot-be/pkg/permission"
)

var serviceDDL = []string{
	`CREATE TABLE chat_sessions (id TEXT PRIMARY KEY, user_id TEXT, title TEXT, archived BOOLEAN DEFAULT 0, created_at DATETIME, updated_at DATETIME, deleted_at DATETIME)`,
	`CREATE TABLE chat_messages (id TEXT PRIMARY KEY, chat_session_id TEXT, role TEXT, content TEXT, thought_content TEXT, created_at DATETIME, updated_at DATETIME, deleted_at DATETIME)`,
	`CREATE TABLE app_settings (key TEXT PRIMARY KEY, value TEXT, updated_at DATETIME)`,
	`CREATE TABLE user_capabilities (user_id TEXT, capability TEXT)`,
	`CREATE TABLE user_managers (manager_id TEXT, user_id TEXT)`,
	`CREATE TABLE timesheets (id TEXT PRIMARY KEY, user_id TEXT, project_id TEXT, date DATETIME, hours REAL, note TEXT)`,
	`CREATE TABLE projects (id TEXT PRIMARY KEY, client_id TEXT, name TEXT, status TEXT, manager_id TEXT, created_at DATETIME)`,
	`CREATE TABLE clients (id TEXT PRIMARY KEY, name TEXT, address TEXT, created_at DATETIME)`,
}

// fakeProvider scripts the provider behavior for one exchange.
type fakeProvider struct {
	thought      string
	answerDeltas []string
	titleText    string
	failMid      bool

	lastMessages []llm.Message
}

func (f *fakeProvider) GenerateStream(ctx context.Context, history []llm.Message, handler llm.StreamHandler, options ...llm.Option) (*llm.Result, error) {
	f.lastMessages = history

	if f.thought != "" && handler.OnThoughtDelta != nil {
		handler.OnThoughtDelta(f.thought)
	}

	var answer strings.Builder
	for i, delta := range f.answerDeltas {
		if ctx.Err() != nil {
			return nil, llm.ErrAborted
		}
		if i == 0 && handler.OnThoughtDone != nil {
			handler.OnThoughtDone()
		}
		if handler.OnAnswerDelta != nil {
			handler.OnAnswerDelta(delta)
		}
		answer.WriteString(delta)
		if f.failMid && i == 0 {
			return nil, errors.New("upstream socket closed")
		}
	}
	if ctx.Err() != nil {
		return nil, llm.ErrAborted
	}
	return &llm.Result{Text: answer.String(), ThoughtContent: f.thought}, nil
}

func (f *fakeProvider) Generate(ctx context.Context, history []llm.Message, options ...llm.Option) (*llm.Result, error) {
	if len(history) > 0 && strings.Contains(history[0].Content, "conversation title") {
		return &llm.Result{Text: f.titleText}, nil
	}
	f.lastMessages = history
	if f.failMid {
		return nil, errors.New("upstream socket closed")
	}
	return &llm.Result{Text: strings.Join(f.answerDeltas, ""), ThoughtContent: f.thought}, nil
}

type nopLogger struct{}

func (nopLogger) Debug(string, string, map[string]interface{}) {}
func (nopLogger) Info(string, string, map[string]interface{})  {}
func (nopLogger) Warn(string, string, map[string]interface{})  {}
func (nopLogger) Error(string, string, map[string]interface{}) {}
func (nopLogger) Sync() error                                  { return nil }

type fixture struct {
	db       *gorm.DB
	store    *cache.MemoryStore
	provider *fakeProvider
	svc      *chatService
	userId   uuid.UUID
	clock    *fakeClock
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	c.t = c.t.Add(10 * time.Millisecond)
	return c.t
}

func newFixture(t *testing.T, caps ...string) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	for _, ddl := range serviceDDL {
		require.NoError(t, db.Exec(ddl).Error)
	}

	userId := uuid.New()
	for _, c := range caps {
		require.NoError(t, db.Exec(`INSERT INTO user_capabilities (user_id, capability) VALUES (?, ?)`, userId, c).Error)
	}
	require.NoError(t, db.Exec(
		`INSERT INTO app_settings (key, value, updated_at) VALUES (?, ?, ?)`,
		constant.SettingKeyCopilot,
		`{"enabled":true,"provider":"openai","apiKey":"test-key","model":"test-model","currency":"EUR","language":"en"}`,
		time.Now(),
	).Error)

	store := cache.NewMemoryStore()
	provider := &fakeProvider{
		answerDeltas: []string{"You logged ", "14.5 hours."},
		titleText:    "Hours logged",
	}
	clock := &fakeClock{t: time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)}

	svc := &chatService{
		uowFactory: unitofwork.NewRepositoryFactory(db),
		oracle:     permission.NewGormOracle(db),
		assembler:  dataset.NewAssembler(db, "EUR"),
		cache:      cache.New(store),
		logger:     nopLogger{},
		providerFor: func(*dto.CopilotSettings) (llm.Provider, error) {
			return provider, nil
		},
		fallback: dto.CopilotSettings{Currency: "EUR", Language: "en"},
		now:      clock.Now,
	}

	return &fixture{db: db, store: store, provider: provider, svc: svc, userId: userId, clock: clock}
}

func (f *fixture) seedTimesheet(t *testing.T, hours float64) {
	t.Helper()
	clientID, projectID := uuid.New(), uuid.New()
	require.NoError(t, f.db.Exec(
		`INSERT INTO clients (id, name, address, created_at) VALUES (?, ?, ?, ?)`,
		clientID, "Acme", "Via Roma 1", f.clock.t.AddDate(0, -3, 0),
	).Error)
	require.NoError(t, f.db.Exec(
		`INSERT INTO projects (id, client_id, name, status, manager_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		projectID, clientID, "Rollout", "active", uuid.New(), f.clock.t.AddDate(0, -3, 0),
	).Error)
	require.NoError(t, f.db.Exec(
		`INSERT INTO timesheets (id, user_id, project_id, date, hours, note) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New(), f.userId, projectID, f.clock.t.AddDate(0, -1, 0), hours, "worked",
	).Error)
}

func (f *fixture) messageRows(t *testing.T, sessionId uuid.UUID) []model.ChatMessage {
	t.Helper()
	var rows []model.ChatMessage
	require.NoError(t, f.db.Where("chat_session_id = ?", sessionId).Order("created_at ASC").Find(&rows).Error)
	return rows
}

func TestSendChatSelfScopedTimesheets(t *testing.T) {
	f := newFixture(t, permission.CapChatUse, permission.CapTimesheetsView)
	f.seedTimesheet(t, 14.5)

	res, err := f.svc.SendChat(context.Background(), f.userId, &dto.SendChatRequest{
		Message: "How many hours did I log this month?",
	}, nil)
	require.NoError(t, err)
	require.NotNil(t, res.Reply)
	assert.Equal(t, "You logged 14.5 hours.", res.Reply.Content)

	// Auto-title replaced the placeholder after the first exchange.
	assert.Equal(t, "Hours logged", res.ChatSessionTitle)

	rows := f.messageRows(t, res.ChatSessionId)
	require.Len(t, rows, 2)
	assert.Equal(t, constant.RoleUser, rows[0].Role)
	assert.Equal(t, constant.RoleAssistant, rows[1].Role)

	// The question is about hours, so the dataset narrows to timesheets and
	// never includes sections the principal cannot see.
	require.NotEmpty(t, f.provider.lastMessages)
	sysPrompt := f.provider.lastMessages[0].Content
	assert.Contains(t, sysPrompt, `"timesheets"`)
	assert.Contains(t, sysPrompt, `"totalHours"`)
	assert.NotContains(t, sysPrompt, `"invoices"`)
	assert.NotContains(t, sysPrompt, `"clients"`)
}

func TestSendChatCancellationPersistsNothing(t *testing.T) {
	f := newFixture(t, permission.CapChatUse, permission.CapTimesheetsView)
	f.seedTimesheet(t, 8)

	// The first downstream write fails, which must cancel the upstream read.
	callbacks := &StreamCallbacks{
		OnStart: func(uuid.UUID, uuid.UUID) error { return nil },
		OnAnswerDelta: func(string) error {
			return errors.New("client went away")
		},
	}

	res, err := f.svc.SendChat(context.Background(), f.userId, &dto.SendChatRequest{
		Message: "How many hours did I log?",
	}, callbacks)
	require.ErrorIs(t, err, llm.ErrAborted)
	assert.Nil(t, res)

	// The user message survives; no assistant message was persisted.
	var sessions []model.ChatSession
	require.NoError(t, f.db.Find(&sessions).Error)
	require.Len(t, sessions, 1)
	rows := f.messageRows(t, sessions[0].Id)
	require.Len(t, rows, 1)
	assert.Equal(t, constant.RoleUser, rows[0].Role)

	// Only the user-message insert bumped the namespaces.
	version, err := f.store.Version(context.Background(), messagesNamespace(sessions[0].Id))
	require.NoError(t, err)
	assert.EqualValues(t, 2, version) // 1 initial, +1 for the insert
}

func TestSendChatMidStreamFailureNotPersisted(t *testing.T) {
	f := newFixture(t, permission.CapChatUse, permission.CapTimesheetsView)
	f.seedTimesheet(t, 8)
	f.provider.failMid = true

	res, err := f.svc.SendChat(context.Background(), f.userId, &dto.SendChatRequest{
		Message: "How many hours did I log?",
	}, nil)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.False(t, errors.Is(err, llm.ErrAborted))

	var sessions []model.ChatSession
	require.NoError(t, f.db.Find(&sessions).Error)
	require.Len(t, sessions, 1)
	rows := f.messageRows(t, sessions[0].Id)
	require.Len(t, rows, 1) // user message only
}

func TestEditRegenerateOrdering(t *testing.T) {
	f := newFixture(t, permission.CapChatUse, permission.CapTimesheetsView)
	f.seedTimesheet(t, 8)

	base := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	sessionId := uuid.New()
	require.NoError(t, f.db.Exec(
		`INSERT INTO chat_sessions (id, user_id, title, archived, created_at, updated_at) VALUES (?, ?, ?, 0, ?, ?)`,
		sessionId, f.userId, "Hours", base, base,
	).Error)

	u1 := uuid.New()
	a1 := uuid.New()
	u2 := uuid.New()
	a2 := uuid.New()
	seed := []struct {
		id   uuid.UUID
		role string
		text string
		at   time.Time
	}{
		{u1, constant.RoleUser, "How many hours in May?", base},
		{a1, constant.RoleAssistant, "40 hours.", base.Add(5 * time.Second)},
		{u2, constant.RoleUser, "And in June?", base.Add(60 * time.Second)},
		{a2, constant.RoleAssistant, "12 hours.", base.Add(65 * time.Second)},
	}
	for _, m := range seed {
		require.NoError(t, f.db.Exec(
			`INSERT INTO chat_messages (id, chat_session_id, role, content, thought_content, created_at, updated_at) VALUES (?, ?, ?, ?, '', ?, ?)`,
			m.id, sessionId, m.role, m.text, m.at, m.at,
		).Error)
	}

	f.provider.answerDeltas = []string{"42 hours."}
	res, err := f.svc.EditMessage(context.Background(), f.userId, u1, &dto.EditMessageRequest{
		Message: "How many billable hours in May?",
	}, nil)
	require.NoError(t, err)

	rows := f.messageRows(t, sessionId)
	require.Len(t, rows, 4)

	// Edited content in place, old reply gone, new reply at editedAt+1s,
	// later turns untouched and still ordered after it.
	assert.Equal(t, u1, rows[0].Id)
	assert.Equal(t, "How many billable hours in May?", rows[0].Content)

	assert.Equal(t, res.Reply.Id, rows[1].Id)
	assert.Equal(t, constant.RoleAssistant, rows[1].Role)
	assert.Equal(t, "42 hours.", rows[1].Content)
	assert.Equal(t, base.Add(time.Second).UTC(), rows[1].CreatedAt.UTC())

	assert.Equal(t, u2, rows[2].Id)
	assert.Equal(t, a2, rows[3].Id)

	for _, row := range rows {
		assert.NotEqual(t, a1, row.Id)
	}
}

func TestArchiveRejectsNewMessages(t *testing.T) {
	f := newFixture(t, permission.CapChatUse, permission.CapTimesheetsView)
	f.seedTimesheet(t, 8)

	created, err := f.svc.CreateSession(context.Background(), f.userId)
	require.NoError(t, err)
	require.NoError(t, f.svc.ArchiveSession(context.Background(), f.userId, created.Id))

	_, err = f.svc.SendChat(context.Background(), f.userId, &dto.SendChatRequest{
		ChatSessionId: &created.Id,
		Message:       "Still there?",
	}, nil)
	require.Error(t, err)
	var appErr *serverutils.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 409, appErr.Code)

	// Archived sessions drop out of listings.
	sessions, err := f.svc.GetAllSessions(context.Background(), f.userId, 0)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestRetryMarkerNotPersisted(t *testing.T) {
	f := newFixture(t, permission.CapChatUse, permission.CapTimesheetsView)
	f.seedTimesheet(t, 8)

	first, err := f.svc.SendChat(context.Background(), f.userId, &dto.SendChatRequest{
		Message: "How many hours did I log?",
	}, nil)
	require.NoError(t, err)

	f.provider.answerDeltas = []string{"Second answer."}
	retryRes, err := f.svc.SendChat(context.Background(), f.userId, &dto.SendChatRequest{
		ChatSessionId: &first.ChatSessionId,
		Message:       constant.RetryMarker + " How many hours did I log?",
	}, nil)
	require.NoError(t, err)
	assert.Nil(t, retryRes.Sent)

	rows := f.messageRows(t, first.ChatSessionId)
	var users, assistants int
	for _, row := range rows {
		switch row.Role {
		case constant.RoleUser:
			users++
		case constant.RoleAssistant:
			assistants++
		}
	}
	assert.Equal(t, 1, users) // the marker turn was replayed, not stored
	assert.Equal(t, 2, assistants)

	// The replayed transcript still ends with the retried question.
	last := f.provider.lastMessages[len(f.provider.lastMessages)-1]
	assert.Equal(t, constant.RoleUser, last.Role)
	assert.Equal(t, "How many hours did I log?", last.Content)
}

func TestMissingCapabilityForbidden(t *testing.T) {
	f := newFixture(t) // no capabilities at all

	_, err := f.svc.SendChat(context.Background(), f.userId, &dto.SendChatRequest{
		Message: "hello",
	}, nil)
	require.Error(t, err)
	var appErr *serverutils.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 403, appErr.Code)
}

func TestPrepareSendMapsFailuresBeforeStreaming(t *testing.T) {
	f := newFixture(t, permission.CapChatUse, permission.CapTimesheetsView)
	f.seedTimesheet(t, 8)

	created, err := f.svc.CreateSession(context.Background(), f.userId)
	require.NoError(t, err)
	require.NoError(t, f.svc.ArchiveSession(context.Background(), f.userId, created.Id))

	// The prepare phase surfaces validation failures as plain errors, so the
	// transport can return a status instead of an in-band stream event.
	pending, err := f.svc.PrepareSend(context.Background(), f.userId, &dto.SendChatRequest{
		ChatSessionId: &created.Id,
		Message:       "Still there?",
	})
	require.Error(t, err)
	assert.Nil(t, pending)
	var appErr *serverutils.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 409, appErr.Code)

	missing := uuid.New()
	_, err = f.svc.PrepareSend(context.Background(), f.userId, &dto.SendChatRequest{
		ChatSessionId: &missing,
		Message:       "Anyone home?",
	})
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 404, appErr.Code)
}

func TestPreparedExchangeStreams(t *testing.T) {
	f := newFixture(t, permission.CapChatUse, permission.CapTimesheetsView)
	f.seedTimesheet(t, 14.5)

	pending, err := f.svc.PrepareSend(context.Background(), f.userId, &dto.SendChatRequest{
		Message: "How many hours did I log?",
	})
	require.NoError(t, err)
	require.NotNil(t, pending)

	var started bool
	var deltas []string
	callbacks := &StreamCallbacks{
		OnStart:       func(uuid.UUID, uuid.UUID) error { started = true; return nil },
		OnAnswerDelta: func(d string) error { deltas = append(deltas, d); return nil },
	}

	res, err := f.svc.CompleteExchange(context.Background(), pending, callbacks)
	require.NoError(t, err)
	assert.True(t, started)
	assert.Equal(t, []string{"You logged ", "14.5 hours."}, deltas)
	assert.Equal(t, "You logged 14.5 hours.", res.Reply.Content)
}

func TestOverlongQuestionRejected(t *testing.T) {
	f := newFixture(t, permission.CapChatUse, permission.CapTimesheetsView)

	long := strings.Repeat("a", constant.MaxQuestionChars+1)
	_, err := f.svc.SendChat(context.Background(), f.userId, &dto.SendChatRequest{Message: long}, nil)
	require.Error(t, err)
	var appErr *serverutils.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 400, appErr.Code)

	// Nothing was persisted for the rejected turn.
	var sessions []model.ChatSession
	require.NoError(t, f.db.Find(&sessions).Error)
	assert.Empty(t, sessions)
}

func TestRetryIntoExistingSessionSkipsBumps(t *testing.T) {
	f := newFixture(t, permission.CapChatUse, permission.CapTimesheetsView)
	f.seedTimesheet(t, 8)

	first, err := f.svc.SendChat(context.Background(), f.userId, &dto.SendChatRequest{
		Message: "How many hours did I log?",
	}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	sessionsBefore, err := f.store.Version(ctx, sessionsNamespace(f.userId))
	require.NoError(t, err)
	messagesBefore, err := f.store.Version(ctx, messagesNamespace(first.ChatSessionId))
	require.NoError(t, err)

	// A retry turn commits nothing, so preparing it must leave cached
	// listings valid.
	pending, err := f.svc.PrepareSend(ctx, f.userId, &dto.SendChatRequest{
		ChatSessionId: &first.ChatSessionId,
		Message:       constant.RetryMarker + " How many hours did I log?",
	})
	require.NoError(t, err)
	require.NotNil(t, pending)

	sessionsAfter, err := f.store.Version(ctx, sessionsNamespace(f.userId))
	require.NoError(t, err)
	messagesAfter, err := f.store.Version(ctx, messagesNamespace(first.ChatSessionId))
	require.NoError(t, err)
	assert.Equal(t, sessionsBefore, sessionsAfter)
	assert.Equal(t, messagesBefore, messagesAfter)
}

func TestFeatureDisabledBadRequest(t *testing.T) {
	f := newFixture(t, permission.CapChatUse)
	require.NoError(t, f.db.Exec(
		`UPDATE app_settings SET value = ? WHERE key = ?`,
		`{"enabled":false,"provider":"openai","apiKey":"k","model":"m"}`,
		constant.SettingKeyCopilot,
	).Error)

	_, err := f.svc.SendChat(context.Background(), f.userId, &dto.SendChatRequest{
		Message: "hello",
	}, nil)
	require.Error(t, err)
	var appErr *serverutils.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 400, appErr.Code)
}
