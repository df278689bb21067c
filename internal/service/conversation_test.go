package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"cad-copilot/backend/internal/geometry"
	"cad-copilot/backend/internal/llm"
	"cad-copilot/backend/internal/models"
	"cad-copilot/backend/internal/orchestrator"
	"cad-copilot/backend/internal/repository"
	"cad-copilot/backend/internal/sandbox"
	"cad-copilot/backend/internal/session"
	"cad-copilot/backend/pkg/secrets"
	"cad-copilot/backend/shared/redis"
)

type scriptedModel struct {
	reply string
	err   error
	calls int
}

func (m *scriptedModel) Send(context.Context, []models.Message, string) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return m.reply, nil
}

type okEvaluator struct{}

func (okEvaluator) Evaluate(context.Context, string) (*sandbox.Result, error) {
	return &sandbox.Result{Geometries: []geometry.Geometry{{}}}, nil
}

type fixture struct {
	svc    *ConversationService
	repo   *repository.SessionRepository
	model  *scriptedModel
	locker *session.MemoryLocker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	repo := repository.NewSessionRepository(db)
	require.NoError(t, repo.Migrate())

	model := &scriptedModel{reply: cubeReply}
	locker := session.NewMemoryLocker()
	return &fixture{svc: newService(repo, locker, model), repo: repo, model: model, locker: locker}
}

const cubeReply = "```javascript\nfunction main() { return jscad.primitives.cube() }\n```"

func newService(repo *repository.SessionRepository, locker session.Locker, model *scriptedModel) *ConversationService {
	orch := orchestrator.New(model, okEvaluator{}, orchestrator.Options{})
	registry := llm.NewRegistry("claude-3.5", llm.DefaultModels,
		llm.NewAnthropicClient("http://127.0.0.1:1", time.Second),
		llm.NewOpenAIClient("http://127.0.0.1:1", time.Second))
	return NewConversationService(repo, orch, locker, registry, secrets.NewStore(nil, nil),
		Defaults{AutoRetry: true, MaxRetryCount: 4, MaxMessages: 100}, nil)
}

func TestCreateAndSend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.CreateSession(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "claude-3.5", sess.Model)
	assert.True(t, sess.AutoRetry)

	res, err := f.svc.Send(ctx, sess.ID, orchestrator.Input{Text: "a cube"})
	require.NoError(t, err)
	assert.Equal(t, orchestrator.OutcomeSuccess, res.Result.Outcome)
	assert.Len(t, res.Messages, 3)

	stored, err := f.repo.LoadLog(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Messages, stored)
}

func TestCreateSessionUnknownModel(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateSession(context.Background(), "gemini-1.5-pro")
	assert.ErrorIs(t, err, llm.ErrUnknownModel)
}

func TestSendWhileBusy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.CreateSession(ctx, "")
	require.NoError(t, err)

	release, err := f.locker.TryLock(ctx, sess.ID)
	require.NoError(t, err)
	defer release()

	_, err = f.svc.Send(ctx, sess.ID, orchestrator.Input{Text: "a cube"})
	assert.ErrorIs(t, err, session.ErrBusy)
	_, err = f.svc.DeleteMessage(ctx, sess.ID, 0)
	assert.ErrorIs(t, err, session.ErrBusy)
	assert.Zero(t, f.model.calls)
}

func TestProviderFailurePersistsInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.CreateSession(ctx, "")
	require.NoError(t, err)

	f.model.err = &llm.MissingCredentialError{Provider: llm.ProviderAnthropic}
	res, err := f.svc.Send(ctx, sess.ID, orchestrator.Input{Text: "a cube"})
	var missing *llm.MissingCredentialError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, orchestrator.OutcomeProviderError, res.Result.Outcome)

	msgs, err := f.svc.Messages(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestEditOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.CreateSession(ctx, "")
	require.NoError(t, err)
	_, err = f.svc.Send(ctx, sess.ID, orchestrator.Input{Text: "a cube"})
	require.NoError(t, err)

	text := "a bigger cube"
	msgs, err := f.svc.UpdateMessage(ctx, sess.ID, 0, MessageEdit{Text: &text})
	require.NoError(t, err)
	assert.Equal(t, "a bigger cube", msgs[0].Text)

	_, err = f.svc.UpdateMessage(ctx, sess.ID, 2, MessageEdit{Text: &text})
	assert.ErrorIs(t, err, ErrInvalidMessage, "model results are not editable")

	msgs, err = f.svc.SetVisibility(ctx, sess.ID, 0, true)
	require.NoError(t, err)
	assert.True(t, msgs[0].Hidden)

	msgs, err = f.svc.DeleteMessage(ctx, sess.ID, 2)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	_, err = f.svc.DeleteMessage(ctx, sess.ID, 9)
	assert.ErrorIs(t, err, session.ErrIndexOutOfRange)
}

func TestRerunAndRunCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.CreateSession(ctx, "")
	require.NoError(t, err)
	_, err = f.svc.Send(ctx, sess.ID, orchestrator.Input{Text: "a cube"})
	require.NoError(t, err)

	res, err := f.svc.Rerun(ctx, sess.ID, 0)
	require.NoError(t, err)
	assert.Len(t, res.Messages, 3)
	assert.Equal(t, 2, f.model.calls)

	res, err = f.svc.RunCode(ctx, sess.ID, 1, "return jscad.primitives.sphere()")
	require.NoError(t, err)
	assert.Equal(t, "return jscad.primitives.sphere()", res.Messages[1].Text)
	assert.Equal(t, 2, f.model.calls)
}

func TestUpdateSettings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.CreateSession(ctx, "")
	require.NoError(t, err)

	off, two, model := false, 2, "gpt-4o"
	updated, err := f.svc.UpdateSettings(ctx, sess.ID, Settings{Model: &model, AutoRetry: &off, MaxRetryCount: &two})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", updated.Model)
	assert.False(t, updated.AutoRetry)
	assert.Equal(t, 2, updated.MaxRetryCount)

	bad := -1
	_, err = f.svc.UpdateSettings(ctx, sess.ID, Settings{MaxRetryCount: &bad})
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestSetAPIKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	provider, err := f.svc.SetAPIKey(ctx, "", "sk-ant-api03-test")
	require.NoError(t, err)
	assert.Equal(t, llm.ProviderAnthropic, provider)

	status := f.svc.CredentialStatus(ctx)
	assert.True(t, status[llm.ProviderAnthropic])
	_, hasGemini := status[llm.ProviderGemini]
	assert.False(t, hasGemini)

	_, err = f.svc.SetAPIKey(ctx, "", "???")
	assert.ErrorIs(t, err, ErrInvalidMessage)
	_, err = f.svc.SetAPIKey(ctx, llm.ProviderGemini, "AIza")
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestDeleteSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.CreateSession(ctx, "")
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteSession(ctx, sess.ID))
	_, err = f.svc.Messages(ctx, sess.ID)
	assert.ErrorIs(t, err, repository.ErrSessionNotFound)
}

func TestReplicasShareOneLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mr := miniredis.RunT(t)
	client := redis.NewFromAddr(mr.Addr())
	t.Cleanup(func() { _ = client.Close() })
	locker := session.NewRedisLocker(client, time.Minute, nil)

	a := newService(f.repo, locker, &scriptedModel{reply: cubeReply})
	b := newService(f.repo, locker, &scriptedModel{reply: cubeReply})

	sess, err := a.CreateSession(ctx, "")
	require.NoError(t, err)
	_, err = a.Send(ctx, sess.ID, orchestrator.Input{Text: "a cube"})
	require.NoError(t, err)

	res, err := b.Send(ctx, sess.ID, orchestrator.Input{Text: "make it red"})
	require.NoError(t, err)
	require.Len(t, res.Messages, 6)

	res, err = a.Send(ctx, sess.ID, orchestrator.Input{Text: "now a sphere"})
	require.NoError(t, err)
	require.Len(t, res.Messages, 9)
	assert.Equal(t, "make it red", res.Messages[3].Text)

	fromB, err := b.Messages(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Messages, fromB)

	msgs, err := b.DeleteMessage(ctx, sess.ID, 8)
	require.NoError(t, err)
	fromA, err := a.Messages(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, msgs, fromA)
}
