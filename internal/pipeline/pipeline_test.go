package pipeline

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/InternetOfUs/app-survey/internal/common/clock"
	"github.com/InternetOfUs/app-survey/internal/common/errors"
	"github.com/InternetOfUs/app-survey/internal/common/logger"
	"github.com/InternetOfUs/app-survey/internal/ledger"
	"github.com/InternetOfUs/app-survey/internal/models"
	"github.com/InternetOfUs/app-survey/internal/queue"
	"github.com/InternetOfUs/app-survey/internal/rules"
)

const subject = "35"

var start = time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)

// fakeGateway keeps one remote profile in memory and fails the writes listed in failWrites.
type fakeGateway struct {
	mu         sync.Mutex
	profile    *models.Profile
	failWrites map[string]error
	failReads  error
	writes     []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		profile:    (&models.Profile{ID: subject}).Clone(),
		failWrites: map[string]error{},
	}
}

func (g *fakeGateway) GetProfile(_ context.Context, _ string) (*models.Profile, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failReads != nil {
		return nil, g.failReads
	}
	p := g.profile.Clone()
	p.Competences, p.Meanings, p.Materials = nil, nil, nil
	return p, nil
}

func (g *fakeGateway) GetEntries(_ context.Context, _ string, list models.ProfileList) ([]models.ProfileEntry, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.profile.Clone().Entries(list), nil
}

func (g *fakeGateway) UpdateProfile(_ context.Context, _ string, profile *models.Profile) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.writes = append(g.writes, "profile")
	if err := g.failWrites["profile"]; err != nil {
		return err
	}
	next := profile.Clone()
	next.Competences, next.Meanings, next.Materials = g.profile.Competences, g.profile.Meanings, g.profile.Materials
	g.profile = next
	return nil
}

func (g *fakeGateway) UpdateEntries(_ context.Context, _ string, list models.ProfileList, entries []models.ProfileEntry) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.writes = append(g.writes, string(list))
	if err := g.failWrites[string(list)]; err != nil {
		return err
	}
	return g.profile.SetEntries(list, entries)
}

func (g *fakeGateway) Writes() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.writes...)
}

type MockNotifier struct{ mock.Mock }

func (m *MockNotifier) NotifyExhausted(ctx context.Context, rec models.FailedUpdateRecord) error {
	return m.Called(ctx, rec).Error(0)
}

type MockAuditor struct{ mock.Mock }

func (m *MockAuditor) RecordUpdate(ctx context.Context, result *Result, at time.Time) error {
	return m.Called(ctx, result, at).Error(0)
}

type recordingQueue struct {
	tasks  []queue.Task
	reject map[string]bool
}

func (q *recordingQueue) Enqueue(_ context.Context, task queue.Task) (string, error) {
	if q.reject[task.SubjectID] {
		return "", queue.ErrQueueFull
	}
	q.tasks = append(q.tasks, task)
	return task.ID, nil
}

func testManager() *rules.Manager {
	return rules.NewManager([]rules.Rule{
		&rules.MappingRule{QuestionCode: "Q01", Attribute: "gender", Mapping: map[string]interface{}{"02": "F"}},
		&rules.NormalizedNumberRule{QuestionCode: "Q06a", Name: "c_food", Grouping: "interest", List: models.ListCompetences, Floor: 1, Ceiling: 5},
		&rules.NormalizedNumberRule{QuestionCode: "Q07a", Name: "m_help", Grouping: "values", List: models.ListMeanings, Floor: 1, Ceiling: 5},
		&rules.MaterialFieldRule{QuestionCode: "Q05", Name: "department", Classification: "degree"},
	}, nil)
}

func testAnswer() *models.SurveyAnswer {
	return models.NewSurveyAnswer(subject,
		models.NewSingleChoiceAnswer("Q01", "02"),
		models.NewNumberAnswer("Q06a", 5),
		models.NewNumberAnswer("Q07a", 3),
		models.NewSingleChoiceAnswer("Q05", "Physics"),
	)
}

func newFixture(t *testing.T) (*Service, *fakeGateway, *ledger.MemoryStore, *clock.Fake) {
	t.Helper()
	gw := newFakeGateway()
	store := ledger.NewMemoryStore()
	clk := clock.NewFake(start)
	orch := NewOrchestrator(gw, testManager(), OrchestratorOptions{Clock: clk}, nil)
	svc := NewService(orch, store, ServiceOptions{MaxRetries: 3, Clock: clk}, nil)
	return svc, gw, store, clk
}

func denied(list string) error {
	return errors.NewAuthorizationDeniedError(list, "403")
}

func apiFailure(list string) error {
	return errors.NewProfileAPIError(list, 500, "boom", nil)
}

// ==========================
// Orchestrator
// ==========================

func TestUpdate_WritesEveryStepInOrder(t *testing.T) {
	gw := newFakeGateway()
	clk := clock.NewFake(start)
	orch := NewOrchestrator(gw, testManager(), OrchestratorOptions{Pacing: time.Second, Clock: clk}, nil)

	result, err := orch.Update(context.Background(), testAnswer())
	require.NoError(t, err)

	assert.Equal(t, []string{"profile", "competences", "meanings", "materials"}, gw.Writes())
	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second}, clk.Sleeps())
	for _, step := range []string{"profile", "competences", "meanings", "materials"} {
		assert.Equal(t, Written, result.Outcome(step), step)
	}

	require.NotNil(t, result.Profile)
	assert.Equal(t, "F", result.Profile.Gender)
	assert.Len(t, result.Profile.Competences, 1)
	assert.Len(t, result.Profile.Meanings, 1)
	assert.Len(t, result.Profile.Materials, 1)
}

func TestUpdate_ToleratesDeniedListWrite(t *testing.T) {
	gw := newFakeGateway()
	gw.failWrites["competences"] = denied("competences")
	log, logs := logger.NewObserved()
	orch := NewOrchestrator(gw, testManager(), OrchestratorOptions{Clock: clock.NewFake(start)}, log)

	result, err := orch.Update(context.Background(), testAnswer())
	require.NoError(t, err)

	assert.Equal(t, []string{"profile", "competences", "meanings", "materials"}, gw.Writes())
	assert.Equal(t, Tolerated, result.Outcome("competences"))
	assert.Equal(t, Written, result.Outcome("meanings"))
	assert.Equal(t, Written, result.Outcome("materials"))
	assert.Empty(t, result.Profile.Competences)
	assert.Len(t, result.Profile.Meanings, 1)
	assert.Equal(t, 1, logs.FilterMessage("Write not authorized, continuing").Len())
}

func TestUpdate_FatalListWriteStopsTheChain(t *testing.T) {
	gw := newFakeGateway()
	gw.failWrites["meanings"] = apiFailure("meanings")
	orch := NewOrchestrator(gw, testManager(), OrchestratorOptions{Clock: clock.NewFake(start)}, nil)

	result, err := orch.Update(context.Background(), testAnswer())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeProfileAPIError))

	assert.Equal(t, []string{"profile", "competences", "meanings"}, gw.Writes())
	assert.Equal(t, Written, result.Outcome("competences"))
	assert.Equal(t, Failed, result.Outcome("meanings"))
	assert.Equal(t, Skipped, result.Outcome("materials"))
	assert.Nil(t, result.Profile)
}

func TestUpdate_DeniedProfileWriteIsFatal(t *testing.T) {
	gw := newFakeGateway()
	gw.failWrites["profile"] = denied("profile")
	orch := NewOrchestrator(gw, testManager(), OrchestratorOptions{Clock: clock.NewFake(start)}, nil)

	result, err := orch.Update(context.Background(), testAnswer())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeAuthorizationDenied))
	assert.Equal(t, []string{"profile"}, gw.Writes())
	assert.Equal(t, Skipped, result.Outcome("competences"))
}

func TestUpdate_FetchFailure(t *testing.T) {
	gw := newFakeGateway()
	gw.failReads = errors.NewTokenExpiredError("401", nil)
	orch := NewOrchestrator(gw, testManager(), OrchestratorOptions{Clock: clock.NewFake(start)}, nil)

	result, err := orch.Update(context.Background(), testAnswer())
	assert.Nil(t, result)
	assert.True(t, errors.IsCode(err, errors.ErrCodeTokenExpired))
	assert.Empty(t, gw.Writes())
}

// ==========================
// Fresh submit bookkeeping
// ==========================

func TestRunUpdate_SuccessRecordsLastUpdate(t *testing.T) {
	svc, _, store, _ := newFixture(t)
	auditor := &MockAuditor{}
	auditor.On("RecordUpdate", mock.Anything, mock.Anything, start).Return(nil)
	svc.auditor = auditor

	report, err := svc.RunUpdate(context.Background(), testAnswer())
	require.NoError(t, err)
	assert.True(t, report.Succeeded())

	last, err := store.GetLastSuccess(context.Background(), subject)
	require.NoError(t, err)
	assert.Equal(t, start, last.LastUpdateTime)

	_, err = store.GetFailure(context.Background(), subject)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	auditor.AssertExpectations(t)
}

func TestRunUpdate_FailureIsRecorded(t *testing.T) {
	svc, gw, store, _ := newFixture(t)
	gw.failWrites["profile"] = apiFailure("profile")
	answer := testAnswer()

	report, err := svc.RunUpdate(context.Background(), answer)
	require.NoError(t, err)
	assert.False(t, report.Succeeded())

	rec, err := store.GetFailure(context.Background(), subject)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.RetryCount)
	assert.Equal(t, start, rec.FailureTime)

	stored, err := models.DecodeSurveyAnswer(rec.RawSurveyAnswer)
	require.NoError(t, err)
	assert.Equal(t, answer.SubjectID, stored.SubjectID)
	assert.Len(t, stored.Answers, len(answer.Answers))
}

func TestRunUpdate_FreshFailureResetsRetryCount(t *testing.T) {
	svc, gw, store, _ := newFixture(t)
	require.NoError(t, store.UpsertFailure(context.Background(), models.FailedUpdateRecord{
		SubjectID: subject, RawSurveyAnswer: json.RawMessage(`{}`), FailureTime: start.Add(-time.Hour), RetryCount: 2,
	}))
	gw.failWrites["profile"] = apiFailure("profile")

	_, err := svc.RunUpdate(context.Background(), testAnswer())
	require.NoError(t, err)

	rec, err := store.GetFailure(context.Background(), subject)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.RetryCount)
}

func TestRunUpdate_TokenExpiryLogsAtWarn(t *testing.T) {
	gw := newFakeGateway()
	gw.failReads = errors.NewTokenExpiredError("401", nil)
	log, logs := logger.NewObserved()
	orch := NewOrchestrator(gw, testManager(), OrchestratorOptions{Clock: clock.NewFake(start)}, nil)
	svc := NewService(orch, ledger.NewMemoryStore(), ServiceOptions{Clock: clock.NewFake(start)}, log)

	_, err := svc.RunUpdate(context.Background(), testAnswer())
	require.NoError(t, err)

	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).FilterMessage("Profile update failed").Len())
	assert.Equal(t, 0, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}

func TestRunUpdate_AuditFailureDoesNotFailTheRun(t *testing.T) {
	svc, _, store, _ := newFixture(t)
	auditor := &MockAuditor{}
	auditor.On("RecordUpdate", mock.Anything, mock.Anything, mock.Anything).Return(stderrors.New("es down"))
	svc.auditor = auditor

	report, err := svc.RunUpdate(context.Background(), testAnswer())
	require.NoError(t, err)
	assert.True(t, report.Succeeded())

	_, err = store.GetLastSuccess(context.Background(), subject)
	assert.NoError(t, err)
}

// ==========================
// Recovery
// ==========================

func storeFailure(t *testing.T, store ledger.Store, at time.Time, retries int) {
	t.Helper()
	raw, err := testAnswer().Encode()
	require.NoError(t, err)
	require.NoError(t, store.UpsertFailure(context.Background(), models.FailedUpdateRecord{
		SubjectID: subject, RawSurveyAnswer: raw, FailureTime: at, RetryCount: retries,
	}))
}

func TestRecover_NoFailure(t *testing.T) {
	svc, gw, _, _ := newFixture(t)

	outcome, err := svc.Recover(context.Background(), subject)
	require.NoError(t, err)
	assert.Equal(t, NoFailure, outcome)
	assert.Empty(t, gw.Writes())
}

func TestRecover_StaleFailureIsDropped(t *testing.T) {
	svc, gw, store, _ := newFixture(t)
	storeFailure(t, store, start.Add(-2*time.Hour), 1)
	require.NoError(t, store.UpsertLastSuccess(context.Background(), models.LastSuccessRecord{
		SubjectID: subject, LastUpdateTime: start.Add(-time.Hour),
	}))

	outcome, err := svc.Recover(context.Background(), subject)
	require.NoError(t, err)
	assert.Equal(t, Stale, outcome)
	assert.Empty(t, gw.Writes())

	_, err = store.GetFailure(context.Background(), subject)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestRecover_OlderSuccessDoesNotMakeFailureStale(t *testing.T) {
	svc, gw, store, _ := newFixture(t)
	storeFailure(t, store, start.Add(-time.Hour), 0)
	require.NoError(t, store.UpsertLastSuccess(context.Background(), models.LastSuccessRecord{
		SubjectID: subject, LastUpdateTime: start.Add(-2 * time.Hour),
	}))

	outcome, err := svc.Recover(context.Background(), subject)
	require.NoError(t, err)
	assert.Equal(t, Recovered, outcome)
	assert.NotEmpty(t, gw.Writes())
}

func TestRecover_ExhaustedFailureIsDroppedAndReported(t *testing.T) {
	svc, gw, store, _ := newFixture(t)
	storeFailure(t, store, start.Add(-time.Hour), 3)
	notifier := &MockNotifier{}
	notifier.On("NotifyExhausted", mock.Anything, mock.MatchedBy(func(rec models.FailedUpdateRecord) bool {
		return rec.SubjectID == subject && rec.RetryCount == 3
	})).Return(nil)
	svc.notifier = notifier

	outcome, err := svc.Recover(context.Background(), subject)
	require.NoError(t, err)
	assert.Equal(t, Exhausted, outcome)
	assert.Empty(t, gw.Writes())

	_, err = store.GetFailure(context.Background(), subject)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	notifier.AssertExpectations(t)
}

func TestRecover_NotifierErrorIsNotFatal(t *testing.T) {
	svc, _, store, _ := newFixture(t)
	storeFailure(t, store, start.Add(-time.Hour), 5)
	notifier := &MockNotifier{}
	notifier.On("NotifyExhausted", mock.Anything, mock.Anything).Return(stderrors.New("sns down"))
	svc.notifier = notifier

	outcome, err := svc.Recover(context.Background(), subject)
	require.NoError(t, err)
	assert.Equal(t, Exhausted, outcome)
}

func TestRecover_Success(t *testing.T) {
	svc, gw, store, clk := newFixture(t)
	storeFailure(t, store, start.Add(-time.Hour), 1)
	clk.Set(start.Add(time.Hour))

	outcome, err := svc.Recover(context.Background(), subject)
	require.NoError(t, err)
	assert.Equal(t, Recovered, outcome)
	assert.Equal(t, "F", gw.profile.Gender)

	_, err = store.GetFailure(context.Background(), subject)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	last, err := store.GetLastSuccess(context.Background(), subject)
	require.NoError(t, err)
	assert.Equal(t, start.Add(time.Hour), last.LastUpdateTime)
}

func TestRecover_FailureIncrementsRetryCount(t *testing.T) {
	svc, gw, store, clk := newFixture(t)
	storeFailure(t, store, start.Add(-time.Hour), 1)
	gw.failWrites["profile"] = apiFailure("profile")
	clk.Set(start.Add(time.Hour))

	outcome, err := svc.Recover(context.Background(), subject)
	require.NoError(t, err)
	assert.Equal(t, RetryFailed, outcome)

	rec, err := store.GetFailure(context.Background(), subject)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.RetryCount)
	assert.Equal(t, start.Add(time.Hour), rec.FailureTime)
}

func TestRecover_RetriesUntilExhausted(t *testing.T) {
	svc, gw, store, clk := newFixture(t)
	storeFailure(t, store, start, 0)
	gw.failWrites["profile"] = apiFailure("profile")

	var outcomes []RecoveryOutcome
	for i := 0; i < 5; i++ {
		clk.Advance(time.Minute)
		outcome, err := svc.Recover(context.Background(), subject)
		require.NoError(t, err)
		outcomes = append(outcomes, outcome)
	}

	assert.Equal(t, []RecoveryOutcome{RetryFailed, RetryFailed, RetryFailed, Exhausted, NoFailure}, outcomes)
}

func TestRecover_UnreadableAnswerIsExhausted(t *testing.T) {
	svc, gw, store, _ := newFixture(t)
	require.NoError(t, store.UpsertFailure(context.Background(), models.FailedUpdateRecord{
		SubjectID: subject, RawSurveyAnswer: json.RawMessage(`"nope"`), FailureTime: start,
	}))

	outcome, err := svc.Recover(context.Background(), subject)
	require.NoError(t, err)
	assert.Equal(t, Exhausted, outcome)
	assert.Empty(t, gw.Writes())
}

// ==========================
// Tasks and sweep
// ==========================

func TestHandleTask(t *testing.T) {
	svc, gw, store, _ := newFixture(t)

	task, err := queue.NewUpdateTask(testAnswer())
	require.NoError(t, err)
	require.NoError(t, svc.HandleTask(context.Background(), task))
	assert.Equal(t, "F", gw.profile.Gender)

	require.NoError(t, svc.HandleTask(context.Background(), queue.NewRecoverTask(subject)))

	err = svc.HandleTask(context.Background(), queue.Task{Kind: "reindex"})
	assert.ErrorIs(t, err, queue.ErrUnknownKind)

	bad := queue.Task{Kind: queue.KindUpdate, SurveyAnswer: json.RawMessage(`[]`)}
	assert.True(t, errors.IsCode(svc.HandleTask(context.Background(), bad), errors.ErrCodeInvalidSurveyAnswer))

	_, err = store.GetLastSuccess(context.Background(), subject)
	assert.NoError(t, err)
}

func TestSweep_EnqueuesOldestFirst(t *testing.T) {
	svc, _, store, _ := newFixture(t)
	for i, id := range []string{"c", "a", "b"} {
		require.NoError(t, store.UpsertFailure(context.Background(), models.FailedUpdateRecord{
			SubjectID: id, RawSurveyAnswer: json.RawMessage(`{}`), FailureTime: start.Add(time.Duration(3-i) * time.Minute),
		}))
	}
	q := &recordingQueue{reject: map[string]bool{"a": true}}

	res, err := svc.Sweep(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Outstanding)
	assert.Equal(t, 2, res.Enqueued)

	var subjects []string
	for _, task := range q.tasks {
		assert.Equal(t, queue.KindRecover, task.Kind)
		subjects = append(subjects, task.SubjectID)
	}
	assert.Equal(t, []string{"b", "c"}, subjects)
}

func TestScheduler_StopsWithContext(t *testing.T) {
	svc, _, _, _ := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		NewScheduler(svc, &recordingQueue{}, time.Millisecond, nil).Run(ctx)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
