package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InternetOfUs/app-survey/internal/common/clock"
	"github.com/InternetOfUs/app-survey/internal/common/config"
	"github.com/InternetOfUs/app-survey/internal/common/logger"
	"github.com/InternetOfUs/app-survey/internal/ledger"
	"github.com/InternetOfUs/app-survey/internal/models"
)

// ==========================
// Fake profile service
// ==========================

type profileService struct {
	mu        sync.Mutex
	docs      map[string]string
	failGets  bool
	authCalls int
}

func newProfileService() *profileService {
	return &profileService{docs: map[string]string{
		"/service/user/profile/35": `{"id": "35", "locale": "en"}`,
	}}
}

func (p *profileService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if r.Header.Get("Authorization") == "Bearer test-key" {
		p.authCalls++
	}
	switch r.Method {
	case http.MethodGet:
		if p.failGets {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
			return
		}
		doc, ok := p.docs[r.URL.Path]
		if !ok {
			doc = "[]"
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, doc)
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		p.docs[r.URL.Path] = string(body)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (p *profileService) profile(t *testing.T) *models.Profile {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	var profile models.Profile
	require.NoError(t, json.Unmarshal([]byte(p.docs["/service/user/profile/35"]), &profile))
	return &profile
}

// ==========================
// Helpers
// ==========================

var now = time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		App:        config.AppConfig{Name: "survey-worker-test"},
		ProfileAPI: config.ProfileAPIConfig{BaseURL: baseURL, Timeout: 5000, APIKey: "test-key"},
		Rules:      config.RulesConfig{CataloguePath: "../../configs/rules.json"},
		Ledger:     config.LedgerConfig{Backend: config.LedgerMemory},
		Pipeline:   config.PipelineConfig{MaxRetries: 5},
		Queue:      config.QueueConfig{Transport: config.TransportLocal, Workers: 2, Buffer: 8},
	}
}

func newTestApp(t *testing.T, profiles *profileService) (*App, *ledger.MemoryStore) {
	t.Helper()
	srv := httptest.NewServer(profiles)
	t.Cleanup(srv.Close)

	store := ledger.NewMemoryStore()
	a, err := New(context.Background(), testConfig(srv.URL), logger.NewTestLogger(t), Options{
		Clock:      clock.NewFake(now),
		HTTPClient: srv.Client(),
		Store:      store,
	})
	require.NoError(t, err)
	return a, store
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
	return rec
}

const answer = `{"wenet_id": "35", "answers": {
  "Q01": {"question": "Q01", "type": "single_choice", "answer": "02"},
  "Q02": {"question": "Q02", "type": "number", "answer": 21}
}}`

// ==========================
// End to end
// ==========================

func TestSubmitUpdatesProfile(t *testing.T) {
	profiles := newProfileService()
	a, store := newTestApp(t, profiles)

	rec := post(t, a.Handler(), "/v1/survey-answers", answer)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	// Close drains the local queue.
	require.NoError(t, a.Shutdown(context.Background()))

	profile := profiles.profile(t)
	assert.Equal(t, "F", profile.Gender)
	require.NotNil(t, profile.DateOfBirth)
	assert.Equal(t, models.Date{Year: 2003, Month: 1, Day: 1}, *profile.DateOfBirth)
	assert.Equal(t, "en", profile.Locale)
	assert.Positive(t, profiles.authCalls)

	last, err := store.GetLastSuccess(context.Background(), "35")
	require.NoError(t, err)
	assert.True(t, last.LastUpdateTime.Equal(now))

	_, err = store.GetFailure(context.Background(), "35")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestFailedSubmitIsRecoveredBySweep(t *testing.T) {
	profiles := newProfileService()
	profiles.failGets = true
	a, store := newTestApp(t, profiles)

	rec := post(t, a.Handler(), "/v1/survey-answers", answer)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Eventually(t, func() bool {
		_, err := store.GetFailure(context.Background(), "35")
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	failure, err := store.GetFailure(context.Background(), "35")
	require.NoError(t, err)
	assert.Equal(t, 0, failure.RetryCount)

	listed := httptest.NewRecorder()
	a.Handler().ServeHTTP(listed, httptest.NewRequest(http.MethodGet, "/v1/failures", nil))
	assert.Contains(t, listed.Body.String(), `"count":1`)

	profiles.mu.Lock()
	profiles.failGets = false
	profiles.mu.Unlock()

	rec = post(t, a.Handler(), "/v1/sweep", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"enqueued":1`)

	require.NoError(t, a.Shutdown(context.Background()))

	_, err = store.GetFailure(context.Background(), "35")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	assert.Equal(t, "F", profiles.profile(t).Gender)
}

func TestTallyWebhookSubmits(t *testing.T) {
	profiles := newProfileService()
	a, _ := newTestApp(t, profiles)

	body := `{"eventId": "e1", "eventType": "FORM_RESPONSE", "data": {"fields": [
	  {"key": "k1", "label": "wenet_id", "type": "HIDDEN_FIELDS", "value": "35"},
	  {"key": "k2", "label": "Q01: Gender", "type": "MULTIPLE_CHOICE", "value": "o1",
	   "options": [{"id": "o1", "text": "01: Male"}]}
	]}}`
	rec := post(t, a.Handler(), "/webhooks/tally", body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	require.NoError(t, a.Shutdown(context.Background()))
	assert.Equal(t, "M", profiles.profile(t).Gender)
}

func TestNew_UnknownCatalogue(t *testing.T) {
	cfg := testConfig("http://profile.invalid")
	cfg.Rules.CataloguePath = "does-not-exist.json"

	_, err := New(context.Background(), cfg, nil, Options{Store: ledger.NewMemoryStore()})
	assert.Error(t, err)
}
