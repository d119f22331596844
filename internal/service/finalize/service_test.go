package finalize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/typelens-ai/typelens/internal/calibration"
	"github.com/typelens-ai/typelens/internal/model"
	"github.com/typelens-ai/typelens/internal/scoring"
	"github.com/typelens-ai/typelens/internal/storage"
)

// fakeStore is an in-memory Store with the same idempotency semantics as the
// real storage layer: first-write-wins share tokens, one profile per session.
type fakeStore struct {
	mu sync.Mutex

	sessions   map[uuid.UUID]model.AssessmentSession
	answers    map[uuid.UUID][]model.RawAnswer
	normalized map[uuid.UUID][]model.NormalizedAnswer
	profiles   map[uuid.UUID]model.Profile
	key        model.ScoringKey

	profileWrites int
	listCalls     int
	failProfile   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions:   make(map[uuid.UUID]model.AssessmentSession),
		answers:    make(map[uuid.UUID][]model.RawAnswer),
		normalized: make(map[uuid.UUID][]model.NormalizedAnswer),
		profiles:   make(map[uuid.UUID]model.Profile),
		key:        make(model.ScoringKey),
	}
}

func (f *fakeStore) GetSession(_ context.Context, id uuid.UUID) (model.AssessmentSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return model.AssessmentSession{}, storage.ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) GetProfile(_ context.Context, id uuid.UUID) (model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id]
	if !ok {
		return model.Profile{}, storage.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) ListRawAnswers(_ context.Context, id uuid.UUID) ([]model.RawAnswer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return f.answers[id], nil
}

func (f *fakeStore) LoadScoringKey(context.Context) (model.ScoringKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.key, nil
}

func (f *fakeStore) LoadPrototypes(context.Context) (model.PrototypeTable, error) {
	return scoring.DefaultPrototypes, nil
}

func (f *fakeStore) UpsertNormalizedAnswers(_ context.Context, answers []model.NormalizedAnswer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(answers) > 0 {
		f.normalized[answers[0].SessionID] = answers
	}
	return nil
}

func (f *fakeStore) UpsertProfile(_ context.Context, p model.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failProfile != nil {
		return f.failProfile
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrInvalidProfile, err)
	}
	f.profileWrites++
	f.profiles[p.SessionID] = p
	return nil
}

func (f *fakeStore) StampResultsVersion(_ context.Context, id uuid.UUID, version string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id]
	if !ok {
		return storage.ErrNotFound
	}
	p.ResultsVersion = version
	f.profiles[id] = p
	return nil
}

func (f *fakeStore) EnsureShareToken(_ context.Context, id uuid.UUID, candidate string, expiresAt time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return "", storage.ErrNotFound
	}
	if s.ShareToken == nil {
		s.ShareToken = &candidate
		s.ShareTokenExpiresAt = &expiresAt
		f.sessions[id] = s
	}
	return *s.ShareToken, nil
}

func (f *fakeStore) MarkSessionFinalized(_ context.Context, id uuid.UUID, completedQuestions int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return storage.ErrNotFound
	}
	s.Status = model.SessionFinalized
	if completedQuestions > s.CompletedQuestions {
		s.CompletedQuestions = completedQuestions
	}
	f.sessions[id] = s
	return nil
}

func (f *fakeStore) AcquireSessionLock(context.Context, uuid.UUID) (func(), error) {
	return func() {}, nil
}

// seedSession creates an in-progress session with Likert answers covering the
// analytic functions, so the LII-family types win.
func seedSession(f *fakeStore) uuid.UUID {
	id := uuid.New()
	f.sessions[id] = model.AssessmentSession{ID: id, Status: model.SessionInProgress}

	tags := map[string]model.FunctionCode{
		"q-ti": model.FnTi, "q-te": model.FnTe,
		"q-ni": model.FnNi, "q-ne": model.FnNe,
		"q-fe": model.FnFe, "q-si": model.FnSi,
	}
	values := map[string]string{
		"q-ti": "5", "q-te": "5", "q-ni": "4", "q-ne": "4",
		"q-fe": "2", "q-si": "2",
	}
	for q, fn := range tags {
		f.key[q] = model.ScoringKeyEntry{QuestionID: q, Scale: model.ScaleLikert5, Function: fn}
		f.answers[id] = append(f.answers[id], model.RawAnswer{
			SessionID: id, QuestionID: q, RawValue: values[q],
		})
	}
	return id
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newService(store Store, mirror Sink) *Service {
	cal := calibration.New(nil, calibration.DefaultConfig(), testLogger())
	return New(store, cal, mirror, Config{BaseURL: "https://typelens.test"}, testLogger())
}

func TestFinalizeScoresNewSession(t *testing.T) {
	store := newFakeStore()
	sid := seedSession(store)
	svc := newService(store, nil)

	resp, err := svc.Finalize(context.Background(), sid, 6)
	require.NoError(t, err)

	assert.True(t, resp.OK)
	assert.Equal(t, model.PathScored, resp.Path)
	assert.NotEmpty(t, resp.ShareToken)
	assert.Equal(t, "https://typelens.test/r/"+resp.ShareToken, resp.ResultsURL)
	assert.Equal(t, model.ResultsVersion, resp.ResultsVersion)

	require.NotNil(t, resp.Profile)
	assert.Len(t, resp.Profile.TopTypes, 3)
	assert.Equal(t, resp.Profile.TopTypes[0].TypeCode, resp.Profile.TypeCode)
	assert.GreaterOrEqual(t, resp.Profile.CalibratedConfidence, 0.0)
	assert.LessOrEqual(t, resp.Profile.CalibratedConfidence, 1.0)
	assert.True(t, resp.Profile.CalibrationFallback, "no model store configured, must flag fallback")

	// Side effects landed.
	assert.Equal(t, 1, store.profileWrites)
	assert.NotEmpty(t, store.normalized[sid])
	assert.Equal(t, model.SessionFinalized, store.sessions[sid].Status)
	assert.Equal(t, 6, store.sessions[sid].CompletedQuestions)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	store := newFakeStore()
	sid := seedSession(store)
	svc := newService(store, nil)

	first, err := svc.Finalize(context.Background(), sid, 6)
	require.NoError(t, err)
	second, err := svc.Finalize(context.Background(), sid, 6)
	require.NoError(t, err)

	assert.Equal(t, model.PathScored, first.Path)
	assert.Equal(t, model.PathCacheHit, second.Path)
	assert.Equal(t, first.ShareToken, second.ShareToken, "token must be stable across finalizes")
	assert.Equal(t, first.Profile.TypeCode, second.Profile.TypeCode)
	assert.Equal(t, first.Profile.CalibratedConfidence, second.Profile.CalibratedConfidence)
	assert.Equal(t, 1, store.profileWrites, "cache hit must not rescore")
}

func TestFinalizeConcurrentCallersScoreOnce(t *testing.T) {
	store := newFakeStore()
	sid := seedSession(store)
	svc := newService(store, nil)

	const callers = 16
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := svc.Finalize(context.Background(), sid, 6)
			tokens[i] = resp.ShareToken
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, tokens[0], tokens[i], "all callers must see the same token")
	}
	assert.Equal(t, 1, store.profileWrites, "exactly one caller may run the pipeline")
}

func TestFinalizeUnknownSession(t *testing.T) {
	store := newFakeStore()
	svc := newService(store, nil)

	_, err := svc.Finalize(context.Background(), uuid.New(), 0)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFinalizeNoUsableAnswers(t *testing.T) {
	store := newFakeStore()
	sid := uuid.New()
	store.sessions[sid] = model.AssessmentSession{ID: sid, Status: model.SessionInProgress}
	store.key["q1"] = model.ScoringKeyEntry{QuestionID: "q1", Scale: model.ScaleLikert5, Function: model.FnTi}
	svc := newService(store, nil)

	_, err := svc.Finalize(context.Background(), sid, 0)
	require.ErrorIs(t, err, scoring.ErrNoAnswers)

	// Nothing persisted, session untouched.
	assert.Zero(t, store.profileWrites)
	assert.Empty(t, store.normalized[sid])
	assert.Equal(t, model.SessionInProgress, store.sessions[sid].Status)
}

func TestFinalizeEmptyScoringKey(t *testing.T) {
	store := newFakeStore()
	sid := uuid.New()
	store.sessions[sid] = model.AssessmentSession{ID: sid, Status: model.SessionInProgress}
	store.answers[sid] = []model.RawAnswer{{SessionID: sid, QuestionID: "q1", RawValue: "3"}}
	svc := newService(store, nil)

	_, err := svc.Finalize(context.Background(), sid, 0)
	var refErr *scoring.ReferenceDataError
	assert.ErrorAs(t, err, &refErr)
	assert.Zero(t, store.profileWrites)
}

func TestFinalizeProfileWriteFailure(t *testing.T) {
	store := newFakeStore()
	sid := seedSession(store)
	store.failProfile = errors.New("connection reset")
	svc := newService(store, nil)

	_, err := svc.Finalize(context.Background(), sid, 6)
	require.Error(t, err)
	assert.NotEqual(t, model.SessionFinalized, store.sessions[sid].Status,
		"session must not be marked finalized when the profile write failed")
}

func TestFinalizeCacheHitRestampsVersion(t *testing.T) {
	store := newFakeStore()
	sid := seedSession(store)
	svc := newService(store, nil)

	_, err := svc.Finalize(context.Background(), sid, 6)
	require.NoError(t, err)

	// Simulate a profile written by an older deploy.
	store.mu.Lock()
	p := store.profiles[sid]
	p.ResultsVersion = "v2"
	store.profiles[sid] = p
	store.mu.Unlock()

	resp, err := svc.Finalize(context.Background(), sid, 6)
	require.NoError(t, err)
	assert.Equal(t, model.PathCacheHit, resp.Path)
	assert.Equal(t, model.ResultsVersion, resp.Profile.ResultsVersion)
	assert.Equal(t, model.ResultsVersion, store.profiles[sid].ResultsVersion)
}

type failingSink struct{ calls int }

func (s *failingSink) Record(context.Context, model.Profile, string) error {
	s.calls++
	return errors.New("disk full")
}
func (s *failingSink) Close() error { return nil }

func TestFinalizeMirrorFailureIsNonFatal(t *testing.T) {
	store := newFakeStore()
	sid := seedSession(store)
	sink := &failingSink{}
	svc := newService(store, sink)

	resp, err := svc.Finalize(context.Background(), sid, 6)
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.Equal(t, 1, sink.calls)
}
