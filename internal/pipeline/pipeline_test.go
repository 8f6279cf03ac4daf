package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/repairer-sync/internal/classify"
	"github.com/sells-group/repairer-sync/internal/model"
	"github.com/sells-group/repairer-sync/internal/normalize"
	"github.com/sells-group/repairer-sync/internal/reconcile"
	"github.com/sells-group/repairer-sync/internal/store"
	"github.com/sells-group/repairer-sync/pkg/geocode"
)

type mockGeocoder struct {
	mock.Mock
}

func (m *mockGeocoder) Geocode(ctx context.Context, addr geocode.AddressInput) (*geocode.Result, error) {
	args := m.Called(ctx, addr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*geocode.Result), args.Error(1)
}

type mockClassifier struct {
	mock.Mock
}

func (m *mockClassifier) Name() string { return "mock" }

func (m *mockClassifier) Classify(ctx context.Context, cs []model.Candidate, prompt string) ([]model.ClassificationResult, error) {
	args := m.Called(ctx, cs, prompt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ClassificationResult), args.Error(1)
}

type failingReconciler struct{}

func (failingReconciler) Reconcile(context.Context, model.Candidate) (reconcile.Outcome, error) {
	return reconcile.Outcome{}, eris.New("store: disk full")
}

func newStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func flat(fields map[string]any) model.RawCandidate {
	return model.RawCandidate{Source: model.SourceImport, Payload: fields}
}

var paris = &model.SubScope{
	Scope: model.Scope{Kind: model.KindCity, Code: "75-paris"},
	City:  model.City{Code: "75-paris", Name: "Paris", Department: "75", PostalCode: "75001"},
}

func TestRun_GeocodeMissPersistsWithoutCoordinates(t *testing.T) {
	st := newStore(t)
	geo := new(mockGeocoder)
	geo.On("Geocode", mock.Anything, mock.MatchedBy(func(a geocode.AddressInput) bool {
		return a.Street == "1 impasse introuvable" && a.Country == "FR"
	})).Return(&geocode.Result{Matched: false}, nil).Once()

	p := New(normalize.New(), geo, nil, reconcile.New(st), Config{})
	res, err := p.Run(context.Background(), []model.RawCandidate{
		flat(map[string]any{"name": "Phone Doctor", "address": "1 impasse introuvable", "city": "Paris"}),
	}, model.SourceAI, paris)

	require.NoError(t, err)
	assert.Equal(t, 1, res.Fetched)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 1, res.Ungeocoded)

	rec, err := st.FindByIdentityKey(context.Background(), normalize.IdentityKey("Phone Doctor", "Paris", "1 impasse introuvable"))
	require.NoError(t, err)
	assert.Nil(t, rec.Lat)
	assert.Nil(t, rec.Lng)
	geo.AssertExpectations(t)
}

func TestRun_GeocodeHitAndSkipWhenCoordinatesPresent(t *testing.T) {
	st := newStore(t)
	geo := new(mockGeocoder)
	geo.On("Geocode", mock.Anything, mock.Anything).
		Return(&geocode.Result{Latitude: 48.8606, Longitude: 2.3376, Matched: true, Source: "ban"}, nil).Once()

	p := New(normalize.New(), geo, nil, reconcile.New(st), Config{Concurrency: 2})
	res, err := p.Run(context.Background(), []model.RawCandidate{
		flat(map[string]any{"name": "Fix Phone Paris", "address": "10 Rue de Rivoli", "city": "Paris"}),
		flat(map[string]any{"name": "Already Placed", "address": "2 rue X", "city": "Paris", "lat": 48.1, "lng": 2.1}),
	}, model.SourceImport, nil)

	require.NoError(t, err)
	assert.Equal(t, 2, res.Added)
	assert.Equal(t, 0, res.Ungeocoded)

	rec, err := st.FindByIdentityKey(context.Background(), normalize.IdentityKey("Fix Phone Paris", "Paris", "10 Rue de Rivoli"))
	require.NoError(t, err)
	require.NotNil(t, rec.Lat)
	assert.InDelta(t, 48.8606, *rec.Lat, 1e-9)
	geo.AssertNumberOfCalls(t, "Geocode", 1)
}

func TestRun_GeocodeProviderErrorIsAMiss(t *testing.T) {
	st := newStore(t)
	geo := new(mockGeocoder)
	geo.On("Geocode", mock.Anything, mock.Anything).Return(nil, errors.New("ban: 502")).Once()

	p := New(normalize.New(), geo, nil, reconcile.New(st), Config{})
	res, err := p.Run(context.Background(), []model.RawCandidate{
		flat(map[string]any{"name": "Phone Doctor", "address": "3 rue Y", "city": "Paris"}),
	}, model.SourceImport, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 1, res.Ungeocoded)
}

func TestRun_MalformedDropped(t *testing.T) {
	st := newStore(t)
	p := New(normalize.New(), nil, nil, reconcile.New(st), Config{})

	res, err := p.Run(context.Background(), []model.RawCandidate{
		flat(map[string]any{"address": "no name here"}),
		{Source: model.SourceImport},
		flat(map[string]any{"name": "Valid One", "city": "Lyon"}),
	}, model.SourceImport, nil)

	require.NoError(t, err)
	assert.Equal(t, 3, res.Fetched)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 2, res.Malformed)
	assert.Equal(t, res.Fetched, res.Added+res.Updated+res.Skipped)
}

func TestRun_ClassifierDropsInvalid(t *testing.T) {
	st := newStore(t)
	cls := new(mockClassifier)
	cls.On("Classify", mock.Anything, mock.MatchedBy(func(cs []model.Candidate) bool { return len(cs) == 2 }), "prompt").
		Return([]model.ClassificationResult{
			{IsValid: true, Services: []string{"écran"}, Confidence: 0.9},
			{IsValid: false, Confidence: 0.8},
		}, nil).Once()

	p := New(normalize.New(), nil, cls, reconcile.New(st), Config{DropInvalid: true, Prompt: "prompt"})
	res, err := p.Run(context.Background(), []model.RawCandidate{
		flat(map[string]any{"name": "Atelier Réparation", "city": "Lyon"}),
		flat(map[string]any{"name": "Annuaire", "city": "Lyon"}),
	}, model.SourceImport, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 1, res.Invalid)
	assert.Equal(t, 1, res.Skipped)

	rec, err := st.FindByIdentityKey(context.Background(), normalize.IdentityKey("Atelier Réparation", "Lyon", ""))
	require.NoError(t, err)
	require.NotNil(t, rec.ClassificationConfidence)
	assert.Contains(t, rec.Services, "écran")
	cls.AssertExpectations(t)
}

func TestRun_ClassifierUnavailablePassesThrough(t *testing.T) {
	st := newStore(t)
	cls := new(mockClassifier)
	cls.On("Classify", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, eris.Wrap(classify.ErrUnavailable, "circuit open")).Times(2)

	p := New(normalize.New(), nil, cls, reconcile.New(st), Config{ClassifyBatch: 2, DropInvalid: true})
	raws := []model.RawCandidate{
		flat(map[string]any{"name": "A", "city": "Lyon"}),
		flat(map[string]any{"name": "B", "city": "Lyon"}),
		flat(map[string]any{"name": "C", "city": "Lyon"}),
	}
	res, err := p.Run(context.Background(), raws, model.SourceImport, nil)

	require.NoError(t, err)
	assert.Equal(t, 3, res.Added)
	assert.Equal(t, 3, res.Unclassified)

	rec, err := st.FindByIdentityKey(context.Background(), normalize.IdentityKey("A", "Lyon", ""))
	require.NoError(t, err)
	assert.Nil(t, rec.ClassificationConfidence)
	cls.AssertExpectations(t)
}

func TestRun_ClassifierMisalignedResultIgnored(t *testing.T) {
	st := newStore(t)
	cls := new(mockClassifier)
	cls.On("Classify", mock.Anything, mock.Anything, mock.Anything).
		Return([]model.ClassificationResult{{IsValid: false}}, nil).Once()

	p := New(normalize.New(), nil, cls, reconcile.New(st), Config{DropInvalid: true})
	res, err := p.Run(context.Background(), []model.RawCandidate{
		flat(map[string]any{"name": "A", "city": "Lyon"}),
		flat(map[string]any{"name": "B", "city": "Lyon"}),
	}, model.SourceImport, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Added)
	assert.Equal(t, 2, res.Unclassified)
}

func TestRun_DuplicatesWithinBatch(t *testing.T) {
	st := newStore(t)
	p := New(normalize.New(), nil, nil, reconcile.New(st), Config{})

	res, err := p.Run(context.Background(), []model.RawCandidate{
		flat(map[string]any{"name": "Fix Phone Paris", "address": "10 Rue de Rivoli", "city": "Paris"}),
		flat(map[string]any{"name": "FIX PHONE PARIS", "address": "10 rue de Rivoli", "city": "paris", "phone": "01 42 00 00 00"}),
	}, model.SourceImport, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 1, res.Updated)

	n, err := st.CountRecords(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRun_StoreFailureIsFatal(t *testing.T) {
	p := New(normalize.New(), nil, nil, failingReconciler{}, Config{})
	_, err := p.Run(context.Background(), []model.RawCandidate{
		flat(map[string]any{"name": "A", "city": "Lyon"}),
	}, model.SourceImport, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestRun_CancelledDuringGeocode(t *testing.T) {
	st := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	geo := new(mockGeocoder)
	geo.On("Geocode", mock.Anything, mock.Anything).Run(func(mock.Arguments) { cancel() }).
		Return(nil, context.Canceled)

	p := New(normalize.New(), geo, nil, reconcile.New(st), Config{Concurrency: 1})
	_, err := p.Run(ctx, []model.RawCandidate{
		flat(map[string]any{"name": "A", "address": "1 rue Z", "city": "Lyon"}),
	}, model.SourceImport, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
