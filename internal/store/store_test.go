package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/outage-report-sync/internal/adapter/localstore"
	"github.com/couchcryptid/outage-report-sync/internal/domain"
	"github.com/couchcryptid/outage-report-sync/internal/observability"
	"github.com/couchcryptid/outage-report-sync/internal/store"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errOffline = errors.New("network unreachable")

// fakeRemote is an in-memory RemoteService. When offline every call fails.
type fakeRemote struct {
	mu        sync.Mutex
	offline   bool
	docs      []domain.Report
	nextID    int
	confirms  []string
	resolves  []string
	listCalls int

	// onList runs after the page is taken and before List returns.
	onList func()
}

func (f *fakeRemote) setOffline(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = v
}

func (f *fakeRemote) List(_ context.Context, filter domain.ListFilter) ([]domain.Report, error) {
	f.mu.Lock()
	f.listCalls++
	if f.offline {
		f.mu.Unlock()
		return nil, errOffline
	}
	out := append([]domain.Report(nil), f.docs...)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	hook := f.onList
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return out, nil
}

func (f *fakeRemote) Create(_ context.Context, n domain.NewReport) (domain.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return domain.Report{}, errOffline
	}
	f.nextID++
	r := domain.Report{
		ID:            fmt.Sprintf("srv-%d", f.nextID),
		Type:          n.Type,
		Latitude:      n.Latitude,
		Longitude:     n.Longitude,
		Quartier:      n.Quartier,
		Ville:         n.Ville,
		Region:        n.Region,
		Date:          n.Date,
		Confirmations: 1,
		Synced:        true,
	}
	f.docs = append([]domain.Report{r}, f.docs...)
	return r, nil
}

func (f *fakeRemote) Confirm(_ context.Context, id string) (domain.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return domain.Report{}, errOffline
	}
	f.confirms = append(f.confirms, id)
	return domain.Report{ID: id}, nil
}

func (f *fakeRemote) Resolve(_ context.Context, id string) (domain.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return domain.Report{}, errOffline
	}
	f.resolves = append(f.resolves, id)
	return domain.Report{ID: id}, nil
}

// flakyKV wraps a KeyValueStore and fails writes on demand: every write when
// failSet is true, or only writes to failKey.
type flakyKV struct {
	*localstore.Memory
	failSet bool
	failKey string
	sets    int
}

func (f *flakyKV) Set(ctx context.Context, key, value string) error {
	f.sets++
	if f.failSet || (f.failKey != "" && key == f.failKey) {
		return errors.New("disk full")
	}
	return f.Memory.Set(ctx, key, value)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.ReportEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e domain.ReportEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) actions() []domain.Action {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Action, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Action)
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func useFakeClock(t *testing.T, at time.Time) *clockwork.FakeClock {
	t.Helper()
	fc := clockwork.NewFakeClockAt(at)
	domain.SetClock(fc)
	t.Cleanup(func() { domain.SetClock(nil) })
	return fc
}

type harness struct {
	store  *store.Store
	remote *fakeRemote
	kv     *flakyKV
	events *recordingPublisher
}

func newHarness(t *testing.T, spec domain.KindSpec, seed map[string]string) *harness {
	t.Helper()
	kv := &flakyKV{Memory: localstore.NewMemory()}
	for k, v := range seed {
		require.NoError(t, kv.Memory.Set(context.Background(), k, v))
	}
	h := &harness{
		remote: &fakeRemote{},
		kv:     kv,
		events: &recordingPublisher{},
	}
	h.store = store.New(spec, kv, h.remote, discardLogger(), observability.NewMetricsForTesting(), store.Options{
		Location:            time.UTC,
		LedgerRetentionDays: 30,
		Publisher:           h.events,
	})
	return h
}

func (h *harness) load(t *testing.T) {
	t.Helper()
	require.NoError(t, h.store.Load(context.Background()))
}

func persistedReports(t *testing.T, kv *flakyKV, key string) []domain.Report {
	t.Helper()
	raw, ok, err := kv.Memory.Get(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok, "key %s not persisted", key)
	var out []domain.Report
	require.NoError(t, json.Unmarshal([]byte(raw), &out))
	return out
}

func seedReport(id string, date time.Time) domain.Report {
	return domain.Report{
		ID:            id,
		Kind:          domain.KindOutage,
		Type:          "water",
		Latitude:      4.0511,
		Longitude:     9.7679,
		Quartier:      "Akwa",
		Ville:         "Douala",
		Region:        "Littoral",
		Date:          date,
		Confirmations: 1,
		Synced:        true,
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

var noon = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func TestStore_MutationsBeforeLoad(t *testing.T) {
	useFakeClock(t, noon)
	h := newHarness(t, domain.Outage, nil)
	ctx := context.Background()

	assert.Equal(t, store.StateUninitialized, h.store.State())
	require.Error(t, h.store.CheckReadiness(ctx))

	_, err := h.store.Add(ctx, domain.NewReport{Type: "water"})
	require.ErrorIs(t, err, store.ErrNotReady)
	_, err = h.store.Confirm(ctx, "x")
	require.ErrorIs(t, err, store.ErrNotReady)
	require.ErrorIs(t, h.store.MarkResolved(ctx, "x"), store.ErrNotReady)
	require.ErrorIs(t, h.store.Refresh(ctx), store.ErrNotReady)
	assert.False(t, h.store.Remove(ctx, "x"))
	assert.Empty(t, h.events.actions())
}

func TestStore_LoadTwice(t *testing.T) {
	useFakeClock(t, noon)
	h := newHarness(t, domain.Outage, nil)
	h.load(t)

	assert.Equal(t, store.StateReady, h.store.State())
	require.NoError(t, h.store.CheckReadiness(context.Background()))
	require.ErrorIs(t, h.store.Load(context.Background()), store.ErrAlreadyLoaded)
}

func TestStore_LoadMergesPersistedAndRemote(t *testing.T) {
	useFakeClock(t, noon)
	local := []domain.Report{
		{ID: "local-1", Type: "water", Date: noon.Add(-time.Hour), Confirmations: 1},
		seedReport("a", noon.Add(-2*time.Hour)),
	}
	h := newHarness(t, domain.Outage, map[string]string{
		domain.Outage.ReportsKey: mustJSON(t, local),
	})
	fresher := seedReport("a", noon.Add(-2*time.Hour))
	fresher.Confirmations = 5
	h.remote.docs = []domain.Report{fresher, seedReport("b", noon.Add(-3*time.Hour))}

	h.load(t)

	got := h.store.Reports()
	require.Len(t, got, 3)
	assert.Equal(t, "local-1", got[0].ID)
	assert.False(t, got[0].Synced)
	assert.Equal(t, domain.UnknownLabel, got[0].Region)
	assert.Equal(t, "a", got[1].ID)
	assert.Equal(t, 5, got[1].Confirmations)
	assert.Equal(t, "b", got[2].ID)
	assert.True(t, got[2].Synced)

	assert.Equal(t, got, persistedReports(t, h.kv, domain.Outage.ReportsKey))
}

func TestStore_LoadRemoteUnavailable(t *testing.T) {
	useFakeClock(t, noon)
	h := newHarness(t, domain.Outage, map[string]string{
		domain.Outage.ReportsKey: mustJSON(t, []domain.Report{seedReport("a", noon)}),
	})
	h.remote.setOffline(true)

	h.load(t)

	assert.Equal(t, store.StateReady, h.store.State())
	require.Len(t, h.store.Reports(), 1)
}

func TestStore_LoadQuarantinesMalformedBlob(t *testing.T) {
	useFakeClock(t, noon)
	h := newHarness(t, domain.Outage, map[string]string{
		domain.Outage.ReportsKey: "{not json",
		domain.Outage.LedgerKey:  "[1,2]",
	})
	h.remote.setOffline(true)

	h.load(t)

	assert.Empty(t, h.store.Reports())
	ctx := context.Background()
	raw, ok, err := h.kv.Memory.Get(ctx, domain.Outage.ReportsKey+".corrupt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "{not json", raw)
	_, ok, err = h.kv.Memory.Get(ctx, domain.Outage.ReportsKey)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = h.kv.Memory.Get(ctx, domain.Outage.LedgerKey+".corrupt")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_LoadPrunesStaleLedger(t *testing.T) {
	useFakeClock(t, noon)
	h := newHarness(t, domain.Outage, map[string]string{
		domain.Outage.LedgerKey: mustJSON(t, domain.ConfirmationLedger{
			"old":   "2025-01-01",
			"today": "2026-03-14",
		}),
	})
	h.load(t)

	assert.True(t, h.store.ConfirmedToday("today"))
	assert.False(t, h.store.ConfirmedToday("old"))
}

func TestStore_AddOffline(t *testing.T) {
	useFakeClock(t, noon)
	h := newHarness(t, domain.Outage, map[string]string{
		domain.Outage.ReportsKey: mustJSON(t, []domain.Report{seedReport("a", noon.Add(-time.Hour))}),
	})
	h.load(t)
	h.remote.setOffline(true)

	r, err := h.store.Add(context.Background(), domain.NewReport{
		Type:      "water",
		Latitude:  4.05,
		Longitude: 9.7,
	})
	require.NoError(t, err)

	assert.True(t, domain.IsTemporaryID(r.ID))
	assert.False(t, r.Synced)
	assert.Equal(t, 1, r.Confirmations)
	assert.False(t, r.Resolved)
	assert.Nil(t, r.ResolutionDate)
	assert.Equal(t, noon, r.Date)
	assert.Equal(t, domain.UnknownLabel, r.Quartier)

	all := h.store.ByType("")
	require.Len(t, all, 2)
	assert.Equal(t, r.ID, all[0].ID)
	assert.Equal(t, all, persistedReports(t, h.kv, domain.Outage.ReportsKey))

	unsynced := h.store.Unsynced()
	require.Len(t, unsynced, 1)
	assert.Equal(t, r.ID, unsynced[0].ID)
}

func TestStore_AddOnline(t *testing.T) {
	useFakeClock(t, noon)
	h := newHarness(t, domain.Incident, nil)
	h.load(t)

	r, err := h.store.Add(context.Background(), domain.NewReport{
		Type:        "fallen_pole",
		Latitude:    3.848,
		Longitude:   11.502,
		Commentaire: "blocking the road",
	})
	require.NoError(t, err)

	assert.Equal(t, "srv-1", r.ID)
	assert.True(t, r.Synced)
	assert.Equal(t, domain.KindIncident, r.Kind)
	assert.Equal(t, []domain.Action{domain.ActionCreated}, h.events.actions())
}

func TestStore_AddInvalid(t *testing.T) {
	useFakeClock(t, noon)
	h := newHarness(t, domain.Outage, nil)
	h.load(t)

	_, err := h.store.Add(context.Background(), domain.NewReport{Type: "gas", Latitude: 95})
	require.ErrorIs(t, err, store.ErrInvalidReport)
	assert.Empty(t, h.store.Reports())
}

func TestStore_AddPersistFailureLeavesCollectionUnchanged(t *testing.T) {
	useFakeClock(t, noon)
	h := newHarness(t, domain.Outage, nil)
	h.load(t)
	h.kv.failSet = true

	_, err := h.store.Add(context.Background(), domain.NewReport{Type: "water"})
	require.Error(t, err)
	assert.Empty(t, h.store.Reports())
	assert.Empty(t, h.events.actions())
}

func TestStore_ConfirmOncePerDay(t *testing.T) {
	useFakeClock(t, noon)
	h := newHarness(t, domain.Outage, map[string]string{
		domain.Outage.ReportsKey: mustJSON(t, []domain.Report{seedReport("a", noon.Add(-time.Hour))}),
	})
	h.load(t)
	ctx := context.Background()

	ok, err := h.store.Confirm(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.store.Confirm(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	r, found := h.store.Get("a")
	require.True(t, found)
	assert.Equal(t, 2, r.Confirmations)
	assert.True(t, h.store.ConfirmedToday("a"))
	assert.Equal(t, []string{"a"}, h.remote.confirms)

	raw, ok2, err := h.kv.Memory.Get(ctx, domain.Outage.LedgerKey)
	require.NoError(t, err)
	require.True(t, ok2)
	assert.JSONEq(t, `{"a":"2026-03-14"}`, raw)
	assert.Equal(t, 2, persistedReports(t, h.kv, domain.Outage.ReportsKey)[0].Confirmations)
}

func TestStore_ConfirmPersistFailure(t *testing.T) {
	tests := []struct {
		name    string
		failKey string
	}{
		{name: "reports write fails", failKey: domain.Outage.ReportsKey},
		{name: "ledger write fails", failKey: domain.Outage.LedgerKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			useFakeClock(t, noon)
			h := newHarness(t, domain.Outage, map[string]string{
				domain.Outage.ReportsKey: mustJSON(t, []domain.Report{seedReport("a", noon.Add(-time.Hour))}),
			})
			h.load(t)
			ctx := context.Background()
			h.kv.failKey = tt.failKey

			for range 2 {
				ok, err := h.store.Confirm(ctx, "a")
				require.Error(t, err)
				assert.False(t, ok)
			}

			r, found := h.store.Get("a")
			require.True(t, found)
			assert.Equal(t, 1, r.Confirmations)
			assert.False(t, h.store.ConfirmedToday("a"))
			assert.Equal(t, h.store.Reports(), persistedReports(t, h.kv, domain.Outage.ReportsKey))
			if raw, ok, err := h.kv.Memory.Get(ctx, domain.Outage.LedgerKey); assert.NoError(t, err) && ok {
				assert.JSONEq(t, `{}`, raw)
			}
			assert.Empty(t, h.remote.confirms)
			assert.Empty(t, h.events.actions())

			// Once the disk recovers the confirmation goes through exactly once.
			h.kv.failKey = ""
			ok, err := h.store.Confirm(ctx, "a")
			require.NoError(t, err)
			assert.True(t, ok)
			ok, err = h.store.Confirm(ctx, "a")
			require.NoError(t, err)
			assert.False(t, ok)

			r, _ = h.store.Get("a")
			assert.Equal(t, 2, r.Confirmations)
			assert.Equal(t, 2, persistedReports(t, h.kv, domain.Outage.ReportsKey)[0].Confirmations)
		})
	}
}

func TestStore_ConfirmAcrossMidnight(t *testing.T) {
	fc := useFakeClock(t, time.Date(2026, 3, 14, 23, 59, 59, 0, time.UTC))
	h := newHarness(t, domain.Outage, map[string]string{
		domain.Outage.ReportsKey: mustJSON(t, []domain.Report{seedReport("a", noon)}),
	})
	h.load(t)
	ctx := context.Background()

	ok, err := h.store.Confirm(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)

	fc.Advance(2 * time.Second)

	ok, err = h.store.Confirm(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	r, _ := h.store.Get("a")
	assert.Equal(t, 3, r.Confirmations)
}

func TestStore_ConfirmOfflineStillCounts(t *testing.T) {
	useFakeClock(t, noon)
	h := newHarness(t, domain.Outage, map[string]string{
		domain.Outage.ReportsKey: mustJSON(t, []domain.Report{seedReport("a", noon)}),
	})
	h.load(t)
	h.remote.setOffline(true)

	ok, err := h.store.Confirm(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, ok)
	r, _ := h.store.Get("a")
	assert.Equal(t, 2, r.Confirmations)
}

func TestStore_ConfirmUnknown(t *testing.T) {
	useFakeClock(t, noon)
	h := newHarness(t, domain.Outage, nil)
	h.load(t)

	ok, err := h.store.Confirm(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrReportNotFound)
	assert.False(t, ok)
	assert.False(t, h.store.ConfirmedToday("missing"))
}

func TestStore_ConcurrentConfirmsOfDifferentReports(t *testing.T) {
	useFakeClock(t, noon)
	seed := []domain.Report{seedReport("a", noon), seedReport("b", noon)}
	h := newHarness(t, domain.Outage, map[string]string{
		domain.Outage.ReportsKey: mustJSON(t, seed),
	})
	h.load(t)

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.store.Confirm(context.Background(), id)
		}()
	}
	wg.Wait()

	for _, id := range []string{"a", "b"} {
		r, _ := h.store.Get(id)
		assert.Equal(t, 2, r.Confirmations, id)
		assert.True(t, h.store.ConfirmedToday(id), id)
	}
}

func TestStore_MarkResolved(t *testing.T) {
	fc := useFakeClock(t, noon)
	h := newHarness(t, domain.Outage, map[string]string{
		domain.Outage.ReportsKey: mustJSON(t, []domain.Report{seedReport("a", noon.Add(-time.Hour))}),
	})
	h.load(t)
	ctx := context.Background()

	require.Len(t, h.store.Recent(0), 1)
	require.Len(t, h.store.Nearby(4.05, 9.77, 0), 1)

	require.NoError(t, h.store.MarkResolved(ctx, "a"))
	r, _ := h.store.Get("a")
	assert.True(t, r.Resolved)
	require.NotNil(t, r.ResolutionDate)
	assert.Equal(t, noon, *r.ResolutionDate)

	assert.Empty(t, h.store.Recent(0))
	assert.Empty(t, h.store.Nearby(4.05, 9.77, 0))
	assert.Len(t, h.store.ByType("water"), 1)

	fc.Advance(time.Hour)
	require.NoError(t, h.store.MarkResolved(ctx, "a"))
	r, _ = h.store.Get("a")
	assert.Equal(t, noon.Add(time.Hour), *r.ResolutionDate)

	require.ErrorIs(t, h.store.MarkResolved(ctx, "missing"), store.ErrReportNotFound)
	assert.Equal(t, []string{"a", "a"}, h.remote.resolves)
}

func TestStore_RemoveIsNotPersisted(t *testing.T) {
	useFakeClock(t, noon)
	h := newHarness(t, domain.Outage, map[string]string{
		domain.Outage.ReportsKey: mustJSON(t, []domain.Report{seedReport("a", noon), seedReport("b", noon)}),
	})
	h.remote.setOffline(true)
	h.load(t)

	assert.True(t, h.store.Remove(context.Background(), "a"))
	assert.False(t, h.store.Remove(context.Background(), "a"))

	_, found := h.store.Get("a")
	assert.False(t, found)
	assert.Len(t, persistedReports(t, h.kv, domain.Outage.ReportsKey), 2)
	assert.Equal(t, []domain.Action{domain.ActionRemoved}, h.events.actions())
}

func TestStore_RefreshIsIdempotent(t *testing.T) {
	useFakeClock(t, noon)
	h := newHarness(t, domain.Outage, nil)
	h.remote.docs = []domain.Report{seedReport("a", noon), seedReport("b", noon)}
	h.load(t)
	ctx := context.Background()

	first := h.store.Reports()
	require.NoError(t, h.store.Refresh(ctx))
	require.NoError(t, h.store.Refresh(ctx))
	assert.Equal(t, first, h.store.Reports())
	assert.Equal(t, 3, h.remote.listCalls)
}

// A confirmation applied while a remote page is in flight is replaced by the
// page's older copy; the ledger still records it.
func TestStore_RefreshOverwritesConfirmDuringFetch(t *testing.T) {
	useFakeClock(t, noon)
	h := newHarness(t, domain.Outage, nil)
	h.remote.docs = []domain.Report{seedReport("a", noon)}
	h.load(t)
	ctx := context.Background()

	h.remote.onList = func() {
		h.remote.onList = nil
		ok, err := h.store.Confirm(ctx, "a")
		assert.NoError(t, err)
		assert.True(t, ok)
	}
	require.NoError(t, h.store.Refresh(ctx))

	r, found := h.store.Get("a")
	require.True(t, found)
	assert.Equal(t, 1, r.Confirmations)
	assert.True(t, h.store.ConfirmedToday("a"))
	assert.Equal(t, []string{"a"}, h.remote.confirms)
}

func TestStore_RefreshPersistFailure(t *testing.T) {
	useFakeClock(t, noon)
	h := newHarness(t, domain.Outage, nil)
	h.load(t)

	h.remote.docs = []domain.Report{seedReport("a", noon)}
	h.kv.failSet = true

	require.Error(t, h.store.Refresh(context.Background()))
	assert.Empty(t, h.store.Reports())
}

func TestStore_EventsFollowMutations(t *testing.T) {
	useFakeClock(t, noon)
	h := newHarness(t, domain.Outage, nil)
	h.load(t)
	ctx := context.Background()

	r, err := h.store.Add(ctx, domain.NewReport{Type: "internet"})
	require.NoError(t, err)
	_, err = h.store.Confirm(ctx, r.ID)
	require.NoError(t, err)
	require.NoError(t, h.store.MarkResolved(ctx, r.ID))

	assert.Equal(t, []domain.Action{
		domain.ActionCreated,
		domain.ActionConfirmed,
		domain.ActionResolved,
	}, h.events.actions())
}

func TestStore_Summary(t *testing.T) {
	useFakeClock(t, noon)
	h := newHarness(t, domain.Outage, map[string]string{
		domain.Outage.ReportsKey: mustJSON(t, []domain.Report{seedReport("a", noon), seedReport("b", noon)}),
	})
	h.remote.setOffline(true)
	h.load(t)

	s := h.store.Summary()
	assert.Equal(t, domain.KindOutage, s.Kind)
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 2, s.ByRegion["Littoral"])
}
