// Package store implements the offline-first Report Store: an in-memory report
// collection kept byte-for-byte in step with a local key/value blob, reconciled
// opportunistically with a remote report service.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/couchcryptid/outage-report-sync/internal/domain"
	"github.com/couchcryptid/outage-report-sync/internal/observability"
)

var (
	// ErrNotReady is returned by mutations issued before Load has completed.
	ErrNotReady = errors.New("report store is not ready")

	// ErrAlreadyLoaded is returned when Load is called a second time.
	ErrAlreadyLoaded = errors.New("report store already loaded")

	// ErrReportNotFound is returned for identifiers absent from the local collection.
	ErrReportNotFound = errors.New("report not found")

	// ErrInvalidReport wraps validation failures of Add.
	ErrInvalidReport = errors.New("invalid report")
)

// KeyValueStore is the local persistence adapter. Get reports ok=false for a missing key.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// RemoteService is the slice of the remote report service the store depends on.
type RemoteService interface {
	List(ctx context.Context, filter domain.ListFilter) ([]domain.Report, error)
	Create(ctx context.Context, n domain.NewReport) (domain.Report, error)
	Confirm(ctx context.Context, id string) (domain.Report, error)
	Resolve(ctx context.Context, id string) (domain.Report, error)
}

// EventPublisher receives a change event after every applied mutation.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.ReportEvent) error
}

// State is the store lifecycle position.
type State int32

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// Options tune a Store. The zero value is usable.
type Options struct {
	// Location is the device time zone used for confirmation days. Nil means time.Local.
	Location *time.Location

	// LedgerRetentionDays prunes ledger entries older than this many days. Zero keeps all.
	LedgerRetentionDays int

	// PageSize caps the remote page fetched by a reconciliation pass. Zero means 200.
	PageSize int

	// Geocoder fills unknown location labels on Add. Optional.
	Geocoder domain.Geocoder

	// Publisher receives change events. Optional.
	Publisher EventPublisher
}

// Store owns the report collection and confirmation ledger of one report kind.
type Store struct {
	spec    domain.KindSpec
	local   KeyValueStore
	remote  RemoteService
	opts    Options
	logger  *slog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	state   State
	reports []domain.Report
	ledger  domain.ConfirmationLedger
}

// New creates a Store for the given kind. It does no I/O until Load.
func New(spec domain.KindSpec, local KeyValueStore, remote RemoteService, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Store {
	if opts.PageSize <= 0 {
		opts.PageSize = domain.DefaultPageSize
	}
	return &Store{
		spec:    spec,
		local:   local,
		remote:  remote,
		opts:    opts,
		logger:  logger.With("kind", string(spec.Kind)),
		metrics: metrics,
		ledger:  domain.ConfirmationLedger{},
	}
}

// Kind returns the store's kind configuration.
func (s *Store) Kind() domain.KindSpec {
	return s.spec
}

// State returns the current lifecycle state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CheckReadiness returns nil once Load has finished.
func (s *Store) CheckReadiness(_ context.Context) error {
	if st := s.State(); st != StateReady {
		return fmt.Errorf("%s store is %s", s.spec.Kind, st)
	}
	return nil
}

// Load reads the persisted collection and ledger, runs one reconciliation pass and
// moves the store to Ready. Remote failures never fail Load; only local
// persistence errors do, in which case the store returns to Uninitialized.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateUninitialized {
		s.mu.Unlock()
		return ErrAlreadyLoaded
	}
	s.state = StateLoading

	reports, ledger, err := s.readPersisted(ctx)
	if err != nil {
		s.state = StateUninitialized
		s.mu.Unlock()
		return err
	}
	s.reports = reports
	s.ledger = ledger
	s.mu.Unlock()

	s.logger.Info("local reports loaded", "reports", len(reports), "ledger_entries", len(ledger))

	err = s.reconcile(ctx)

	s.mu.Lock()
	s.state = StateReady
	s.updateGauges()
	s.mu.Unlock()
	s.metrics.StoreReady.WithLabelValues(string(s.spec.Kind)).Set(1)

	if err != nil {
		s.logger.Error("persisting reconciled reports failed", "error", err)
	}
	s.logger.Info("report store ready")
	return nil
}

// Refresh re-runs the reconciliation pass against the current collection.
// Remote failures are absorbed; a local persistence failure is returned.
func (s *Store) Refresh(ctx context.Context) error {
	if s.State() != StateReady {
		return ErrNotReady
	}
	return s.reconcile(ctx)
}

func (s *Store) reconcile(ctx context.Context) error {
	kind := string(s.spec.Kind)

	remote, err := s.remote.List(ctx, domain.ListFilter{Limit: s.opts.PageSize})
	if err != nil {
		s.metrics.Reconciliations.WithLabelValues(kind, "remote_error").Inc()
		s.logger.Warn("reconciliation skipped, remote unavailable", "error", err)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stats := domain.DiffStats(s.reports, remote)
	merged := domain.Reconcile(s.reports, remote)
	if err := s.persistReports(ctx, merged); err != nil {
		s.metrics.Reconciliations.WithLabelValues(kind, "persist_error").Inc()
		return err
	}
	s.reports = merged
	s.updateGauges()

	s.metrics.Reconciliations.WithLabelValues(kind, "success").Inc()
	s.metrics.ReconciledItems.WithLabelValues(kind, "replaced").Add(float64(stats.Replaced))
	s.metrics.ReconciledItems.WithLabelValues(kind, "appended").Add(float64(stats.Appended))
	s.metrics.ReconciledItems.WithLabelValues(kind, "local_only").Add(float64(stats.LocalOnly))
	s.logger.Debug("reconciliation complete",
		"replaced", stats.Replaced,
		"appended", stats.Appended,
		"local_only", stats.LocalOnly,
	)
	return nil
}

// Add creates a report. The remote service is tried first; if it fails the report
// is stored locally under a temporary identifier with Synced=false. Either way the
// new report becomes the first element of the collection.
func (s *Store) Add(ctx context.Context, n domain.NewReport) (domain.Report, error) {
	if s.State() != StateReady {
		return domain.Report{}, ErrNotReady
	}
	if err := n.Validate(s.spec); err != nil {
		return domain.Report{}, fmt.Errorf("%w: %w", ErrInvalidReport, err)
	}

	n = n.WithDefaults(s.spec)
	n = domain.EnrichWithGeocoding(ctx, n, s.opts.Geocoder, s.logger)

	report, err := s.remote.Create(ctx, n)
	if err != nil {
		s.logger.Warn("remote create failed, keeping report locally", "error", err)
		report = domain.LocalReport(s.spec, n)
	} else {
		report.Kind = s.spec.Kind
		report.Synced = true
	}

	s.mu.Lock()
	next := make([]domain.Report, 0, len(s.reports)+1)
	next = append(next, report)
	next = append(next, s.reports...)
	if err := s.persistReports(ctx, next); err != nil {
		s.mu.Unlock()
		return domain.Report{}, err
	}
	s.reports = next
	s.updateGauges()
	s.mu.Unlock()

	s.recordMutation(domain.ActionCreated, report.Synced)
	s.publish(ctx, domain.NewReportEvent(domain.ActionCreated, report))
	return report, nil
}

// Confirm adds one confirmation to a report. It returns false without changing
// anything when this device already confirmed the report today.
func (s *Store) Confirm(ctx context.Context, id string) (bool, error) {
	if s.State() != StateReady {
		return false, ErrNotReady
	}
	kind := string(s.spec.Kind)
	today := domain.DayString(domain.Now(), s.opts.Location)

	s.mu.Lock()
	if s.ledger.ConfirmedOn(id, today) {
		s.mu.Unlock()
		s.metrics.Confirmations.WithLabelValues(kind, "already_today").Inc()
		return false, nil
	}

	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		s.metrics.Confirmations.WithLabelValues(kind, "not_found").Inc()
		return false, fmt.Errorf("confirm %s: %w", id, ErrReportNotFound)
	}

	next := cloneReports(s.reports)
	next[idx].Confirmations++
	ledger := s.ledger.Record(id, today).Prune(today, s.opts.LedgerRetentionDays)

	// Ledger first. A failed reports write restores the previous ledger, and
	// memory is only swapped once both blobs are written.
	if err := s.persistLedger(ctx, ledger); err != nil {
		s.mu.Unlock()
		return false, err
	}
	if err := s.persistReports(ctx, next); err != nil {
		if rerr := s.persistLedger(ctx, s.ledger); rerr != nil {
			s.logger.Error("ledger rollback failed", "id", id, "error", rerr)
		}
		s.mu.Unlock()
		return false, err
	}
	s.reports = next
	s.ledger = ledger
	confirmed := next[idx]
	s.mu.Unlock()

	s.metrics.Confirmations.WithLabelValues(kind, "accepted").Inc()

	synced := true
	if _, err := s.remote.Confirm(ctx, id); err != nil {
		synced = false
		s.logger.Warn("remote confirm failed", "id", id, "error", err)
	}
	s.recordMutation(domain.ActionConfirmed, synced)
	s.publish(ctx, domain.NewReportEvent(domain.ActionConfirmed, confirmed))
	return true, nil
}

// MarkResolved flags a report resolved and stamps the resolution time. Calling it
// again on a resolved report rewrites the timestamp.
func (s *Store) MarkResolved(ctx context.Context, id string) error {
	if s.State() != StateReady {
		return ErrNotReady
	}

	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("resolve %s: %w", id, ErrReportNotFound)
	}

	now := domain.Now()
	next := cloneReports(s.reports)
	next[idx].Resolved = true
	next[idx].ResolutionDate = &now

	if err := s.persistReports(ctx, next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.reports = next
	resolved := next[idx]
	s.mu.Unlock()

	synced := true
	if _, err := s.remote.Resolve(ctx, id); err != nil {
		synced = false
		s.logger.Warn("remote resolve failed", "id", id, "error", err)
	}
	s.recordMutation(domain.ActionResolved, synced)
	s.publish(ctx, domain.NewReportEvent(domain.ActionResolved, resolved))
	return nil
}

// Remove drops a report from the in-memory collection only. The persisted blob is
// left as is; administrative callers pair it with a remote delete. It reports
// whether the identifier was present. Before Load completes it does nothing and
// returns false.
func (s *Store) Remove(ctx context.Context, id string) bool {
	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return false
	}
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	removed := s.reports[idx]
	next := make([]domain.Report, 0, len(s.reports)-1)
	next = append(next, s.reports[:idx]...)
	next = append(next, s.reports[idx+1:]...)
	s.reports = next
	s.updateGauges()
	s.mu.Unlock()

	s.recordMutation(domain.ActionRemoved, removed.Synced)
	s.publish(ctx, domain.NewReportEvent(domain.ActionRemoved, removed))
	return true
}

func (s *Store) indexOf(id string) int {
	for i, r := range s.reports {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) recordMutation(action domain.Action, synced bool) {
	s.metrics.Mutations.WithLabelValues(string(s.spec.Kind), string(action), strconv.FormatBool(synced)).Inc()
}

func (s *Store) publish(ctx context.Context, event domain.ReportEvent) {
	if s.opts.Publisher == nil {
		return
	}
	kind := string(s.spec.Kind)
	if err := s.opts.Publisher.Publish(ctx, event); err != nil {
		s.metrics.EventsPublished.WithLabelValues(kind, "error").Inc()
		s.logger.Warn("publish report event failed",
			"action", string(event.Action),
			"id", event.Report.ID,
			"error", err,
		)
		return
	}
	s.metrics.EventsPublished.WithLabelValues(kind, "success").Inc()
}

// updateGauges must be called with s.mu held.
func (s *Store) updateGauges() {
	kind := string(s.spec.Kind)
	s.metrics.ReportsTracked.WithLabelValues(kind).Set(float64(len(s.reports)))
	unsynced := 0
	for _, r := range s.reports {
		if !r.Synced {
			unsynced++
		}
	}
	s.metrics.UnsyncedReports.WithLabelValues(kind).Set(float64(unsynced))
}

func (s *Store) persistReports(ctx context.Context, reports []domain.Report) error {
	if reports == nil {
		reports = []domain.Report{}
	}
	data, err := json.Marshal(reports)
	if err != nil {
		return fmt.Errorf("encode %s reports: %w", s.spec.Kind, err)
	}
	if err := s.local.Set(ctx, s.spec.ReportsKey, string(data)); err != nil {
		return fmt.Errorf("persist %s reports: %w", s.spec.Kind, err)
	}
	return nil
}

func (s *Store) persistLedger(ctx context.Context, ledger domain.ConfirmationLedger) error {
	data, err := json.Marshal(ledger)
	if err != nil {
		return fmt.Errorf("encode %s ledger: %w", s.spec.Kind, err)
	}
	if err := s.local.Set(ctx, s.spec.LedgerKey, string(data)); err != nil {
		return fmt.Errorf("persist %s ledger: %w", s.spec.Kind, err)
	}
	return nil
}

// readPersisted loads both blobs. Malformed blobs are quarantined under
// "<key>.corrupt" and treated as empty.
func (s *Store) readPersisted(ctx context.Context) ([]domain.Report, domain.ConfirmationLedger, error) {
	var reports []domain.Report
	if err := s.readBlob(ctx, s.spec.ReportsKey, &reports); err != nil {
		return nil, nil, err
	}
	for i := range reports {
		reports[i] = reports[i].Normalize()
		if reports[i].Kind == "" {
			reports[i].Kind = s.spec.Kind
		}
	}

	ledger := domain.ConfirmationLedger{}
	if err := s.readBlob(ctx, s.spec.LedgerKey, &ledger); err != nil {
		return nil, nil, err
	}
	if ledger == nil {
		ledger = domain.ConfirmationLedger{}
	}
	today := domain.DayString(domain.Now(), s.opts.Location)
	ledger = ledger.Prune(today, s.opts.LedgerRetentionDays)

	return reports, ledger, nil
}

func (s *Store) readBlob(ctx context.Context, key string, dst any) error {
	raw, ok, err := s.local.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	if !ok || raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		s.logger.Warn("malformed persisted blob, starting empty", "key", key, "error", err)
		if qerr := s.local.Set(ctx, key+".corrupt", raw); qerr != nil {
			return fmt.Errorf("quarantine %s: %w", key, qerr)
		}
		if rerr := s.local.Remove(ctx, key); rerr != nil {
			return fmt.Errorf("remove %s: %w", key, rerr)
		}
		zeroBlob(dst)
	}
	return nil
}

func zeroBlob(dst any) {
	switch v := dst.(type) {
	case *[]domain.Report:
		*v = nil
	case *domain.ConfirmationLedger:
		*v = domain.ConfirmationLedger{}
	}
}

func cloneReports(reports []domain.Report) []domain.Report {
	out := make([]domain.Report, len(reports))
	copy(out, reports)
	return out
}
