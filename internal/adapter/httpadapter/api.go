package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/couchcryptid/outage-report-sync/internal/domain"
	"github.com/couchcryptid/outage-report-sync/internal/store"
)

const maxBodyBytes = 1 << 20

// ReportStore is the part of store.Store the API serves.
type ReportStore interface {
	Kind() domain.KindSpec
	Get(id string) (domain.Report, bool)
	ByType(t string) []domain.Report
	ByRegion(region string) []domain.Report
	Recent(window time.Duration) []domain.Report
	Nearby(lat, lon, radiusKm float64) []domain.Report
	Unsynced() []domain.Report
	Summary() domain.Summary
	Add(ctx context.Context, n domain.NewReport) (domain.Report, error)
	Confirm(ctx context.Context, id string) (bool, error)
	MarkResolved(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) bool
	Refresh(ctx context.Context) error
}

// RemoteAdmin is the administrative slice of the remote report service.
type RemoteAdmin interface {
	ListAll(ctx context.Context, filter domain.ListFilter) ([]domain.Report, error)
	Update(ctx context.Context, id string, fields map[string]any) (domain.Report, error)
	Delete(ctx context.Context, id string) error
}

// Backend pairs the store of one kind with its remote admin client.
type Backend struct {
	Store ReportStore
	Admin RemoteAdmin
}

// API serves the /v1/{kind} report routes.
type API struct {
	backends map[domain.Kind]Backend
	logger   *slog.Logger
}

// NewAPI builds an API over the given backends, one per kind.
func NewAPI(logger *slog.Logger, backends ...Backend) *API {
	m := make(map[domain.Kind]Backend, len(backends))
	for _, b := range backends {
		m[b.Store.Kind().Kind] = b
	}
	return &API{backends: m, logger: logger}
}

// Register adds the report routes to mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/{kind}/reports", a.withBackend(a.handleList))
	mux.HandleFunc("GET /v1/{kind}/reports/recent", a.withBackend(a.handleRecent))
	mux.HandleFunc("GET /v1/{kind}/reports/nearby", a.withBackend(a.handleNearby))
	mux.HandleFunc("GET /v1/{kind}/reports/unsynced", a.withBackend(a.handleUnsynced))
	mux.HandleFunc("GET /v1/{kind}/reports/{id}", a.withBackend(a.handleGet))
	mux.HandleFunc("POST /v1/{kind}/reports", a.withBackend(a.handleAdd))
	mux.HandleFunc("POST /v1/{kind}/reports/{id}/confirm", a.withBackend(a.handleConfirm))
	mux.HandleFunc("POST /v1/{kind}/reports/{id}/resolve", a.withBackend(a.handleResolve))
	mux.HandleFunc("DELETE /v1/{kind}/reports/{id}", a.withBackend(a.handleDelete))
	mux.HandleFunc("PATCH /v1/{kind}/reports/{id}", a.withBackend(a.handleUpdate))
	mux.HandleFunc("POST /v1/{kind}/refresh", a.withBackend(a.handleRefresh))
	mux.HandleFunc("GET /v1/{kind}/stats", a.withBackend(a.handleStats))
}

type backendHandler func(w http.ResponseWriter, r *http.Request, b Backend)

func (a *API) withBackend(h backendHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		spec, err := domain.LookupKind(r.PathValue("kind"))
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		b, ok := a.backends[spec.Kind]
		if !ok {
			writeError(w, http.StatusNotFound, "kind "+string(spec.Kind)+" is not enabled")
			return
		}
		h(w, r, b)
	}
}

type listResponse struct {
	Reports []domain.Report `json:"reports"`
	Count   int             `json:"count"`
}

func writeReports(w http.ResponseWriter, reports []domain.Report) {
	if reports == nil {
		reports = []domain.Report{}
	}
	writeJSON(w, http.StatusOK, listResponse{Reports: reports, Count: len(reports)})
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request, b Backend) {
	q := r.URL.Query()
	reports := b.Store.ByType(q.Get("type"))
	if region := q.Get("region"); region != "" {
		reports = domain.ByRegion(reports, region)
	}
	writeReports(w, reports)
}

func (a *API) handleRecent(w http.ResponseWriter, r *http.Request, b Backend) {
	var window time.Duration
	if raw := r.URL.Query().Get("hours"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours <= 0 {
			writeError(w, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		window = time.Duration(hours) * time.Hour
	}
	writeReports(w, b.Store.Recent(window))
}

func (a *API) handleNearby(w http.ResponseWriter, r *http.Request, b Backend) {
	q := r.URL.Query()
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil || lat < -90 || lat > 90 {
		writeError(w, http.StatusBadRequest, "lat must be a number in [-90, 90]")
		return
	}
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil || lon < -180 || lon > 180 {
		writeError(w, http.StatusBadRequest, "lon must be a number in [-180, 180]")
		return
	}
	var radius float64
	if raw := q.Get("radius_km"); raw != "" {
		radius, err = strconv.ParseFloat(raw, 64)
		if err != nil || radius <= 0 {
			writeError(w, http.StatusBadRequest, "radius_km must be a positive number")
			return
		}
	}
	writeReports(w, b.Store.Nearby(lat, lon, radius))
}

func (a *API) handleUnsynced(w http.ResponseWriter, _ *http.Request, b Backend) {
	writeReports(w, b.Store.Unsynced())
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request, b Backend) {
	report, ok := b.Store.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, store.ErrReportNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleAdd(w http.ResponseWriter, r *http.Request, b Backend) {
	var n domain.NewReport
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&n); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	report, err := b.Store.Add(r.Context(), n)
	if err != nil {
		a.writeStoreError(w, "add report", err)
		return
	}
	writeJSON(w, http.StatusCreated, report)
}

type confirmResponse struct {
	Confirmed bool           `json:"confirmed"`
	Reason    string         `json:"reason,omitempty"`
	Report    *domain.Report `json:"report,omitempty"`
}

func (a *API) handleConfirm(w http.ResponseWriter, r *http.Request, b Backend) {
	id := r.PathValue("id")
	ok, err := b.Store.Confirm(r.Context(), id)
	if err != nil {
		a.writeStoreError(w, "confirm report", err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusConflict, confirmResponse{Reason: "already confirmed today"})
		return
	}
	resp := confirmResponse{Confirmed: true}
	if report, found := b.Store.Get(id); found {
		resp.Report = &report
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleResolve(w http.ResponseWriter, r *http.Request, b Backend) {
	id := r.PathValue("id")
	if err := b.Store.MarkResolved(r.Context(), id); err != nil {
		a.writeStoreError(w, "resolve report", err)
		return
	}
	report, _ := b.Store.Get(id)
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleDelete(w http.ResponseWriter, r *http.Request, b Backend) {
	id := r.PathValue("id")
	if !domain.IsTemporaryID(id) {
		if err := b.Admin.Delete(r.Context(), id); err != nil {
			a.logger.Warn("remote delete failed", "id", id, "error", err)
			writeError(w, http.StatusBadGateway, "remote delete failed: "+err.Error())
			return
		}
	}
	if !b.Store.Remove(r.Context(), id) && domain.IsTemporaryID(id) {
		writeError(w, http.StatusNotFound, store.ErrReportNotFound.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUpdate(w http.ResponseWriter, r *http.Request, b Backend) {
	id := r.PathValue("id")
	var fields map[string]any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&fields); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if len(fields) == 0 {
		writeError(w, http.StatusBadRequest, "no fields to update")
		return
	}
	updated, err := b.Admin.Update(r.Context(), id, fields)
	if err != nil {
		a.logger.Warn("remote update failed", "id", id, "error", err)
		writeError(w, http.StatusBadGateway, "remote update failed: "+err.Error())
		return
	}
	if err := b.Store.Refresh(r.Context()); err != nil {
		a.writeStoreError(w, "refresh after update", err)
		return
	}
	if report, ok := b.Store.Get(id); ok {
		updated = report
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request, b Backend) {
	if err := b.Store.Refresh(r.Context()); err != nil {
		a.writeStoreError(w, "refresh", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unsynced": len(b.Store.Unsynced())})
}

type statsResponse struct {
	Source  string         `json:"source"`
	Summary domain.Summary `json:"summary"`
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request, b Backend) {
	kind := b.Store.Kind().Kind
	all, err := b.Admin.ListAll(r.Context(), domain.ListFilter{})
	if err != nil {
		a.logger.Warn("remote stats unavailable, summarising local reports", "kind", string(kind), "error", err)
		writeJSON(w, http.StatusOK, statsResponse{Source: "local", Summary: b.Store.Summary()})
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Source: "remote", Summary: domain.Summarize(kind, all)})
}

func (a *API) writeStoreError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, store.ErrNotReady):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, store.ErrReportNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrInvalidReport):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		a.logger.Error(op+" failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response body
}
