// Command validate checks a persisted SQLite local store against the report
// data-model invariants: decodable blobs, unique identifiers, confirmation
// counts, resolution consistency, sync flags and ledger days.
//
// Usage:
//
//	go run ./cmd/validate -sqlite reports.db
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/couchcryptid/outage-report-sync/internal/adapter/localstore"
	"github.com/couchcryptid/outage-report-sync/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// kindData is what was read from the store for one kind.
type kindData struct {
	spec    domain.KindSpec
	reports []domain.Report
	ledger  domain.ConfirmationLedger
}

func main() {
	sqlitePath := flag.String("sqlite", "", "path to the SQLite local store")
	flag.Parse()

	if *sqlitePath == "" {
		flag.Usage()
		os.Exit(1)
	}

	os.Exit(run(*sqlitePath))
}

func run(path string) int {
	fmt.Println("=== Report Store Integrity Validation ===")
	fmt.Println()

	ctx := context.Background()
	kv, err := localstore.OpenSQLite(ctx, path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: open store: %v\n", err)
		return 1
	}
	defer kv.Close()

	decode := &phase{name: "Phase 1: Decoding (persisted blobs)"}
	var data []kindData
	for _, spec := range []domain.KindSpec{domain.Outage, domain.Incident} {
		d, err := loadKind(ctx, kv, spec, decode)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: read %s: %v\n", spec.Kind, err)
			return 1
		}
		data = append(data, d)
	}

	phases := []*phase{
		decode,
		validateReports(data),
		validateSyncFlags(data),
		validateLedger(data, domain.Now()),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	for _, d := range data {
		fmt.Printf("%s: %d reports, %d ledger entries\n", d.spec.Kind, len(d.reports), len(d.ledger))
	}

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

type getter interface {
	Get(ctx context.Context, key string) (string, bool, error)
}

// loadKind reads both blobs of a kind. Undecodable blobs are recorded on p and
// treated as empty; only read errors are fatal.
func loadKind(ctx context.Context, kv getter, spec domain.KindSpec, p *phase) (kindData, error) {
	d := kindData{spec: spec, ledger: domain.ConfirmationLedger{}}

	raw, ok, err := kv.Get(ctx, spec.ReportsKey)
	if err != nil {
		return d, err
	}
	if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &d.reports); err != nil {
			p.errorf("%s: %s is not a JSON report array: %v", spec.Kind, spec.ReportsKey, err)
		}
	}

	raw, ok, err = kv.Get(ctx, spec.LedgerKey)
	if err != nil {
		return d, err
	}
	if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &d.ledger); err != nil {
			p.errorf("%s: %s is not a JSON object: %v", spec.Kind, spec.LedgerKey, err)
		}
	}

	if _, ok, _ := kv.Get(ctx, spec.ReportsKey+".corrupt"); ok {
		fmt.Printf("  Note: %s has a quarantined blob under %s.corrupt\n", spec.Kind, spec.ReportsKey)
	}
	return d, nil
}

// ── Phase 2: Report invariants ──

func validateReports(data []kindData) *phase {
	p := &phase{name: "Phase 2: Report invariants"}
	for _, d := range data {
		seen := make(map[string]bool, len(d.reports))
		for i := range d.reports {
			checkReport(p, d.spec, i, &d.reports[i], seen)
		}
	}
	return p
}

func checkReport(p *phase, spec domain.KindSpec, i int, r *domain.Report, seen map[string]bool) {
	pf := func(format string, args ...any) {
		p.errorf("%s record %d (ID %s): "+format, append([]any{spec.Kind, i, r.ID}, args...)...)
	}

	if r.ID == "" {
		pf("id is empty")
	} else if seen[r.ID] {
		pf("duplicate id")
	}
	seen[r.ID] = true

	if r.Kind != "" && r.Kind != spec.Kind {
		pf("kind %q stored under the %s key", r.Kind, spec.Kind)
	}
	if !spec.ValidType(r.Type) {
		pf("type %q not in %v", r.Type, spec.Types)
	}
	if r.Latitude < -90 || r.Latitude > 90 || r.Longitude < -180 || r.Longitude > 180 {
		pf("coordinates (%g, %g) out of range", r.Latitude, r.Longitude)
	}
	if r.Quartier == "" || r.Ville == "" || r.Region == "" {
		pf("empty location label (expected %q placeholder)", domain.UnknownLabel)
	}
	if r.Date.IsZero() {
		pf("date is zero")
	}
	if r.Confirmations < 1 {
		pf("confirmations %d < 1", r.Confirmations)
	}
	if r.Resolved && r.ResolutionDate == nil {
		pf("resolved without resolutionDate")
	}
	if !r.Resolved && r.ResolutionDate != nil {
		pf("resolutionDate set on unresolved report")
	}
	if !spec.HasComment && r.Commentaire != "" {
		pf("%s reports carry no commentaire", spec.Kind)
	}
}

// ── Phase 3: Sync flags ──
// Temporary identifiers exist only locally; server identifiers came from the remote.

func validateSyncFlags(data []kindData) *phase {
	p := &phase{name: "Phase 3: Sync flags (temporary ids)"}
	for _, d := range data {
		for i, r := range d.reports {
			temp := domain.IsTemporaryID(r.ID)
			if temp && r.Synced {
				p.errorf("%s record %d (ID %s): temporary id marked synced", d.spec.Kind, i, r.ID)
			}
			if !temp && !r.Synced {
				p.errorf("%s record %d (ID %s): server id marked unsynced", d.spec.Kind, i, r.ID)
			}
		}
	}
	return p
}

// ── Phase 4: Confirmation ledger ──

func validateLedger(data []kindData, now time.Time) *phase {
	p := &phase{name: "Phase 4: Confirmation ledger"}
	tomorrow := now.AddDate(0, 0, 1)
	for _, d := range data {
		for id, day := range d.ledger {
			t, err := time.Parse("2006-01-02", day)
			if err != nil {
				p.errorf("%s ledger %s: day %q is not YYYY-MM-DD", d.spec.Kind, id, day)
				continue
			}
			if t.After(tomorrow) {
				p.errorf("%s ledger %s: day %s is in the future", d.spec.Kind, id, day)
			}
		}
	}
	return p
}
