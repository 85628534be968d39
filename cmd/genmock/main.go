// Command genmock generates reproducible mock report fixtures for both kinds from
// a CSV list of places. Fixtures can also be written straight into a SQLite
// local store so the service starts with a populated cache.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -places data/mock/places.csv \
//	  -out-dir data/mock \
//	  -sqlite reports.db
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/outage-report-sync/internal/adapter/localstore"
	"github.com/couchcryptid/outage-report-sync/internal/domain"
	"github.com/jonboulle/clockwork"
)

// fixedNow is the reference time every fixture is generated against.
var fixedNow = time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)

type place struct {
	quartier, ville, region string
	lat, lon                float64
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	placesPath := flag.String("places", "data/mock/places.csv", "CSV file of places (Quartier,Ville,Region,Lat,Lon)")
	outDir := flag.String("out-dir", "data/mock", "directory for the JSON fixtures")
	perKind := flag.Int("n", 40, "reports to generate per kind")
	seed := flag.Uint64("seed", 20260314, "random seed")
	sqlitePath := flag.String("sqlite", "", "optional SQLite store to seed with the fixtures")
	flag.Parse()

	if *perKind <= 0 {
		flag.Usage()
		return fmt.Errorf("-n must be positive")
	}

	// Set a fixed clock for reproducible dates and ledger days.
	domain.SetClock(clockwork.NewFakeClockAt(fixedNow))
	defer domain.SetClock(nil)

	places, err := loadPlaces(*placesPath)
	if err != nil {
		return fmt.Errorf("loading places: %w", err)
	}
	log.Printf("places: %d", len(places))

	rng := rand.New(rand.NewPCG(*seed, *seed>>1))

	fixtures := make(map[domain.Kind][]domain.Report)
	ledgers := make(map[domain.Kind]domain.ConfirmationLedger)
	for _, spec := range []domain.KindSpec{domain.Outage, domain.Incident} {
		reports := generate(rng, spec, places, *perKind)
		fixtures[spec.Kind] = reports
		ledgers[spec.Kind] = ledgerFor(rng, reports)

		path := filepath.Join(*outDir, string(spec.Kind)+"_reports.json")
		if err := writeJSON(path, reports); err != nil {
			return fmt.Errorf("writing %s fixture: %w", spec.Kind, err)
		}
		log.Printf("wrote %s fixture: %s (%d reports)", spec.Kind, path, len(reports))
	}

	if *sqlitePath != "" {
		if err := seedSQLite(*sqlitePath, fixtures, ledgers); err != nil {
			return fmt.Errorf("seeding sqlite: %w", err)
		}
		log.Printf("seeded sqlite store: %s", *sqlitePath)
	}

	for _, spec := range []domain.KindSpec{domain.Outage, domain.Incident} {
		printStats(domain.Summarize(spec.Kind, fixtures[spec.Kind]), fixtures[spec.Kind])
	}
	return nil
}

func loadPlaces(path string) ([]place, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("no data rows")
	}

	colIdx := map[string]int{}
	for i, h := range rows[0] {
		colIdx[h] = i
	}

	places := make([]place, 0, len(rows)-1)
	for i, row := range rows[1:] {
		lat, errLat := strconv.ParseFloat(get(row, colIdx, "Lat"), 64)
		lon, errLon := strconv.ParseFloat(get(row, colIdx, "Lon"), 64)
		if errLat != nil || errLon != nil {
			return nil, fmt.Errorf("line %d: invalid coordinates", i+2)
		}
		places = append(places, place{
			quartier: get(row, colIdx, "Quartier"),
			ville:    get(row, colIdx, "Ville"),
			region:   get(row, colIdx, "Region"),
			lat:      lat,
			lon:      lon,
		})
	}
	return places, nil
}

func get(row []string, idx map[string]int, col string) string {
	i, ok := idx[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

var incidentComments = []string{
	"",
	"Water flowing onto the road",
	"Pole leaning over the market",
	"Cable sparking after the rain",
	"Reported to the utility by phone",
}

// generate builds n reports spread over the last three days. Every fifth report
// is a local-only record with a temporary identifier; every third is resolved.
func generate(rng *rand.Rand, spec domain.KindSpec, places []place, n int) []domain.Report {
	reports := make([]domain.Report, 0, n)
	for i := range n {
		p := places[rng.IntN(len(places))]
		date := fixedNow.Add(-time.Duration(rng.IntN(72*60)) * time.Minute)

		r := domain.Report{
			ID:            fmt.Sprintf("mock-%s-%03d", spec.Kind, i+1),
			Kind:          spec.Kind,
			Type:          spec.Types[rng.IntN(len(spec.Types))],
			Latitude:      jitter(rng, p.lat),
			Longitude:     jitter(rng, p.lon),
			Quartier:      p.quartier,
			Ville:         p.ville,
			Region:        p.region,
			Date:          date,
			Confirmations: 1 + rng.IntN(12),
			Synced:        true,
		}
		if spec.HasComment {
			r.Commentaire = incidentComments[rng.IntN(len(incidentComments))]
		}
		if i%3 == 2 {
			resolvedAt := date.Add(time.Duration(30+rng.IntN(600)) * time.Minute)
			if resolvedAt.After(fixedNow) {
				resolvedAt = fixedNow
			}
			r.Resolved = true
			r.ResolutionDate = &resolvedAt
		}
		if i%5 == 4 {
			r.ID = fmt.Sprintf("local-%d-%08x", date.UnixMilli(), rng.Uint32())
			r.Synced = false
			r.Confirmations = 1
		}
		reports = append(reports, r)
	}

	// Most recent first, matching the store's collection order.
	sort.SliceStable(reports, func(i, j int) bool { return reports[i].Date.After(reports[j].Date) })
	return reports
}

// jitter moves a coordinate by up to ~1 km so reports at one place don't overlap.
func jitter(rng *rand.Rand, v float64) float64 {
	return v + (rng.Float64()-0.5)*0.018
}

// ledgerFor marks roughly a quarter of the reports as confirmed on this device,
// today or on one of the previous days.
func ledgerFor(rng *rand.Rand, reports []domain.Report) domain.ConfirmationLedger {
	ledger := domain.ConfirmationLedger{}
	for _, r := range reports {
		if rng.IntN(4) != 0 {
			continue
		}
		day := domain.Now().AddDate(0, 0, -rng.IntN(3))
		ledger = ledger.Record(r.ID, domain.DayString(day, time.UTC))
	}
	return ledger
}

func seedSQLite(path string, fixtures map[domain.Kind][]domain.Report, ledgers map[domain.Kind]domain.ConfirmationLedger) error {
	ctx := context.Background()
	kv, err := localstore.OpenSQLite(ctx, path)
	if err != nil {
		return err
	}
	defer kv.Close()

	for _, spec := range []domain.KindSpec{domain.Outage, domain.Incident} {
		reports, err := json.Marshal(fixtures[spec.Kind])
		if err != nil {
			return err
		}
		if err := kv.Set(ctx, spec.ReportsKey, string(reports)); err != nil {
			return err
		}
		ledger, err := json.Marshal(ledgers[spec.Kind])
		if err != nil {
			return err
		}
		if err := kv.Set(ctx, spec.LedgerKey, string(ledger)); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

func printStats(s domain.Summary, reports []domain.Report) {
	fmt.Printf("\n=== %s fixture stats ===\n", s.Kind)
	fmt.Printf("Total: %d (resolved=%d, unresolved=%d, unsynced=%d)\n", s.Total, s.Resolved, s.Unresolved, s.Unsynced)

	types := make([]string, 0, len(s.ByType))
	for t := range s.ByType {
		types = append(types, t)
	}
	sort.Strings(types)
	fmt.Print("By type:")
	for _, t := range types {
		fmt.Printf(" %s=%d", t, s.ByType[t])
	}
	fmt.Println()
	fmt.Printf("Top regions: %s\n", strings.Join(s.TopRegions, ", "))
	fmt.Printf("Mean time to resolve: %s\n", s.MeanTimeToResolve)

	recent := domain.Recent(reports, fixedNow, 0)
	near := domain.Nearby(reports, fixedNow, domain.Geo{Lat: 4.0511, Lon: 9.7679}, 0)
	fmt.Printf("Recent (24h, unresolved): %d\n", len(recent))
	fmt.Printf("Near Douala (20 km): %d\n", len(near))
}
