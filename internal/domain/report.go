package domain

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UnknownLabel is the placeholder stored for location labels that could not be determined.
const UnknownLabel = "N/A"

const temporaryIDPrefix = "local-"

// Kind identifies a report collection.
type Kind string

const (
	KindOutage   Kind = "outage"
	KindIncident Kind = "incident"
)

// KindSpec is the per-kind configuration that parameterises the generic report store.
type KindSpec struct {
	Kind  Kind
	Types []string

	// Collection is the remote document collection name.
	Collection string

	// ReportsKey and LedgerKey are the local persistence keys.
	ReportsKey string
	LedgerKey  string

	// Remote wire names of the terminal flag and its timestamp.
	ResolvedField       string
	ResolutionDateField string

	// HasComment reports whether the kind carries a free-text commentaire.
	HasComment bool
}

// Outage is the utility outage kind (water, electricity, internet).
var Outage = KindSpec{
	Kind:                KindOutage,
	Types:               []string{"water", "electricity", "internet"},
	Collection:          "outages",
	ReportsKey:          "@outages",
	LedgerKey:           "@outage_confirmations",
	ResolvedField:       "estRetablie",
	ResolutionDateField: "dateRetablissement",
}

// Incident is the infrastructure incident kind.
var Incident = KindSpec{
	Kind:                KindIncident,
	Types:               []string{"broken_pipe", "fallen_pole", "cable_on_ground", "other"},
	Collection:          "incidents",
	ReportsKey:          "@incidents",
	LedgerKey:           "@incident_confirmations",
	ResolvedField:       "estResolue",
	ResolutionDateField: "dateResolution",
	HasComment:          true,
}

// ErrUnknownKind is returned by LookupKind for names that are not a known kind.
var ErrUnknownKind = errors.New("unknown report kind")

// LookupKind returns the KindSpec for a kind name such as "outage".
func LookupKind(name string) (KindSpec, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(name))) {
	case KindOutage:
		return Outage, nil
	case KindIncident:
		return Incident, nil
	default:
		return KindSpec{}, fmt.Errorf("%w: %q", ErrUnknownKind, name)
	}
}

// ValidType reports whether t is one of the kind's type tags.
func (k KindSpec) ValidType(t string) bool {
	return slices.Contains(k.Types, t)
}

// Geo represents a WGS-84 latitude/longitude coordinate pair in degrees.
type Geo struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Report is a single user-submitted outage or incident record.
type Report struct {
	ID             string     `json:"id"`
	Kind           Kind       `json:"kind"`
	Type           string     `json:"type"`
	Latitude       float64    `json:"latitude"`
	Longitude      float64    `json:"longitude"`
	Quartier       string     `json:"quartier"`
	Ville          string     `json:"ville"`
	Region         string     `json:"region"`
	Date           time.Time  `json:"date"`
	Confirmations  int        `json:"confirmations"`
	PhotoURI       string     `json:"photoUri,omitempty"`
	Synced         bool       `json:"synced"`
	Resolved       bool       `json:"resolved"`
	ResolutionDate *time.Time `json:"resolutionDate"`
	Commentaire    string     `json:"commentaire,omitempty"`
}

// Geo returns the report coordinates.
func (r Report) Geo() Geo {
	return Geo{Lat: r.Latitude, Lon: r.Longitude}
}

// NewReport holds the caller-supplied fields of a report about to be added.
// Identifier, confirmations, synced flag and resolution state are assigned by the store.
type NewReport struct {
	Type        string    `json:"type"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Quartier    string    `json:"quartier"`
	Ville       string    `json:"ville"`
	Region      string    `json:"region"`
	Date        time.Time `json:"date"`
	PhotoURI    string    `json:"photoUri,omitempty"`
	Commentaire string    `json:"commentaire,omitempty"`
}

// Validate checks the fields a report cannot be stored without.
func (n NewReport) Validate(spec KindSpec) error {
	var errs []error
	if !spec.ValidType(n.Type) {
		errs = append(errs, fmt.Errorf("type %q is not a valid %s type", n.Type, spec.Kind))
	}
	if n.Latitude < -90 || n.Latitude > 90 {
		errs = append(errs, fmt.Errorf("latitude %v out of range", n.Latitude))
	}
	if n.Longitude < -180 || n.Longitude > 180 {
		errs = append(errs, fmt.Errorf("longitude %v out of range", n.Longitude))
	}
	return errors.Join(errs...)
}

// WithDefaults fills blank location labels with UnknownLabel, stamps a zero date
// with the package clock, and clears fields the kind does not carry.
func (n NewReport) WithDefaults(spec KindSpec) NewReport {
	n.Quartier = labelOrUnknown(n.Quartier)
	n.Ville = labelOrUnknown(n.Ville)
	n.Region = labelOrUnknown(n.Region)
	if n.Date.IsZero() {
		n.Date = clock.Now()
	}
	if !spec.HasComment {
		n.Commentaire = ""
	}
	return n
}

// HasUnknownLabel reports whether any location label is still the placeholder.
func (n NewReport) HasUnknownLabel() bool {
	return isUnknown(n.Quartier) || isUnknown(n.Ville) || isUnknown(n.Region)
}

// LocalReport builds the local-only record for a report the remote service did not accept.
func LocalReport(spec KindSpec, n NewReport) Report {
	return Report{
		ID:            NewTemporaryID(clock.Now()),
		Kind:          spec.Kind,
		Type:          n.Type,
		Latitude:      n.Latitude,
		Longitude:     n.Longitude,
		Quartier:      n.Quartier,
		Ville:         n.Ville,
		Region:        n.Region,
		Date:          n.Date,
		Confirmations: 1,
		PhotoURI:      n.PhotoURI,
		Commentaire:   n.Commentaire,
	}
}

// Normalize repairs persisted records that violate the data-model invariants:
// confirmations never drop below one and ResolutionDate is set iff Resolved.
func (r Report) Normalize() Report {
	if r.Confirmations < 1 {
		r.Confirmations = 1
	}
	switch {
	case !r.Resolved:
		r.ResolutionDate = nil
	case r.ResolutionDate == nil:
		d := r.Date
		r.ResolutionDate = &d
	}
	r.Quartier = labelOrUnknown(r.Quartier)
	r.Ville = labelOrUnknown(r.Ville)
	r.Region = labelOrUnknown(r.Region)
	return r
}

// NewTemporaryID returns a client-side identifier: creation time in milliseconds
// plus a random suffix.
func NewTemporaryID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return temporaryIDPrefix + strconv.FormatInt(now.UnixMilli(), 10) + "-" + suffix
}

// IsTemporaryID reports whether id was generated by NewTemporaryID.
func IsTemporaryID(id string) bool {
	return strings.HasPrefix(id, temporaryIDPrefix)
}

func labelOrUnknown(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return UnknownLabel
	}
	return s
}

func isUnknown(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || s == UnknownLabel
}
