package remote

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/couchcryptid/outage-report-sync/internal/domain"
)

// document is the wire shape shared by both kinds. The terminal flag and its
// timestamp use per-kind names and are handled separately.
type document struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	Quartier      string    `json:"quartier"`
	Ville         string    `json:"ville"`
	Region        string    `json:"region"`
	Date          time.Time `json:"date"`
	Confirmations int       `json:"confirmations"`
	PhotoURI      string    `json:"photoUri,omitempty"`
	Commentaire   string    `json:"commentaire,omitempty"`
}

type listResponse struct {
	Documents []json.RawMessage `json:"documents"`
	Total     int               `json:"total"`
}

// decodeDocument maps one remote document to the local report shape.
func decodeDocument(spec domain.KindSpec, raw []byte) (domain.Report, error) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.Report{}, fmt.Errorf("decode %s document: %w", spec.Kind, err)
	}
	if doc.ID == "" {
		return domain.Report{}, fmt.Errorf("decode %s document: missing id", spec.Kind)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return domain.Report{}, fmt.Errorf("decode %s document: %w", spec.Kind, err)
	}

	var resolved bool
	if v, ok := fields[spec.ResolvedField]; ok {
		if err := json.Unmarshal(v, &resolved); err != nil {
			return domain.Report{}, fmt.Errorf("decode %s.%s: %w", spec.Kind, spec.ResolvedField, err)
		}
	}
	var resolutionDate *time.Time
	if v, ok := fields[spec.ResolutionDateField]; ok {
		if err := json.Unmarshal(v, &resolutionDate); err != nil {
			return domain.Report{}, fmt.Errorf("decode %s.%s: %w", spec.Kind, spec.ResolutionDateField, err)
		}
	}

	r := domain.Report{
		ID:             doc.ID,
		Kind:           spec.Kind,
		Type:           doc.Type,
		Latitude:       doc.Latitude,
		Longitude:      doc.Longitude,
		Quartier:       doc.Quartier,
		Ville:          doc.Ville,
		Region:         doc.Region,
		Date:           doc.Date,
		Confirmations:  doc.Confirmations,
		PhotoURI:       doc.PhotoURI,
		Synced:         true,
		Resolved:       resolved,
		ResolutionDate: resolutionDate,
	}
	if spec.HasComment {
		r.Commentaire = doc.Commentaire
	}
	return r.Normalize(), nil
}

// createBody is the payload of a create call. The service assigns the identifier
// and the mutable fields.
func createBody(spec domain.KindSpec, n domain.NewReport) map[string]any {
	body := map[string]any{
		"type":      n.Type,
		"latitude":  n.Latitude,
		"longitude": n.Longitude,
		"quartier":  n.Quartier,
		"ville":     n.Ville,
		"region":    n.Region,
		"date":      n.Date.UTC().Format(time.RFC3339Nano),
	}
	if n.PhotoURI != "" {
		body["photoUri"] = n.PhotoURI
	}
	if spec.HasComment && n.Commentaire != "" {
		body["commentaire"] = n.Commentaire
	}
	return body
}

// wireFields renames the generic terminal-state keys of an update to the kind's names.
func wireFields(spec domain.KindSpec, fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		switch k {
		case "resolved":
			k = spec.ResolvedField
		case "resolutionDate":
			k = spec.ResolutionDateField
		}
		out[k] = v
	}
	return out
}
