package domain

// Reconcile merges the local collection with a page fetched from the remote service.
// Remote is authoritative for every identifier it contains; local records it does
// not contain are left as they are (not yet synced, or deleted remotely; the two
// cases are indistinguishable here). Remote records missing locally are appended
// in remote order. Neither input is modified.
//
// A temporary-id record is never paired with the remote record it may have become,
// so a create whose response was lost shows up twice after reconciliation.
func Reconcile(local, remote []Report) []Report {
	byID := make(map[string]Report, len(remote))
	order := make([]string, 0, len(remote))
	for _, r := range remote {
		if _, dup := byID[r.ID]; dup {
			continue
		}
		r.Synced = true
		byID[r.ID] = r
		order = append(order, r.ID)
	}

	merged := make([]Report, 0, len(local)+len(order))
	seen := make(map[string]struct{}, len(local))
	for _, l := range local {
		seen[l.ID] = struct{}{}
		if r, ok := byID[l.ID]; ok {
			merged = append(merged, r)
			continue
		}
		merged = append(merged, l)
	}
	for _, id := range order {
		if _, ok := seen[id]; ok {
			continue
		}
		merged = append(merged, byID[id])
	}
	return merged
}

// ReconcileStats counts what Reconcile did, for logging and metrics.
type ReconcileStats struct {
	Replaced  int
	Appended  int
	LocalOnly int
}

// DiffStats reports how many local records were replaced, how many remote records
// were appended and how many local records had no remote counterpart.
func DiffStats(local, remote []Report) ReconcileStats {
	remoteIDs := make(map[string]struct{}, len(remote))
	for _, r := range remote {
		remoteIDs[r.ID] = struct{}{}
	}
	localIDs := make(map[string]struct{}, len(local))
	var s ReconcileStats
	for _, l := range local {
		localIDs[l.ID] = struct{}{}
		if _, ok := remoteIDs[l.ID]; ok {
			s.Replaced++
		} else {
			s.LocalOnly++
		}
	}
	for id := range remoteIDs {
		if _, ok := localIDs[id]; !ok {
			s.Appended++
		}
	}
	return s
}
