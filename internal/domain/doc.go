// Package domain models crowdsourced utility-outage and infrastructure-incident
// reports and the pure rules that keep an on-device copy of them consistent with
// a remote document store.
//
// # Report Kinds
//
// Two kinds share one shape and differ only in configuration (see [KindSpec]):
//
//	outage    water | electricity | internet
//	incident  broken_pipe | fallen_pole | cable_on_ground | other
//
// Incidents additionally carry a free-text "commentaire". The remote service names
// the terminal flag per kind ("estRetablie" for outages, "estResolue" for incidents);
// locally the generic Resolved / ResolutionDate fields are used.
//
// # Identifiers
//
// Records created while the remote service is unreachable receive a temporary
// identifier of the form "local-<unix millis>-<8 hex>". A record created remotely
// keeps the identifier assigned by the service. Temporary records are never matched
// to their remote counterpart later; see [Reconcile].
//
// # Reconciliation
//
// [Reconcile] is a pure function (local, remote) -> merged:
//
//	local id found remotely   -> remote copy replaces it, Synced = true
//	remote id not found local -> appended in remote order, Synced = true
//	local id not found remote -> kept unchanged
//
// Running it twice with the same remote page yields the same collection.
//
// # Day Boundaries
//
// Confirmations are limited to one per report per calendar day per device. The day
// is a "YYYY-MM-DD" string computed in the device time zone (see [DayString]), so
// 23:59:59 and 00:00:01 fall on different days even though they are two seconds apart.
//
// # Windows
//
// Recency windows are trailing: a record is recent when date >= now - window.
// Proximity uses the Haversine great-circle distance on a 6371 km sphere.
package domain
