// Package http exposes routing and action lists over a JSON API built on chi.
//
// Documents are routed with POST /documents and advanced through their action items
// (POST /action-items/{id}/act). Principals read their lists under /principals/{id}.
// Domain errors map to status codes: not found is 404, stale or illegal state is 409,
// invalid templates and items are 422 and malformed requests are 400.
package http
