// Package api serves the operator HTTP API over the record store.
//
// # Routes
//
//	GET   /api/health
//	GET   /api/files              search (status, type, q, show_id, page, page_size, sort, order)
//	GET   /api/files/{id}
//	PATCH /api/files/{id}         manual status override {"status", "error_message"}
//	POST  /api/files/{id}/reset
//	POST  /api/files/{id}/hash    ?algorithm=crc32|sha256|sha1|md5
//	GET   /metrics
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Statuses and file types are exposed as their
// lowercase string values. Timestamps use RFC3339 with milliseconds. Every
// response carries an X-Request-ID header, generated when the client sends
// none, and the id is attached to the request context for logging.
package api
