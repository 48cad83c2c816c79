// Package records defines the durable file record owned by the sync pipeline:
// its status state machine, derived file type, per-algorithm hash cache, and
// the Store interface every persistence backend implements.
//
// Records are created by the downloader in StatusDownloaded, advanced by the
// routing engine through StatusProcessing to StatusRouted or StatusError, and
// adjusted by operators via manual overrides. The pipeline never deletes
// records; StatusDeleted is a terminal marker.
package records
