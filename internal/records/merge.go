package records

import "time"

// MergeUpsert computes the row an upsert of incoming should leave behind when
// existing (possibly nil) is already stored under the same remote path.
//
// A record whose remote content is unchanged keeps its lifecycle, routing
// outcome, and hashes; only the fetch time moves forward. Changed content
// replaces the stored record and restarts its lifecycle under the same id.
func MergeUpsert(existing, incoming *FileRecord, now time.Time) *FileRecord {
	now = now.UTC()
	if existing == nil {
		out := incoming.Clone()
		if out.CreatedAt.IsZero() {
			out.CreatedAt = now
		}
		out.UpdatedAt = now
		return out
	}
	if sameContent(existing, incoming) {
		out := existing.Clone()
		out.Name = incoming.Name
		out.FetchedAt = incoming.FetchedAt
		if out.CurrentPath == "" {
			out.CurrentPath = incoming.CurrentPath
		}
		out.UpdatedAt = now
		return out
	}
	out := incoming.Clone()
	out.ID = existing.ID
	out.CreatedAt = existing.CreatedAt
	out.UpdatedAt = now
	return out
}

func sameContent(a, b *FileRecord) bool {
	return a.RemotePath == b.RemotePath &&
		a.Size == b.Size &&
		a.IsDir == b.IsDir &&
		a.ModTime.Truncate(time.Second).Equal(b.ModTime.Truncate(time.Second))
}
