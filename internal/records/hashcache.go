package records

import "strings"

// HashAlgorithm names a supported content hash.
type HashAlgorithm string

const (
	HashCRC32  HashAlgorithm = "crc32"
	HashSHA256 HashAlgorithm = "sha256"
	HashSHA1   HashAlgorithm = "sha1"
	HashMD5    HashAlgorithm = "md5"
)

// DefaultHashAlgorithm is used when callers do not choose one.
const DefaultHashAlgorithm = HashCRC32

// ParseHashAlgorithm converts user input into a HashAlgorithm.
func ParseHashAlgorithm(value string) (HashAlgorithm, bool) {
	alg := HashAlgorithm(strings.ToLower(strings.TrimSpace(value)))
	if alg == "" {
		return DefaultHashAlgorithm, true
	}
	switch alg {
	case HashCRC32, HashSHA256, HashSHA1, HashMD5:
		return alg, true
	}
	return alg, false
}

// cachedHash remembers which path produced the value so a moved record does
// not report a hash for a location it no longer occupies.
type cachedHash struct {
	path  string
	value string
}

// CachedHash returns the cached value for alg if it was computed for the
// record's current resolved path.
func (r *FileRecord) CachedHash(alg HashAlgorithm) (string, bool) {
	entry, ok := r.hashes[alg]
	if !ok || entry.path != r.ResolvedPath() {
		return "", false
	}
	return entry.value, true
}

// CacheHash stores value for alg against the current resolved path.
func (r *FileRecord) CacheHash(alg HashAlgorithm, value string) {
	if r.hashes == nil {
		r.hashes = make(map[HashAlgorithm]cachedHash)
	}
	r.hashes[alg] = cachedHash{path: r.ResolvedPath(), value: value}
}

// ClearHashCacheFor drops the cached value for one algorithm.
func (r *FileRecord) ClearHashCacheFor(alg HashAlgorithm) {
	delete(r.hashes, alg)
}

// ClearHashCache drops every cached value.
func (r *FileRecord) ClearHashCache() {
	r.hashes = nil
}
