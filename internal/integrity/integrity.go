// Package integrity computes and persists content hashes for file records.
package integrity

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"strings"

	"nasferry/internal/logging"
	"nasferry/internal/metrics"
	"nasferry/internal/records"
	"nasferry/internal/services"
)

// ChunkSize is the read buffer used when streaming files through a hash.
const ChunkSize = 1 << 20

// Result is the outcome of a hash calculation. Found is false when the
// record's file no longer exists.
type Result struct {
	Found     bool
	Value     string
	Algorithm records.HashAlgorithm
	Cached    bool
}

// HashStore is the persistence the verifier writes hashes through.
type HashStore interface {
	UpdateDownloadedFileHash(ctx context.Context, id int64, value string, algorithm records.HashAlgorithm) error
}

// Verifier calculates record hashes with a per-record cache.
type Verifier struct {
	store   HashStore
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewVerifier builds a verifier. store may be nil when only CalculateHash is used.
func NewVerifier(store HashStore, logger *slog.Logger, m *metrics.Metrics) *Verifier {
	return &Verifier{
		store:   store,
		logger:  logging.NewComponentLogger(logger, "integrity"),
		metrics: m,
	}
}

// CalculateHash returns rec's content hash for alg. A cached value for the
// record's current path is returned without reading the file. When the path
// is gone the cached value is dropped and Found is false.
func (v *Verifier) CalculateHash(ctx context.Context, rec *records.FileRecord, alg records.HashAlgorithm) (Result, error) {
	alg, ok := records.ParseHashAlgorithm(string(alg))
	if !ok {
		return Result{}, services.Wrap(services.ErrValidation, "integrity", "hash", fmt.Sprintf("unsupported algorithm %q", alg), nil)
	}
	target := rec.ResolvedPath()
	logger := logging.WithContext(ctx, v.logger).With(logging.RecordID(rec.ID))

	info, err := os.Stat(target)
	if errors.Is(err, os.ErrNotExist) {
		rec.ClearHashCacheFor(alg)
		logger.Debug("hash target missing",
			logging.String(logging.FieldEventType, "hash_not_found"),
			logging.String("path", target),
		)
		return Result{Algorithm: alg}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("stat %s: %w", target, err)
	}
	if info.IsDir() {
		return Result{}, services.Wrap(services.ErrValidation, "integrity", "hash", fmt.Sprintf("%s is a directory", target), nil)
	}

	if value, ok := rec.CachedHash(alg); ok {
		return Result{Found: true, Value: value, Algorithm: alg, Cached: true}, nil
	}

	value, err := HashFile(ctx, target, alg)
	if errors.Is(err, os.ErrNotExist) {
		rec.ClearHashCacheFor(alg)
		return Result{Algorithm: alg}, nil
	}
	if err != nil {
		return Result{}, err
	}
	rec.CacheHash(alg, value)
	v.metrics.Hash(string(alg))
	logger.Debug("hash computed",
		logging.String(logging.FieldEventType, "hash_computed"),
		logging.String("path", target),
		logging.String("algorithm", string(alg)),
		logging.Int64("bytes", info.Size()),
	)
	return Result{Found: true, Value: value, Algorithm: alg}, nil
}

// UpdateHash calculates rec's hash and persists it. A missing file yields a
// Result with Found false and nothing is written.
func (v *Verifier) UpdateHash(ctx context.Context, rec *records.FileRecord, alg records.HashAlgorithm) (Result, error) {
	if v.store == nil {
		return Result{}, services.Wrap(services.ErrConfiguration, "integrity", "update hash", "no store configured", nil)
	}
	res, err := v.CalculateHash(ctx, rec, alg)
	if err != nil || !res.Found {
		return res, err
	}
	if err := v.store.UpdateDownloadedFileHash(ctx, rec.ID, res.Value, res.Algorithm); err != nil {
		return Result{}, fmt.Errorf("persist hash: %w", err)
	}
	rec.FileHash = res.Value
	rec.HashAlgorithm = res.Algorithm
	return res, nil
}

// HashFile streams path through alg in ChunkSize reads. CRC32 is returned as
// eight uppercase hex digits, the others as lowercase hex.
func HashFile(ctx context.Context, path string, alg records.HashAlgorithm) (string, error) {
	h, err := newHash(alg)
	if err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, ChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read %s: %w", path, err)
		}
	}
	sum := hex.EncodeToString(h.Sum(nil))
	if alg == records.HashCRC32 {
		return strings.ToUpper(sum), nil
	}
	return sum, nil
}

func newHash(alg records.HashAlgorithm) (hash.Hash, error) {
	switch alg {
	case records.HashCRC32:
		return crc32.NewIEEE(), nil
	case records.HashSHA256:
		return sha256.New(), nil
	case records.HashSHA1:
		return sha1.New(), nil
	case records.HashMD5:
		return md5.New(), nil
	}
	return nil, services.Wrap(services.ErrValidation, "integrity", "hash", fmt.Sprintf("unsupported algorithm %q", alg), nil)
}
