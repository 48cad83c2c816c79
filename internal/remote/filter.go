package remote

import (
	"path"
	"strings"
	"time"

	"nasferry/internal/config"
)

// Skip reasons reported by Filter.Check.
const (
	SkipNone      = ""
	SkipTooSmall  = "below_min_size"
	SkipSettling  = "settling"
	SkipExtension = "excluded_extension"
	SkipKeyword   = "excluded_keyword"
)

// Filter is the crawl filter policy. Checks run in a fixed order and stop at
// the first rule that rejects the entry.
type Filter struct {
	MinSize            int64
	Settle             time.Duration
	ExcludedExtensions []string
	ExcludedKeywords   []string
}

// NewFilter builds the policy from the crawl configuration.
func NewFilter(cfg config.Crawl) Filter {
	f := Filter{
		MinSize: cfg.MinSizeBytes,
		Settle:  time.Duration(cfg.SettleSeconds) * time.Second,
	}
	for _, ext := range cfg.ExcludedExtensions {
		f.ExcludedExtensions = append(f.ExcludedExtensions, strings.ToLower(ext))
	}
	for _, kw := range cfg.ExcludedKeywords {
		f.ExcludedKeywords = append(f.ExcludedKeywords, strings.ToLower(kw))
	}
	return f
}

// Check returns SkipNone when entry should be reported, otherwise the reason
// it was dropped.
func (f Filter) Check(entry Entry, now time.Time) string {
	if !entry.IsDir && f.MinSize > 0 && entry.Size <= f.MinSize {
		return SkipTooSmall
	}
	if f.Settle > 0 && entry.ModTime.After(now.Add(-f.Settle)) {
		return SkipSettling
	}
	name := strings.ToLower(entry.Name)
	if !entry.IsDir {
		ext := path.Ext(name)
		for _, excluded := range f.ExcludedExtensions {
			if ext == excluded {
				return SkipExtension
			}
		}
	}
	for _, kw := range f.ExcludedKeywords {
		if strings.Contains(name, kw) {
			return SkipKeyword
		}
	}
	return SkipNone
}

// Allow reports whether entry passes every rule.
func (f Filter) Allow(entry Entry, now time.Time) bool {
	return f.Check(entry, now) == SkipNone
}
