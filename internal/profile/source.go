// Package profile loads named pipeline documents from external origins and
// caches them with a TTL.
package profile

import (
	"fmt"
	"strings"

	"github.com/rasterflow-labs/rasterflow-go/internal/domain"
)

// Source kinds.
const (
	SourceObjectStore = "object-store"
	SourceURL         = "url"
)

const defaultRepoRef = "main"

// Source locates a profile document: an object-store coordinate or an
// HTTP(S) URL.
type Source struct {
	Kind   string
	Bucket string
	Key    string
	Region string
	URL    string
}

// ParseSource interprets a locator string: "s3://bucket/key", a direct
// HTTP(S) URL, or a code-hosting shorthand "owner/repo/path[@ref]" resolved
// to a raw-content URL (ref defaults to main).
func ParseSource(raw string) (Source, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Source{}, fmt.Errorf("profile source is empty")
	}

	if rest, ok := strings.CutPrefix(raw, "s3://"); ok {
		bucket, key, found := strings.Cut(rest, "/")
		if !found || bucket == "" || key == "" {
			return Source{}, fmt.Errorf("profile source %q: want s3://bucket/key", raw)
		}
		return Source{Kind: SourceObjectStore, Bucket: bucket, Key: key}, nil
	}

	if domain.IsHTTPURL(raw) {
		return Source{Kind: SourceURL, URL: raw}, nil
	}

	// owner/repo/path[@ref]
	spec, ref := raw, defaultRepoRef
	if at := strings.LastIndex(raw, "@"); at >= 0 {
		spec, ref = raw[:at], raw[at+1:]
		if ref == "" {
			return Source{}, fmt.Errorf("profile source %q: empty ref", raw)
		}
	}
	parts := strings.SplitN(spec, "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Source{}, fmt.Errorf("profile source %q: want owner/repo/path[@ref]", raw)
	}
	url := fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s/%s", parts[0], parts[1], ref, parts[2])
	return Source{Kind: SourceURL, URL: url}, nil
}

// SourceFromRecord builds an object-store source from an explicit
// bucket/key/region record.
func SourceFromRecord(bucket, key, region string) (Source, error) {
	if strings.TrimSpace(bucket) == "" || strings.TrimSpace(key) == "" {
		return Source{}, fmt.Errorf("profile record needs bucket and key")
	}
	return Source{Kind: SourceObjectStore, Bucket: bucket, Key: key, Region: region}, nil
}

// CacheKey returns the canonical string form used to key the cache.
func (s Source) CacheKey() string {
	if s.Kind == SourceObjectStore {
		return fmt.Sprintf("s3://%s/%s", s.Bucket, s.Key)
	}
	return s.URL
}
