package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rasterflow-labs/rasterflow-go/internal/domain"
	"github.com/rasterflow-labs/rasterflow-go/internal/platform/objectstore"
	"github.com/rasterflow-labs/rasterflow-go/internal/validate"
)

// FetchFunc retrieves the raw bytes of a profile document from its origin.
type FetchFunc func(ctx context.Context, src Source) ([]byte, error)

type entry struct {
	profile   domain.Profile
	fetchedAt time.Time
}

// Cache holds fetched profile documents keyed by canonical source string.
// Expiry is checked lazily at read time; there is no background sweep.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	fetch   FetchFunc

	now func() time.Time
}

func NewCache(ttl time.Duration, fetch FetchFunc) (*Cache, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("ttl must be positive")
	}
	if fetch == nil {
		return nil, fmt.Errorf("fetch func is required")
	}
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		fetch:   fetch,
		now:     time.Now,
	}, nil
}

// Load returns the cached document for src when a live entry exists;
// otherwise it fetches, decodes, validates, and caches the document. A race
// between two loaders for the same key costs at most a redundant refetch.
func (c *Cache) Load(ctx context.Context, src Source) (domain.Profile, error) {
	key := src.CacheKey()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.now().Sub(e.fetchedAt) < c.ttl {
		c.mu.Unlock()
		return e.profile, nil
	}
	delete(c.entries, key)
	c.mu.Unlock()

	raw, err := c.fetch(ctx, src)
	if err != nil {
		return domain.Profile{}, &domain.ProfileError{Source: key, Err: err}
	}

	profile, err := decodeProfile(raw)
	if err != nil {
		return domain.Profile{}, &domain.ProfileError{Source: key, Err: err}
	}
	if err := validate.Profile(profile); err != nil {
		return domain.Profile{}, &domain.ProfileError{Source: key, Err: err}
	}

	c.mu.Lock()
	c.entries[key] = entry{profile: profile, fetchedAt: c.now()}
	c.mu.Unlock()
	return profile, nil
}

// Invalidate removes the entry for key, or every entry when key is empty.
// It reports how many entries were removed.
func (c *Cache) Invalidate(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if key == "" {
		removed := len(c.entries)
		c.entries = make(map[string]entry)
		return removed
	}
	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		return 1
	}
	return 0
}

// EntryInfo describes one cached document for listing.
type EntryInfo struct {
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	FetchedAt time.Time `json:"fetchedAt"`
	AgeMs     int64     `json:"ageMs"`
}

func (c *Cache) List() []EntryInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	infos := make([]EntryInfo, 0, len(c.entries))
	for key, e := range c.entries {
		infos = append(infos, EntryInfo{
			Key:       key,
			Name:      e.profile.Name,
			FetchedAt: e.fetchedAt,
			AgeMs:     now.Sub(e.fetchedAt).Milliseconds(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos
}

// decodeProfile accepts JSON or YAML. YAML is normalized through a generic
// decode so the wire types land in the same struct tags as JSON.
func decodeProfile(raw []byte) (domain.Profile, error) {
	var profile domain.Profile
	if err := json.Unmarshal(raw, &profile); err == nil {
		return profile, nil
	}

	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return domain.Profile{}, fmt.Errorf("document is neither JSON nor YAML: %w", err)
	}
	normalized, err := json.Marshal(doc)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("normalize yaml document: %w", err)
	}
	if err := json.Unmarshal(normalized, &profile); err != nil {
		return domain.Profile{}, fmt.Errorf("decode yaml document: %w", err)
	}
	return profile, nil
}

// NewFetcher builds the production FetchFunc: HTTP(S) sources via client,
// object-store sources via store.
func NewFetcher(client *http.Client, store objectstore.Store) FetchFunc {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return func(ctx context.Context, src Source) ([]byte, error) {
		switch src.Kind {
		case SourceURL:
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
			if err != nil {
				return nil, err
			}
			resp, err := client.Do(req)
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close()
			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				return nil, fmt.Errorf("fetch %s: status %d", src.URL, resp.StatusCode)
			}
			return io.ReadAll(resp.Body)
		case SourceObjectStore:
			if store == nil {
				return nil, fmt.Errorf("object store not configured")
			}
			rc, _, err := store.Get(ctx, src.Bucket, src.Key)
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			return io.ReadAll(rc)
		default:
			return nil, fmt.Errorf("source kind %q is not recognized", src.Kind)
		}
	}
}
