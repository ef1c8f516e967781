package resolver

import (
	"encoding/json"
	"os"
	"time"

	"github.com/gotarr/sbmirror/internal/splunkbase"
)

// catalogCache is the on-disk catalog snapshot, replaced wholesale on
// every refresh.
type catalogCache struct {
	FetchedAt time.Time                 `json:"fetched_at"`
	Entries   []splunkbase.CatalogEntry `json:"entries"`
}

func loadCache(path string) (*catalogCache, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cache catalogCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, err
	}
	return &cache, nil
}

func (r *Resolver) writeCache(entries []splunkbase.CatalogEntry) error {
	if r.CachePath == "" {
		return nil
	}
	payload, err := json.Marshal(catalogCache{FetchedAt: time.Now().UTC(), Entries: entries})
	if err != nil {
		return err
	}
	return os.WriteFile(r.CachePath, payload, 0o644)
}
