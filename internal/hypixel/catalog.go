package hypixel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/benno1237/bennos-cogs/internal/stats"
)

// CatalogSource downloads the community-maintained player.json that lists
// every known stats field per mode.
type CatalogSource struct {
	URL       string
	UserAgent string
	HTTP      *http.Client
}

type catalogDoc struct {
	Player struct {
		Stats map[string]map[string]json.RawMessage `json:"stats"`
	} `json:"player"`
}

func (s CatalogSource) Fetch(ctx context.Context) (map[string][]string, error) {
	hc := s.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if s.UserAgent != "" {
		req.Header.Set("User-Agent", s.UserAgent)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: catalog: %v", ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: catalog: status %d", ErrRemoteUnavailable, resp.StatusCode)
	}

	var doc catalogDoc
	if err := json.NewDecoder(io.LimitReader(resp.Body, 16<<20)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: catalog: %v", ErrRemoteUnavailable, err)
	}
	out := make(map[string][]string, len(doc.Player.Stats))
	for mode, fields := range doc.Player.Stats {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		out[mode] = keys
	}
	return out, nil
}

// Refresh fetches the catalog and swaps it into cat. On failure cat keeps
// its previous contents.
func (s CatalogSource) Refresh(ctx context.Context, cat *stats.Catalog) (int, error) {
	keys, err := s.Fetch(ctx)
	if err != nil {
		return 0, err
	}
	cat.Replace(keys)
	return cat.Size(), nil
}
