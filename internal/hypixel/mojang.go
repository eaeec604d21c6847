package hypixel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Profile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Mojang resolves Minecraft names to profile ids.
type Mojang struct {
	base string
	ua   string
	http *http.Client
	obs  Observer
}

func NewMojang(baseURL, userAgent string, timeout time.Duration, obs Observer) *Mojang {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Mojang{
		base: strings.TrimRight(baseURL, "/"),
		ua:   userAgent,
		http: &http.Client{Timeout: timeout},
		obs:  obs,
	}
}

func (m *Mojang) Lookup(ctx context.Context, name string) (Profile, error) {
	u := m.base + "/users/profiles/minecraft/" + url.PathEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Profile{}, fmt.Errorf("build request: %w", err)
	}
	if m.ua != "" {
		req.Header.Set("User-Agent", m.ua)
	}
	resp, err := m.http.Do(req)
	if err != nil {
		m.observe(0)
		if ctx.Err() != nil {
			return Profile{}, ctx.Err()
		}
		return Profile{}, fmt.Errorf("%w: mojang: %v", ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()
	m.observe(resp.StatusCode)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent, http.StatusBadRequest, http.StatusNotFound:
		return Profile{}, fmt.Errorf("%w: %s", ErrUnknownName, name)
	default:
		return Profile{}, fmt.Errorf("%w: mojang: status %d", ErrRemoteUnavailable, resp.StatusCode)
	}

	var p Profile
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&p); err != nil {
		return Profile{}, fmt.Errorf("%w: mojang: %v", ErrRemoteUnavailable, err)
	}
	if p.ID == "" {
		return Profile{}, fmt.Errorf("%w: %s", ErrUnknownName, name)
	}
	return p, nil
}

func (m *Mojang) observe(status int) {
	if m.obs != nil {
		m.obs.ObserveRequest("mojang", status)
	}
}
