package media

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// Client resolves and searches against a media upstream (a resolver
// sidecar or public piped-style API) over plain HTTP.
type Client struct {
	streamBase string
	searchBase string
	http       *http.Client
}

func NewClient(streamBase, searchBase string) *Client {
	return &Client{
		streamBase: streamBase,
		searchBase: searchBase,
		http:       &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) Resolve(ctx context.Context, id string) (io.ReadCloser, Meta, error) {
	u := fmt.Sprintf("%s/%s", c.streamBase, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, Meta{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("resolve %s: %w", id, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, Meta{}, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, Meta{}, fmt.Errorf("resolve %s: upstream status %d", id, resp.StatusCode)
	}

	meta := Meta{
		Title:       resp.Header.Get("X-Track-Title"),
		ContentType: resp.Header.Get("Content-Type"),
	}
	if meta.ContentType == "" {
		meta.ContentType = "audio/mpeg"
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		meta.ContentLength, _ = strconv.ParseInt(cl, 10, 64)
	}
	if d := resp.Header.Get("X-Track-Duration"); d != "" {
		meta.Duration, _ = strconv.ParseFloat(d, 64)
	}

	log.Debug().Str("module", "media").Str("id", id).Int64("length", meta.ContentLength).Msg("resolved stream")
	return resp.Body, meta, nil
}

func (c *Client) Search(ctx context.Context, query string) ([]Track, error) {
	u := fmt.Sprintf("%s?q=%s", c.searchBase, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search %q: upstream status %d", query, resp.StatusCode)
	}

	var tracks []Track
	if err := json.NewDecoder(resp.Body).Decode(&tracks); err != nil {
		return nil, fmt.Errorf("search %q: decode: %w", query, err)
	}
	return tracks, nil
}
