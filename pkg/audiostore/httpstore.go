package audiostore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultTimeout = 10 * time.Second

// HTTPResolver resolves an audio ID against a content-addressed HTTP
// object store at {BaseURL}/{id}: either a HEAD request checks that the
// object exists and its URL is returned as a SourceURL, or a GET reads the
// audio bytes inline. Which mode a given deployment uses is controlled by
// Inline.
type HTTPResolver struct {
	// BaseURL is the object store's root, e.g. "https://audio.example.com/v1".
	BaseURL string

	// Inline, when true, reads the full response body and returns a
	// SourceBlob. When false (the default), HEAD-checks existence and
	// returns a SourceURL pointing directly at the object, leaving the
	// actual fetch to the browser's <audio> element.
	Inline bool

	Client *http.Client
}

// NewHTTPResolver creates an HTTPResolver with sensible defaults.
func NewHTTPResolver(baseURL string) *HTTPResolver {
	return &HTTPResolver{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: defaultTimeout},
	}
}

// Resolve implements Resolver.
func (r *HTTPResolver) Resolve(ctx context.Context, id string) (Source, error) {
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}

	objURL, err := url.JoinPath(r.BaseURL, url.PathEscape(id))
	if err != nil {
		return Source{}, fmt.Errorf("audiostore: build url for %q: %w", id, err)
	}

	if !r.Inline {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, objURL, nil)
		if err != nil {
			return Source{}, fmt.Errorf("audiostore: build head request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return Source{}, fmt.Errorf("audiostore: head %q: %w", id, err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return Source{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if resp.StatusCode >= 400 {
			return Source{}, fmt.Errorf("audiostore: head %q: status %d", id, resp.StatusCode)
		}
		return Source{Type: SourceURL, Location: objURL}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, objURL, nil)
	if err != nil {
		return Source{}, fmt.Errorf("audiostore: build get request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return Source{}, fmt.Errorf("audiostore: get %q: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Source{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if resp.StatusCode >= 400 {
		return Source{}, fmt.Errorf("audiostore: get %q: status %d", id, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Source{}, fmt.Errorf("audiostore: read body for %q: %w", id, err)
	}
	return Source{Type: SourceBlob, Data: data}, nil
}

var _ Resolver = (*HTTPResolver)(nil)
