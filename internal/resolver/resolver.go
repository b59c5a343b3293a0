// Package resolver turns a video ID into the fresh list of files that make
// up the video right now. The list is authoritative for membership and order;
// download progress is reconciled against it elsewhere.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/italolelis/offline_downloader/internal/download"
)

const (
	KindMedia = "media"
	KindAsset = "asset"
)

// Source is one downloadable entry of a video. Media sources are chunked and
// resumable; asset sources are small side resources fetched whole.
type Source struct {
	URL  string `json:"url"`
	Kind string `json:"kind,omitempty"`
}

// Resolver produces the current file set for a video.
type Resolver interface {
	Resolve(ctx context.Context, videoID string) ([]Source, error)
}

type manifest struct {
	Files []Source `json:"files"`
}

// ManifestResolver fetches a JSON manifest from the content service. The
// manifest endpoint is GET {baseURL}/videos/{id}/manifest.
type ManifestResolver struct {
	client  *http.Client
	baseURL string
}

func NewManifestResolver(client *http.Client, baseURL string) *ManifestResolver {
	return &ManifestResolver{client: client, baseURL: baseURL}
}

func (r *ManifestResolver) Resolve(ctx context.Context, videoID string) ([]Source, error) {
	url := fmt.Sprintf("%s/videos/%s/manifest", r.baseURL, videoID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &download.ResolutionError{VideoID: videoID, Reason: "invalid manifest request", Err: err}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &download.ResolutionError{VideoID: videoID, Reason: "manifest request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &download.ResolutionError{
			VideoID: videoID,
			Reason:  fmt.Sprintf("manifest request returned status %d", resp.StatusCode),
		}
	}

	var m manifest

	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, &download.ResolutionError{VideoID: videoID, Reason: "malformed manifest", Err: err}
	}

	sources := normalize(m.Files)
	if len(sources) == 0 {
		return nil, &download.ResolutionError{VideoID: videoID, Reason: "manifest has no files"}
	}

	return sources, nil
}

// normalize drops duplicate and empty URLs, keeping the first occurrence so
// the manifest order survives, and defaults the kind to media.
func normalize(in []Source) []Source {
	seen := make(map[string]struct{}, len(in))
	out := make([]Source, 0, len(in))

	for _, s := range in {
		if s.URL == "" {
			continue
		}

		if _, ok := seen[s.URL]; ok {
			continue
		}

		seen[s.URL] = struct{}{}

		if s.Kind == "" {
			s.Kind = KindMedia
		}

		out = append(out, s)
	}

	return out
}

// Media filters a source list down to its chunked media entries.
func Media(sources []Source) []Source {
	out := make([]Source, 0, len(sources))

	for _, s := range sources {
		if s.Kind == KindMedia {
			out = append(out, s)
		}
	}

	return out
}

// Assets filters a source list down to its side resources.
func Assets(sources []Source) []Source {
	out := make([]Source, 0, len(sources))

	for _, s := range sources {
		if s.Kind == KindAsset {
			out = append(out, s)
		}
	}

	return out
}
