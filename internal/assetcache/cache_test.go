package assetcache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/italolelis/offline_downloader/internal/download"
	"github.com/italolelis/offline_downloader/internal/resolver"
	"github.com/italolelis/offline_downloader/internal/storage/inmem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetch_CachesAfterFirstDownload(t *testing.T) {
	ctx := context.Background()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte("poster-bytes"))
	}))
	defer srv.Close()

	c := New(http.DefaultClient, inmem.NewStore())

	data, err := c.Fetch(ctx, "v1", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []byte("poster-bytes"), data)

	data, err = c.Fetch(ctx, "v1", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []byte("poster-bytes"), data)

	assert.Equal(t, int32(1), calls.Load())

	// A different video caches its own copy.
	_, err = c.Fetch(ctx, "v2", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetch_UnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(http.DefaultClient, inmem.NewStore())

	_, err := c.Fetch(context.Background(), "v1", srv.URL)

	var netErr *download.NetworkError

	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, http.StatusForbidden, netErr.StatusCode)
}

func TestFetchAll_OnlyTouchesAssetSources(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte("data"))
	}))
	defer srv.Close()

	store := inmem.NewStore()
	c := New(http.DefaultClient, store)

	sources := []resolver.Source{
		{URL: srv.URL + "/seg0.ts", Kind: resolver.KindMedia},
		{URL: srv.URL + "/poster.jpg", Kind: resolver.KindAsset},
		{URL: srv.URL + "/subs.vtt", Kind: resolver.KindAsset},
	}

	require.NoError(t, c.FetchAll(context.Background(), "v1", sources))
	assert.Equal(t, int32(2), calls.Load())

	_, err := store.GetAsset(context.Background(), "v1", srv.URL+"/poster.jpg")
	assert.NoError(t, err)
}
