package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terrycain/tiles-server/pkg/archive"
	"github.com/terrycain/tiles-server/pkg/cache"
	"github.com/terrycain/tiles-server/pkg/pmtiles/pmtilestest"
	"github.com/terrycain/tiles-server/pkg/s"
	"github.com/terrycain/tiles-server/pkg/storage/source"
)

type staticLister []string

func (l staticLister) List(context.Context) ([]string, error) { return l, nil }

type directIssuer struct{}

func (directIssuer) Issue(_ context.Context, id string) (s.Credential, error) {
	return s.Credential{ArchiveID: id, Key: id + ".pmtiles", IssuedAt: time.Now()}, nil
}

func (directIssuer) NeedsRefresh(s.Credential) bool { return false }

type fixedOpener struct{ src *pmtilestest.Source }

func (f fixedOpener) Open(s.Credential) (source.Source, error) { return f.src, nil }

type durableServer struct {
	src    *pmtilestest.Source
	writer *cache.Deferred
	router *gin.Engine
}

func newDurableServer(t *testing.T, publicHost string) durableServer {
	t.Helper()
	src := pmtilestest.NewSource("roads.pmtiles", pmtilestest.MustBuild(pmtilestest.Archive{
		Tiles:    map[pmtilestest.Tile][]byte{{Z: 1, X: 0, Y: 1}: []byte("hello")},
		Metadata: `{"name":"roads","vector_layers":[{"id":"roads","minzoom":0,"maxzoom":1}]}`,
	}))
	store := cache.NewMemoryStore(0)
	t.Cleanup(func() { _ = store.Close() })
	writer := cache.NewDeferred(store, 2, 16)
	tiered := cache.NewTiered(store, writer, cache.Config{ListTTL: time.Minute, TileTTL: time.Hour})
	router := GetRouter(&Handlers{
		Storage:    staticLister{"roads"},
		Archives:   archive.NewRegistry(directIssuer{}, fixedOpener{src: src}),
		Cache:      tiered,
		PublicHost: publicHost,
	}, nil, false)
	return durableServer{src: src, writer: writer, router: router}
}

func (d durableServer) get(path string, headers ...string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	d.router.ServeHTTP(rec, req)
	return rec
}

// flush waits for every deferred write so later lookups can see them.
func (d durableServer) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.writer.Close(ctx))
}

func TestServeThroughDurableCache(t *testing.T) {
	d := newDurableServer(t, "")

	first := d.get("/tiles/roads/1/0/1")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "hello", first.Body.String())
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	assert.Equal(t, "public, max-age=3600", first.Header().Get("Cache-Control"))
	assert.NotEmpty(t, first.Header().Get("ETag"))

	missing := d.get("/tiles/roads/1/1/1")
	assert.Equal(t, http.StatusNotFound, missing.Code)
	assert.Equal(t, "no-store", missing.Header().Get("Cache-Control"))

	d.flush(t)
	calls := d.src.Calls()

	second := d.get("/tiles/roads/1/0/1")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "hello", second.Body.String())
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, first.Header().Get("ETag"), second.Header().Get("ETag"))
	assert.Equal(t, calls, d.src.Calls())

	again := d.get("/tiles/roads/1/1/1")
	assert.Equal(t, http.StatusNotFound, again.Code)
	assert.Empty(t, again.Header().Get("X-Cache"))
}

func TestCacheKeyIgnoresHostWithPublicHost(t *testing.T) {
	d := newDurableServer(t, "https://tiles.example.org")

	first := d.get("http://a.example/tiles/roads/1/0/1")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	d.flush(t)

	for _, host := range []string{"a.example", "b.example", "evil.example"} {
		rec := d.get("http://"+host+"/tiles/roads/1/0/1", "X-Forwarded-Proto", "https")
		assert.Equal(t, "HIT", rec.Header().Get("X-Cache"), host)
		assert.Equal(t, "hello", rec.Body.String(), host)
	}
}

func TestCacheKeyIncludesHostWithoutPublicHost(t *testing.T) {
	d := newDurableServer(t, "")

	require.Equal(t, "MISS", d.get("http://a.example/tiles/roads/tiles.json").Header().Get("X-Cache"))
	d.flush(t)

	assert.Equal(t, "HIT", d.get("http://a.example/tiles/roads/tiles.json").Header().Get("X-Cache"))
	other := d.get("http://b.example/tiles/roads/tiles.json")
	assert.Equal(t, "MISS", other.Header().Get("X-Cache"))
	assert.Contains(t, other.Body.String(), "http://b.example/tiles/roads/{z}/{x}/{y}")
}
