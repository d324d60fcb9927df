package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang/mock/gomock"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/terrycain/tiles-server/pkg/archive"
	"github.com/terrycain/tiles-server/pkg/e"
	"github.com/terrycain/tiles-server/pkg/pmtiles"
	"github.com/terrycain/tiles-server/pkg/s"
	"github.com/terrycain/tiles-server/pkg/web/mock_web"
)

const mvt = "application/vnd.mapbox-vector-tile"

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	if _, exists := os.LookupEnv("DEBUG"); exists {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	os.Exit(m.Run())
}

type webStuff struct {
	ctrl     *gomock.Controller
	storage  *mock_web.MockLister
	archives *mock_web.MockRegistry
	cache    *mock_web.MockResponseCache
	router   *gin.Engine
	handler  *Handlers
}

func getWebStuff(t *testing.T) webStuff {
	t.Helper()
	ctrl := gomock.NewController(t)

	w := webStuff{
		ctrl:     ctrl,
		storage:  mock_web.NewMockLister(ctrl),
		archives: mock_web.NewMockRegistry(ctrl),
		cache:    mock_web.NewMockResponseCache(ctrl),
	}
	w.handler = &Handlers{
		Storage:  w.storage,
		Archives: w.archives,
		Cache:    w.cache,
	}
	w.router = GetRouter(w.handler, nil, false)

	w.cache.EXPECT().EdgeCacheControl(s.KindListing).Return("public, max-age=30").AnyTimes()
	for _, kind := range []s.Kind{s.KindPreview, s.KindMetadata, s.KindTileJSON, s.KindTile} {
		w.cache.EXPECT().EdgeCacheControl(kind).Return("public, max-age=600").AnyTimes()
	}
	w.cache.EXPECT().TTL(gomock.Any()).Return(10 * time.Minute).AnyTimes()
	return w
}

// expectMiss makes the durable tier miss and captures what gets stored.
func (w webStuff) expectMiss(stored *s.CacheEntry) {
	w.cache.EXPECT().Lookup(gomock.Any(), gomock.Any()).Return(s.CacheEntry{}, false).Times(1)
	if stored == nil {
		return
	}
	w.cache.EXPECT().Store(gomock.Any()).DoAndReturn(func(entry s.CacheEntry) bool {
		*stored = entry
		return true
	}).Times(1)
}

func (w webStuff) handle(id string) *mock_web.MockReader {
	reader := mock_web.NewMockReader(w.ctrl)
	w.archives.EXPECT().Get(gomock.Any(), id).Return(&archive.Handle{ID: id, Reader: reader}, nil).AnyTimes()
	return reader
}

func (w webStuff) get(path string, headers ...string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w.router.ServeHTTP(rec, req)
	return rec
}

func testHeader() pmtiles.Header {
	return pmtiles.Header{SpecVersion: 3, TileType: pmtiles.TileTypeMvt, MinZoom: 0, MaxZoom: 14, MaxLonE7: 10000000, MaxLatE7: 5000000}
}

func TestHealth(t *testing.T) {
	w := getWebStuff(t)
	rec := w.get("/health")

	if diff := cmp.Diff(200, rec.Code); diff != "" {
		t.Fatal(diff)
	}
	if diff := cmp.Diff("ok", rec.Body.String()); diff != "" {
		t.Fatal(diff)
	}
	if diff := cmp.Diff("no-store", rec.Header().Get("Cache-Control")); diff != "" {
		t.Fatal(diff)
	}
}

func TestListJSON(t *testing.T) {
	w := getWebStuff(t)
	var stored s.CacheEntry
	w.expectMiss(&stored)
	w.storage.EXPECT().List(gomock.Any()).Return([]string{"a", "b"}, nil).Times(1)

	rec := w.get("/tiles")

	if diff := cmp.Diff(200, rec.Code); diff != "" {
		t.Fatal(diff)
	}
	var ids []string
	if err := json.Unmarshal(rec.Body.Bytes(), &ids); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, ids); diff != "" {
		t.Fatal(diff)
	}
	if diff := cmp.Diff("public, max-age=30", rec.Header().Get("Cache-Control")); diff != "" {
		t.Fatal(diff)
	}
	if diff := cmp.Diff("MISS", rec.Header().Get("X-Cache")); diff != "" {
		t.Fatal(diff)
	}
	if diff := cmp.Diff(s.KindListing, stored.Kind); diff != "" {
		t.Fatal(diff)
	}
	if diff := cmp.Diff("http://example.com/tiles", stored.Key); diff != "" {
		t.Fatal(diff)
	}
}

func TestListEmpty(t *testing.T) {
	w := getWebStuff(t)
	w.expectMiss(new(s.CacheEntry))
	w.storage.EXPECT().List(gomock.Any()).Return(nil, nil).Times(1)

	rec := w.get("/tiles")
	if diff := cmp.Diff("[]", rec.Body.String()); diff != "" {
		t.Fatal(diff)
	}
}

func TestListPage(t *testing.T) {
	w := getWebStuff(t)
	w.expectMiss(new(s.CacheEntry))
	w.storage.EXPECT().List(gomock.Any()).Return([]string{"roads", "water"}, nil).Times(1)

	rec := w.get("/")

	if diff := cmp.Diff(200, rec.Code); diff != "" {
		t.Fatal(diff)
	}
	body := rec.Body.String()
	for _, link := range []string{`<a href="/tiles/roads">roads</a>`, `<a href="/tiles/water">water</a>`} {
		if !strings.Contains(body, link) {
			t.Fatalf("listing missing %s:\n%s", link, body)
		}
	}
}

func TestListFailureIsNotCached(t *testing.T) {
	w := getWebStuff(t)
	w.expectMiss(nil)
	w.storage.EXPECT().List(gomock.Any()).Return(nil, &e.TransportError{Key: "bucket", Status: 500, Err: errors.New("boom")}).Times(1)

	rec := w.get("/tiles")

	if diff := cmp.Diff(http.StatusBadGateway, rec.Code); diff != "" {
		t.Fatal(diff)
	}
	if diff := cmp.Diff("no-store", rec.Header().Get("Cache-Control")); diff != "" {
		t.Fatal(diff)
	}
}

func TestPreview(t *testing.T) {
	w := getWebStuff(t)
	w.expectMiss(new(s.CacheEntry))
	reader := w.handle("roads")
	reader.EXPECT().Header(gomock.Any()).Return(testHeader(), `"v1"`, nil).AnyTimes()
	reader.EXPECT().Metadata(gomock.Any()).Return(json.RawMessage(`{
		"vector_layers": [{"id": "A", "minzoom": 2, "maxzoom": 8}, {"id": "B", "minzoom": 4, "maxzoom": 12}],
		"tilestats": {"layers": [{"layer": "A", "geometry": "Point"}, {"layer": "B", "geometry": "Polygon"}]}
	}`), nil).AnyTimes()

	rec := w.get("/tiles/roads")

	if diff := cmp.Diff(200, rec.Code); diff != "" {
		t.Fatal(diff)
	}
	body := rec.Body.String()
	if !regexp.MustCompile(`minzoom:\s*2\s*,`).MatchString(body) {
		t.Fatalf("expected minzoom 2 in preview:\n%s", body)
	}
	if !regexp.MustCompile(`maxzoom:\s*12\s*,`).MatchString(body) {
		t.Fatalf("expected maxzoom 12 in preview:\n%s", body)
	}
	for _, want := range []string{`"circle-color":"#000000"`, `"fill-opacity":0.7`, `"source-layer":"B"`} {
		if !strings.Contains(body, want) {
			t.Fatalf("preview missing %s:\n%s", want, body)
		}
	}
	if diff := cmp.Diff(`"v1"`, rec.Header().Get("ETag")); diff != "" {
		t.Fatal(diff)
	}
}

func TestZoomBounds(t *testing.T) {
	tables := []struct {
		name     string
		layers   []s.VectorLayer
		min, max int
	}{
		{"two layers", []s.VectorLayer{{ID: "A", MinZoom: 2, MaxZoom: 8}, {ID: "B", MinZoom: 4, MaxZoom: 12}}, 2, 12},
		{"single layer", []s.VectorLayer{{ID: "A", MinZoom: 5, MaxZoom: 5}}, 5, 5},
		{"no layers uses header", nil, 0, 14},
	}
	for _, table := range tables {
		minZoom, maxZoom := ZoomBounds(s.ArchiveMetadata{VectorLayers: table.layers}, testHeader())
		if diff := cmp.Diff([]int{table.min, table.max}, []int{minZoom, maxZoom}); diff != "" {
			t.Fatalf("%s: %s", table.name, diff)
		}
	}
}

func TestStyleLayers(t *testing.T) {
	layers := StyleLayers(s.ArchiveMetadata{
		TileStats: s.TileStats{Layers: []s.TileStatsLayer{
			{Layer: "pois", Geometry: "Point"},
			{Layer: "roads", Geometry: "LineString"},
			{Layer: "land", Geometry: "Polygon"},
			{Layer: "odd", Geometry: "GeometryCollection"},
		}},
	})

	types := make([]string, 0, len(layers))
	for _, layer := range layers {
		types = append(types, layer.Type)
	}
	if diff := cmp.Diff([]string{"circle", "line", "fill", "line"}, types); diff != "" {
		t.Fatal(diff)
	}
	if diff := cmp.Diff(map[string]interface{}{"fill-color": "#000000", "fill-opacity": 0.7}, layers[2].Paint); diff != "" {
		t.Fatal(diff)
	}

	fallback := StyleLayers(s.ArchiveMetadata{VectorLayers: []s.VectorLayer{{ID: "roads"}}})
	if diff := cmp.Diff("line", fallback[0].Type); diff != "" {
		t.Fatal(diff)
	}
}

func TestMetadataVerbatim(t *testing.T) {
	w := getWebStuff(t)
	var stored s.CacheEntry
	w.expectMiss(&stored)
	raw := `{"name":"roads","vector_layers":[{"id":"roads","minzoom":0,"maxzoom":14}],"custom":{"nested":[1,2,3]}}`
	reader := w.handle("roads")
	reader.EXPECT().Metadata(gomock.Any()).Return(json.RawMessage(raw), nil).Times(1)
	reader.EXPECT().Header(gomock.Any()).Return(testHeader(), `"v1"`, nil).Times(1)

	rec := w.get("/tiles/roads/metadata.json")

	if diff := cmp.Diff(200, rec.Code); diff != "" {
		t.Fatal(diff)
	}
	if diff := cmp.Diff(raw, rec.Body.String()); diff != "" {
		t.Fatal(diff)
	}
	if diff := cmp.Diff(s.KindMetadata, stored.Kind); diff != "" {
		t.Fatal(diff)
	}
}

func TestTileJSON(t *testing.T) {
	tables := []struct {
		name       string
		publicHost string
		headers    []string
		expected   string
	}{
		{"public host", "https://tiles.example.org", nil, "https://tiles.example.org/tiles/roads/{z}/{x}/{y}"},
		{"bare public host", "tiles.example.org/", nil, "https://tiles.example.org/tiles/roads/{z}/{x}/{y}"},
		{"forwarded proto", "", []string{"X-Forwarded-Proto", "https"}, "https://example.com/tiles/roads/{z}/{x}/{y}"},
		{"plain request", "", nil, "http://example.com/tiles/roads/{z}/{x}/{y}"},
	}

	for _, table := range tables {
		t.Run(table.name, func(t *testing.T) {
			w := getWebStuff(t)
			w.handler.PublicHost = table.publicHost
			w.expectMiss(new(s.CacheEntry))
			reader := w.handle("roads")
			reader.EXPECT().Header(gomock.Any()).Return(testHeader(), `"v1"`, nil).AnyTimes()
			reader.EXPECT().Metadata(gomock.Any()).Return(json.RawMessage(`{"name":"Roads","vector_layers":[{"id":"roads","minzoom":0,"maxzoom":14}]}`), nil).AnyTimes()

			rec := w.get("http://example.com/tiles/roads/tiles.json", table.headers...)

			if diff := cmp.Diff(200, rec.Code); diff != "" {
				t.Fatal(diff)
			}
			var doc struct {
				TileJSON     string          `json:"tilejson"`
				Name         string          `json:"name"`
				Tiles        []string        `json:"tiles"`
				VectorLayers []s.VectorLayer `json:"vector_layers"`
				MinZoom      int             `json:"minzoom"`
				MaxZoom      int             `json:"maxzoom"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff("3.0.0", doc.TileJSON); diff != "" {
				t.Fatal(diff)
			}
			if diff := cmp.Diff([]string{table.expected}, doc.Tiles); diff != "" {
				t.Fatal(diff)
			}
			if diff := cmp.Diff([]s.VectorLayer{{ID: "roads", MinZoom: 0, MaxZoom: 14}}, doc.VectorLayers); diff != "" {
				t.Fatal(diff)
			}
			if diff := cmp.Diff(14, doc.MaxZoom); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func TestTile(t *testing.T) {
	w := getWebStuff(t)
	var stored s.CacheEntry
	w.expectMiss(&stored)
	reader := w.handle("roads")
	reader.EXPECT().Tile(gomock.Any(), uint8(5), uint32(3), uint32(7)).Return([]byte{0x1a, 0x03}, nil).Times(1)
	reader.EXPECT().Header(gomock.Any()).Return(testHeader(), `"v1"`, nil).Times(1)

	rec := w.get("/tiles/roads/5/3/7")

	if diff := cmp.Diff(200, rec.Code); diff != "" {
		t.Fatal(diff)
	}
	if diff := cmp.Diff([]byte{0x1a, 0x03}, rec.Body.Bytes()); diff != "" {
		t.Fatal(diff)
	}
	if diff := cmp.Diff(mvt, rec.Header().Get("Content-Type")); diff != "" {
		t.Fatal(diff)
	}
	if diff := cmp.Diff("public, max-age=600", rec.Header().Get("Cache-Control")); diff != "" {
		t.Fatal(diff)
	}
	if diff := cmp.Diff(s.CacheEntry{
		Key:         "http://example.com/tiles/roads/5/3/7",
		Kind:        s.KindTile,
		Status:      200,
		ContentType: mvt,
		ETag:        `"v1"`,
		Payload:     []byte{0x1a, 0x03},
		TTL:         10 * time.Minute,
	}, stored); diff != "" {
		t.Fatal(diff)
	}
}

func TestTileNotFound(t *testing.T) {
	w := getWebStuff(t)
	w.expectMiss(nil)
	reader := w.handle("roads")
	reader.EXPECT().Tile(gomock.Any(), uint8(5), uint32(3), uint32(8)).Return(nil, e.ErrTileNotFound).Times(1)

	rec := w.get("/tiles/roads/5/3/8")

	if diff := cmp.Diff(http.StatusNotFound, rec.Code); diff != "" {
		t.Fatal(diff)
	}
	if diff := cmp.Diff("tile not found", rec.Body.String()); diff != "" {
		t.Fatal(diff)
	}
	if diff := cmp.Diff("no-store", rec.Header().Get("Cache-Control")); diff != "" {
		t.Fatal(diff)
	}
}

func TestTileZoomTooLarge(t *testing.T) {
	w := getWebStuff(t)
	w.expectMiss(nil)
	w.handle("roads")

	rec := w.get("/tiles/roads/300/0/0")
	if diff := cmp.Diff(http.StatusNotFound, rec.Code); diff != "" {
		t.Fatal(diff)
	}
	if diff := cmp.Diff("tile not found", rec.Body.String()); diff != "" {
		t.Fatal(diff)
	}
}

func TestTileZoomTooLargeOnMissingArchive(t *testing.T) {
	w := getWebStuff(t)
	w.expectMiss(nil)
	w.archives.EXPECT().Get(gomock.Any(), "gone").Return(nil, e.ErrArchiveUnavailable).Times(1)
	w.archives.EXPECT().Forget("gone").Times(1)

	rec := w.get("/tiles/gone/300/0/0")
	if diff := cmp.Diff(http.StatusNotFound, rec.Code); diff != "" {
		t.Fatal(diff)
	}
	if diff := cmp.Diff(`{"error":"archive not found"}`, rec.Body.String()); diff != "" {
		t.Fatal(diff)
	}
}

func TestTileBadCoordinates(t *testing.T) {
	w := getWebStuff(t)
	for _, path := range []string{"/tiles/roads/a/0/0", "/tiles/roads/1/-1/0", "/tiles/roads/1/0/1.5"} {
		rec := w.get(path)
		if diff := cmp.Diff(http.StatusBadRequest, rec.Code); diff != "" {
			t.Fatalf("%s: %s", path, diff)
		}
	}
}

func TestCacheHitReplays(t *testing.T) {
	w := getWebStuff(t)
	w.cache.EXPECT().Lookup(gomock.Any(), "http://example.com/tiles/roads/1/0/0").Return(s.CacheEntry{
		Key:         "http://example.com/tiles/roads/1/0/0",
		Kind:        s.KindTile,
		Status:      200,
		ContentType: mvt,
		ETag:        `"v1"`,
		Payload:     []byte("cached bytes"),
	}, true).Times(1)

	rec := w.get("/tiles/roads/1/0/0")

	if diff := cmp.Diff("cached bytes", rec.Body.String()); diff != "" {
		t.Fatal(diff)
	}
	if diff := cmp.Diff("HIT", rec.Header().Get("X-Cache")); diff != "" {
		t.Fatal(diff)
	}
	if diff := cmp.Diff(mvt, rec.Header().Get("Content-Type")); diff != "" {
		t.Fatal(diff)
	}
}

func TestArchiveErrors(t *testing.T) {
	tables := []struct {
		name   string
		err    error
		forget bool
		status int
	}{
		{"missing archive", e.ErrArchiveUnavailable, true, http.StatusNotFound},
		{"expired credential", e.ErrCredentialExpired, true, http.StatusServiceUnavailable},
		{"changed archive", e.ErrEtagMismatch, false, http.StatusServiceUnavailable},
		{"store down", &e.TransportError{Key: "roads.pmtiles", Status: 503, Err: errors.New("slow down")}, false, http.StatusBadGateway},
		{"corrupt archive", pmtiles.ErrInvalidArchive, false, http.StatusInternalServerError},
		{"unknown", errors.New("what"), false, http.StatusInternalServerError},
	}

	for _, table := range tables {
		t.Run(table.name, func(t *testing.T) {
			w := getWebStuff(t)
			w.expectMiss(nil)
			reader := w.handle("roads")
			reader.EXPECT().Metadata(gomock.Any()).Return(nil, table.err).Times(1)
			if table.forget {
				w.archives.EXPECT().Forget("roads").Times(1)
			}

			rec := w.get("/tiles/roads/metadata.json")

			if diff := cmp.Diff(table.status, rec.Code); diff != "" {
				t.Fatal(diff)
			}
			if diff := cmp.Diff("no-store", rec.Header().Get("Cache-Control")); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func TestArchiveNotFoundBody(t *testing.T) {
	w := getWebStuff(t)
	w.expectMiss(nil)
	w.archives.EXPECT().Get(gomock.Any(), "gone").Return(nil, e.ErrArchiveUnavailable).Times(1)
	w.archives.EXPECT().Forget("gone").Times(1)

	rec := w.get("/tiles/gone/0/0/0")

	if diff := cmp.Diff(http.StatusNotFound, rec.Code); diff != "" {
		t.Fatal(diff)
	}
	if diff := cmp.Diff(`{"error":"archive not found"}`, rec.Body.String()); diff != "" {
		t.Fatal(diff)
	}
}

func TestUnknownDocument(t *testing.T) {
	w := getWebStuff(t)
	rec := w.get("/tiles/roads/style.json")
	if diff := cmp.Diff(http.StatusNotFound, rec.Code); diff != "" {
		t.Fatal(diff)
	}
}

func TestRequestID(t *testing.T) {
	w := getWebStuff(t)

	rec := w.get("/health", "X-Request-ID", "abc-123")
	if diff := cmp.Diff("abc-123", rec.Header().Get("X-Request-ID")); diff != "" {
		t.Fatal(diff)
	}

	rec = w.get("/health")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a generated request id")
	}
}
