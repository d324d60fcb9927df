package web

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/terrycain/tiles-server/pkg/archive"
	"github.com/terrycain/tiles-server/pkg/e"
	"github.com/terrycain/tiles-server/pkg/s"
)

const (
	mimeHTML = "text/html; charset=utf-8"
	mimeJSON = "application/json; charset=utf-8"
)

type Handlers struct {
	Storage  Lister
	Archives Registry
	Cache    ResponseCache
	// PublicHost prefixes tile URLs in tiles.json. Empty means derive it from
	// the request.
	PublicHost string
}

func (h *Handlers) listIDs(ctx context.Context) ([]string, error) {
	ids, err := h.Storage.List(ctx)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (h *Handlers) ListPage(c *gin.Context) {
	h.serve(c, s.KindListing, "", func(ctx context.Context) (rendered, error) {
		ids, err := h.listIDs(ctx)
		if err != nil {
			return rendered{}, err
		}
		payload, err := renderTemplate(listingTemplate, ids)
		return rendered{ContentType: mimeHTML, Payload: payload}, err
	})
}

func (h *Handlers) ListJSON(c *gin.Context) {
	h.serve(c, s.KindListing, "", func(ctx context.Context) (rendered, error) {
		ids, err := h.listIDs(ctx)
		if err != nil {
			return rendered{}, err
		}
		payload, err := json.Marshal(ids)
		return rendered{ContentType: mimeJSON, Payload: payload}, err
	})
}

func (h *Handlers) Preview(c *gin.Context) {
	id := c.Param("id")
	h.serve(c, s.KindPreview, id, func(ctx context.Context) (rendered, error) {
		handle, err := h.Archives.Get(ctx, id)
		if err != nil {
			return rendered{}, err
		}
		header, etag, err := handle.Reader.Header(ctx)
		if err != nil {
			return rendered{}, err
		}
		metadata, err := parsedMetadata(ctx, handle)
		if err != nil {
			return rendered{}, err
		}

		preview := Preview{ID: id, Layers: StyleLayers(metadata)}
		preview.MinZoom, preview.MaxZoom = ZoomBounds(metadata, header)
		payload, err := renderTemplate(previewTemplate, preview)
		return rendered{ContentType: mimeHTML, ETag: etag, Payload: payload}, err
	})
}

// ArchiveDocument serves /tiles/:id/metadata.json and /tiles/:id/tiles.json.
func (h *Handlers) ArchiveDocument(c *gin.Context) {
	switch c.Param("z") {
	case "metadata.json":
		h.Metadata(c)
	case "tiles.json":
		h.TileJSON(c)
	default:
		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	}
}

func (h *Handlers) Metadata(c *gin.Context) {
	id := c.Param("id")
	h.serve(c, s.KindMetadata, id, func(ctx context.Context) (rendered, error) {
		handle, err := h.Archives.Get(ctx, id)
		if err != nil {
			return rendered{}, err
		}
		raw, err := handle.Reader.Metadata(ctx)
		if err != nil {
			return rendered{}, err
		}
		_, etag, err := handle.Reader.Header(ctx)
		return rendered{ContentType: mimeJSON, ETag: etag, Payload: raw}, err
	})
}

type TileJSON struct {
	TileJSON     string          `json:"tilejson"`
	Name         string          `json:"name,omitempty"`
	Attribution  string          `json:"attribution,omitempty"`
	Tiles        []string        `json:"tiles"`
	VectorLayers json.RawMessage `json:"vector_layers"`
	MinZoom      int             `json:"minzoom"`
	MaxZoom      int             `json:"maxzoom"`
	Bounds       [4]float64      `json:"bounds"`
	Center       [3]float64      `json:"center"`
}

func (h *Handlers) TileJSON(c *gin.Context) {
	id := c.Param("id")
	base := h.baseURL(c)
	h.serve(c, s.KindTileJSON, id, func(ctx context.Context) (rendered, error) {
		handle, err := h.Archives.Get(ctx, id)
		if err != nil {
			return rendered{}, err
		}
		header, etag, err := handle.Reader.Header(ctx)
		if err != nil {
			return rendered{}, err
		}
		raw, err := handle.Reader.Metadata(ctx)
		if err != nil {
			return rendered{}, err
		}

		var doc struct {
			Name         string          `json:"name"`
			Attribution  string          `json:"attribution"`
			VectorLayers json.RawMessage `json:"vector_layers"`
		}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return rendered{}, fmt.Errorf("parsing metadata of %s: %w", id, err)
		}
		if len(doc.VectorLayers) == 0 || string(doc.VectorLayers) == "null" {
			doc.VectorLayers = json.RawMessage("[]")
		}

		payload, err := json.Marshal(TileJSON{
			TileJSON:     "3.0.0",
			Name:         doc.Name,
			Attribution:  doc.Attribution,
			Tiles:        []string{base + "/tiles/" + id + "/{z}/{x}/{y}"},
			VectorLayers: doc.VectorLayers,
			MinZoom:      int(header.MinZoom),
			MaxZoom:      int(header.MaxZoom),
			Bounds:       header.Bounds(),
			Center:       header.Center(),
		})
		return rendered{ContentType: mimeJSON, ETag: etag, Payload: payload}, err
	})
}

func (h *Handlers) baseURL(c *gin.Context) string {
	if h.PublicHost != "" {
		host := strings.TrimSuffix(h.PublicHost, "/")
		if !strings.Contains(host, "://") {
			host = "https://" + host
		}
		return host
	}
	return c.Request.URL.Scheme + "://" + c.Request.Host
}

func (h *Handlers) Tile(c *gin.Context) {
	id := c.Param("id")
	z, errZ := strconv.ParseUint(c.Param("z"), 10, 32)
	x, errX := strconv.ParseUint(c.Param("x"), 10, 32)
	y, errY := strconv.ParseUint(c.Param("y"), 10, 32)
	if errZ != nil || errX != nil || errY != nil {
		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusBadRequest, gin.H{"error": "z, x and y must be non-negative integers"})
		return
	}

	h.serve(c, s.KindTile, id, func(ctx context.Context) (rendered, error) {
		handle, err := h.Archives.Get(ctx, id)
		if err != nil {
			return rendered{}, err
		}
		if z > math.MaxUint8 {
			return rendered{}, e.ErrTileNotFound
		}
		data, err := handle.Reader.Tile(ctx, uint8(z), uint32(x), uint32(y))
		if err != nil {
			return rendered{}, err
		}
		header, etag, err := handle.Reader.Header(ctx)
		if err != nil {
			return rendered{}, err
		}
		return rendered{ContentType: header.TileType.ContentType(), ETag: etag, Payload: data}, nil
	})
}

func parsedMetadata(ctx context.Context, handle *archive.Handle) (s.ArchiveMetadata, error) {
	raw, err := handle.Reader.Metadata(ctx)
	if err != nil {
		return s.ArchiveMetadata{}, err
	}
	metadata, err := s.ParseArchiveMetadata(raw)
	if err != nil {
		return s.ArchiveMetadata{}, fmt.Errorf("parsing metadata of %s: %w", handle.ID, err)
	}
	return metadata, nil
}
