package web

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/terrycain/tiles-server/pkg/e"
	"github.com/terrycain/tiles-server/pkg/pmtiles"
	"github.com/terrycain/tiles-server/pkg/s"
)

// statusClientClosedRequest is logged when the client went away mid-request.
const statusClientClosedRequest = 499

type rendered struct {
	ContentType string
	ETag        string
	Payload     []byte
}

type renderFunc func(ctx context.Context) (rendered, error)

// cacheKey is the request path. Without a public host, tiles.json embeds the
// request's scheme and host, so those become part of the key too.
func (h *Handlers) cacheKey(c *gin.Context) string {
	if h.PublicHost != "" {
		return c.Request.URL.Path
	}
	return c.Request.URL.Scheme + "://" + c.Request.Host + c.Request.URL.Path
}

// serve answers from the durable cache when it can, otherwise renders the
// response, sends it and hands it to the deferred writer.
func (h *Handlers) serve(c *gin.Context, kind s.Kind, archiveID string, render renderFunc) {
	ctx := c.Request.Context()
	key := h.cacheKey(c)

	if entry, ok := h.Cache.Lookup(ctx, key); ok {
		h.respond(c, kind, "HIT", entry.Status, entry.ContentType, entry.ETag, entry.Payload)
		return
	}

	out, err := render(ctx)
	if err != nil {
		h.fail(c, archiveID, err)
		return
	}

	h.respond(c, kind, "MISS", http.StatusOK, out.ContentType, out.ETag, out.Payload)
	h.Cache.Store(s.CacheEntry{
		Key:         key,
		Kind:        kind,
		Status:      http.StatusOK,
		ContentType: out.ContentType,
		ETag:        out.ETag,
		Payload:     out.Payload,
		TTL:         h.Cache.TTL(kind),
	})
}

func (h *Handlers) respond(c *gin.Context, kind s.Kind, cacheResult string, status int, contentType, etag string, payload []byte) {
	c.Header("Cache-Control", h.Cache.EdgeCacheControl(kind))
	c.Header("X-Cache", cacheResult)
	if etag != "" {
		c.Header("ETag", etag)
	}
	c.Data(status, contentType, payload)
}

// fail maps an error onto a response. Nothing here is ever cached.
func (h *Handlers) fail(c *gin.Context, archiveID string, err error) {
	c.Header("Cache-Control", "no-store")
	_ = c.Error(err)

	var transportErr *e.TransportError
	switch {
	case errors.Is(err, e.ErrTileNotFound):
		c.String(http.StatusNotFound, "tile not found")
	case errors.Is(err, e.ErrArchiveUnavailable):
		if archiveID != "" {
			h.Archives.Forget(archiveID)
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "archive not found"})
	case errors.Is(err, e.ErrCredentialExpired):
		h.Archives.Forget(archiveID)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "archive credential expired, retry"})
	case errors.Is(err, e.ErrEtagMismatch):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "archive changed while reading, retry"})
	case errors.Is(err, pmtiles.ErrInvalidArchive), errors.Is(err, pmtiles.ErrUnsupported):
		log.Error().Err(err).Str("archive", archiveID).Msg("Unreadable archive")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unreadable archive"})
	case errors.Is(err, context.Canceled) && c.Request.Context().Err() != nil:
		c.AbortWithStatus(statusClientClosedRequest)
	case errors.As(err, &transportErr), errors.Is(err, context.DeadlineExceeded):
		log.Error().Err(err).Str("archive", archiveID).Msg("Failed to read from object store")
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to read from object store"})
	default:
		log.Error().Err(err).Str("archive", archiveID).Msg("Failed to serve request")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
