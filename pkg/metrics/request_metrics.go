// Request metrics follow https://github.com/zsais/go-gin-prometheus/blob/master/middleware.go

package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var reqCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "http_requests_total",
	Help: "How many HTTP requests processed, partitioned by status code, route and cache result",
}, []string{"code", "method", "url", "cache"})

var reqDur = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Name: "http_request_duration_seconds",
	Help: "The HTTP request latencies in seconds",
}, []string{"code", "method", "url"})

var respSize = prometheus.NewSummary(prometheus.SummaryOpts{
	Name: "http_response_size_bytes",
	Help: "The HTTP response sizes in bytes",
})

var reqSize = prometheus.NewSummary(prometheus.SummaryOpts{
	Name: "http_request_size_bytes",
	Help: "The HTTP request sizes in bytes",
})

func init() {
	prometheus.MustRegister(reqCount, reqDur, respSize, reqSize)
}

// requestPathMapper uses the route template so tile coordinates don't explode
// label cardinality.
func requestPathMapper(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}

func cacheResult(c *gin.Context) string {
	if result := c.Writer.Header().Get("X-Cache"); result != "" {
		return strings.ToLower(result)
	}
	return "none"
}

func PromReqMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqSz := float64(computeApproximateRequestSize(c.Request))

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		elapsed := float64(time.Since(start)) / float64(time.Second)
		resSz := float64(c.Writer.Size())

		url := requestPathMapper(c)
		reqDur.WithLabelValues(status, c.Request.Method, url).Observe(elapsed)
		reqCount.WithLabelValues(status, c.Request.Method, url, cacheResult(c)).Inc()
		reqSize.Observe(reqSz)
		respSize.Observe(resSz)
	}
}

func computeApproximateRequestSize(r *http.Request) int {
	s := 0
	if r.URL != nil {
		s = len(r.URL.Path)
	}

	s += len(r.Method)
	s += len(r.Proto)
	for name, values := range r.Header {
		s += len(name)
		for _, value := range values {
			s += len(value)
		}
	}
	s += len(r.Host)

	if r.ContentLength != -1 {
		s += int(r.ContentLength)
	}
	return s
}
