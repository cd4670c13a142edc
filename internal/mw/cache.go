package mw

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

// snapshot is a stored listing response.
type snapshot struct {
	status int
	header http.Header
	body   []byte
}

// recorder tees the handler output into a buffer.
type recorder struct {
	gin.ResponseWriter
	buf *bytes.Buffer
}

func (r recorder) Write(b []byte) (int, error) {
	r.buf.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r recorder) WriteString(s string) (int, error) {
	r.buf.WriteString(s)
	return r.ResponseWriter.WriteString(s)
}

// Cache serves repeated GETs of the public queue and device listings from
// memory for ttl. Requests carrying credentials bypass it, since their
// response may depend on the caller.
func Cache(pages *cache.Cache, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet || c.GetHeader("Authorization") != "" {
			c.Next()
			return
		}

		key := c.Request.URL.Path + "?" + c.Request.URL.RawQuery
		if v, ok := pages.Get(key); ok {
			snap := v.(snapshot)
			h := c.Writer.Header()
			for k, vals := range snap.header {
				h[k] = vals
			}
			h.Set("X-Cache", "HIT")
			c.Writer.WriteHeader(snap.status)
			c.Writer.Write(snap.body)
			c.Abort()
			return
		}

		rec := &recorder{ResponseWriter: c.Writer, buf: &bytes.Buffer{}}
		c.Writer = rec
		rec.Header().Set("X-Cache", "MISS")

		c.Next()

		if status := rec.Status(); status >= 200 && status < 300 {
			header := rec.Header().Clone()
			header.Del("X-Cache")
			pages.Set(key, snapshot{status: status, header: header, body: rec.buf.Bytes()}, ttl)
		}
	}
}
