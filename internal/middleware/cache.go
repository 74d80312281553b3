package middleware

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/subx-ng/subx-core/internal/config"
)

// NewRedisCache caches successful responses in Redis.  Mount it only on
// static catalog routes; availability and portfolio reads must never be
// served from it.
func NewRedisCache(cfg config.CacheConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return passthrough
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	limit := int64(cfg.MaxBodyBytes)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !cfg.Methods[strings.ToUpper(c.Request().Method)] {
				return next(c)
			}
			key := cacheKey(cfg, c)

			if raw, err := rdb.Get(c.Request().Context(), key).Bytes(); err == nil {
				if e, ok := decodeEntry(raw); ok {
					return e.replay(c)
				}
			}

			cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: limit}
			c.Response().Writer = cw
			c.Response().Header().Set("X-Cache", "MISS")
			if err := next(c); err != nil {
				return err
			}
			if cw.status != http.StatusOK || cw.truncated {
				return nil
			}
			e := cachedEntry{Status: cw.status, Header: c.Response().Header().Clone(), Body: cw.buf.Bytes()}
			if raw, err := e.encode(); err == nil {
				_ = rdb.SetEx(context.Background(), key, raw, ttl).Err()
			}
			return nil
		}
	}
}

// captureWriter tees the response body into buf up to limit bytes.
type captureWriter struct {
	http.ResponseWriter
	status    int
	buf       bytes.Buffer
	limit     int64
	truncated bool
}

func (cw *captureWriter) WriteHeader(code int) {
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	if !cw.truncated {
		if cw.limit > 0 && int64(cw.buf.Len()+len(b)) > cw.limit {
			cw.truncated = true
		} else {
			cw.buf.Write(b)
		}
	}
	return cw.ResponseWriter.Write(b)
}

func cacheKey(cfg config.CacheConfig, c echo.Context) string {
	r := c.Request()
	var parts []string
	switch strings.ToLower(cfg.KeyStrategy) {
	case "route":
		parts = []string{"route", c.Path()}
	case "method_route":
		parts = []string{"method", r.Method, "route", c.Path()}
	case "method_route_query":
		parts = []string{"method", r.Method, "route", c.Path(), "q", r.URL.RawQuery}
	default:
		parts = []string{"route", c.Path(), "q", r.URL.RawQuery}
	}
	sum := sha1.Sum([]byte(strings.Join(parts, ":")))
	return fmt.Sprintf("%s:%x", cfg.Prefix, sum)
}

type cachedEntry struct {
	Status int
	Header http.Header
	Body   []byte
}

// encode packs [4 bytes status][4 bytes header length][header JSON][body].
func (e cachedEntry) encode() ([]byte, error) {
	hdr, err := json.Marshal(e.Header)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8, 8+len(hdr)+len(e.Body))
	binary.BigEndian.PutUint32(out[0:4], uint32(e.Status))
	binary.BigEndian.PutUint32(out[4:8], uint32(len(hdr)))
	out = append(out, hdr...)
	return append(out, e.Body...), nil
}

func decodeEntry(raw []byte) (cachedEntry, bool) {
	if len(raw) < 8 {
		return cachedEntry{}, false
	}
	n := int(binary.BigEndian.Uint32(raw[4:8]))
	if n < 0 || 8+n > len(raw) {
		return cachedEntry{}, false
	}
	e := cachedEntry{Status: int(binary.BigEndian.Uint32(raw[0:4])), Header: http.Header{}, Body: raw[8+n:]}
	if n > 0 {
		if err := json.Unmarshal(raw[8:8+n], &e.Header); err != nil {
			return cachedEntry{}, false
		}
	}
	return e, true
}

func (e cachedEntry) replay(c echo.Context) error {
	h := c.Response().Header()
	for k, vals := range e.Header {
		if strings.EqualFold(k, echo.HeaderContentLength) {
			continue
		}
		for _, v := range vals {
			h.Add(k, v)
		}
	}
	h.Set("X-Cache", "HIT")
	c.Response().WriteHeader(e.Status)
	_, err := c.Response().Write(e.Body)
	return err
}
