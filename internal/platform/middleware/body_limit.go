package middleware

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// BodyLimit rejects request bodies larger than limit with a 413. Limits are
// written as "64K", "1M" or a bare byte count.
func BodyLimit(limit string) echo.MiddlewareFunc {
	max := parseLimit(limit)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}
			if req.ContentLength > max {
				return tooLarge(max)
			}
			// Content-Length may be missing or wrong.
			req.Body = &limitedReadCloser{ReadCloser: req.Body, remaining: max, limit: max}
			return next(c)
		}
	}
}

type limitedReadCloser struct {
	io.ReadCloser
	remaining int64
	limit     int64
}

func (r *limitedReadCloser) Read(p []byte) (int, error) {
	if r.remaining < 0 {
		return 0, tooLarge(r.limit)
	}
	if int64(len(p)) > r.remaining+1 {
		p = p[:r.remaining+1]
	}
	n, err := r.ReadCloser.Read(p)
	r.remaining -= int64(n)
	if r.remaining < 0 {
		return 0, tooLarge(r.limit)
	}
	return n, err
}

func tooLarge(limit int64) *echo.HTTPError {
	return httpError(http.StatusRequestEntityTooLarge, "payload_too_large",
		fmt.Sprintf("request body exceeds maximum allowed size of %d bytes", limit))
}

// parseLimit defaults to 1 MB on empty or malformed input.
func parseLimit(s string) int64 {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, "B")
	if s == "" {
		return 1 << 20
	}

	var multiplier int64 = 1
	switch s[len(s)-1] {
	case 'G':
		multiplier = 1 << 30
	case 'M':
		multiplier = 1 << 20
	case 'K':
		multiplier = 1 << 10
	}
	if multiplier > 1 {
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 1 << 20
	}
	return n * multiplier
}
