package pagination

import (
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params holds pagination parameters extracted from a request.
type Params struct {
	Limit  int
	Offset int
}

// FromContext reads ?limit= and ?offset=, clamping limit to [1, MaxLimit].
func FromContext(c echo.Context) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}
	return Params{Limit: limit, Offset: offset}
}

// Response wraps a paginated API response.
type Response struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	HasMore bool        `json:"has_more"`
	Links   []Link      `json:"links,omitempty"`
}

func NewResponse(data interface{}, total, limit, offset int) *Response {
	return &Response{
		Data:    data,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+limit < total,
	}
}

// WithLinks attaches self/next/previous links for basePath. query carries
// the request's filters; its limit and offset are replaced.
func (r *Response) WithLinks(basePath string, query url.Values) *Response {
	r.Links = Params{Limit: r.Limit, Offset: r.Offset}.Links(basePath, r.Total, query)
	return r
}

func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

func (p Params) HasPrevious() bool {
	return p.Offset > 0
}

func (p Params) NextOffset() int {
	return p.Offset + p.Limit
}

// PreviousOffset never goes below zero.
func (p Params) PreviousOffset() int {
	prev := p.Offset - p.Limit
	if prev < 0 {
		return 0
	}
	return prev
}

// Link is a navigation link of a paginated response.
type Link struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

func (p Params) Links(basePath string, total int, query url.Values) []Link {
	links := []Link{{Relation: "self", URL: p.href(basePath, p.Offset, query)}}
	if p.HasNext(total) {
		links = append(links, Link{Relation: "next", URL: p.href(basePath, p.NextOffset(), query)})
	}
	if p.HasPrevious() {
		links = append(links, Link{Relation: "previous", URL: p.href(basePath, p.PreviousOffset(), query)})
	}
	return links
}

func (p Params) href(basePath string, offset int, query url.Values) string {
	q := url.Values{}
	for k, v := range query {
		q[k] = append([]string(nil), v...)
	}
	q.Set("limit", strconv.Itoa(p.Limit))
	q.Set("offset", strconv.Itoa(offset))
	return basePath + "?" + q.Encode()
}
