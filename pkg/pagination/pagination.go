// Package pagination reads limit/offset query parameters and shapes paged
// list responses.
package pagination

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params is the window a client asked for.
type Params struct {
	Limit  int
	Offset int
}

// Parse reads limit and offset from the query string. An absent or zero
// limit means DefaultLimit and larger limits are capped at MaxLimit.
// Malformed or negative values are rejected.
func Parse(c echo.Context) (Params, error) {
	p := Params{Limit: DefaultLimit}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Params{}, fmt.Errorf("invalid limit %q", v)
		}
		if n > 0 {
			p.Limit = min(n, MaxLimit)
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Params{}, fmt.Errorf("invalid offset %q", v)
		}
		p.Offset = n
	}
	return p, nil
}

// Page is one window of a longer list. Next and Previous are the request
// URL with the window moved, other query parameters kept.
type Page[T any] struct {
	Data     []T    `json:"data"`
	Total    int    `json:"total"`
	Limit    int    `json:"limit"`
	Offset   int    `json:"offset"`
	HasMore  bool   `json:"has_more"`
	Next     string `json:"next,omitempty"`
	Previous string `json:"previous,omitempty"`
}

func NewPage[T any](data []T, total int, p Params, self *url.URL) Page[T] {
	if data == nil {
		data = []T{}
	}
	page := Page[T]{
		Data:    data,
		Total:   total,
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: p.Offset+p.Limit < total,
	}
	if page.HasMore {
		page.Next = moved(self, p.Limit, p.Offset+p.Limit)
	}
	if p.Offset > 0 {
		page.Previous = moved(self, p.Limit, max(p.Offset-p.Limit, 0))
	}
	return page
}

func moved(self *url.URL, limit, offset int) string {
	q := self.Query()
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	return self.Path + "?" + q.Encode()
}
