package api

import (
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Request limits the backend enforces; requests are clamped to them before sending.
const (
	DefaultPage      = 1
	DefaultSize      = 20
	MaxSize          = 100
	MaxIDs           = 100
	MaxKeywordLength = 100
	MaxNameLength    = 200
	MaxContextLength = 5000
)

func NormalizePage(page int) int {
	if page < 1 {
		return DefaultPage
	}
	return page
}

func NormalizeSize(size int) int {
	if size < 1 {
		return DefaultSize
	}
	if size > MaxSize {
		return MaxSize
	}
	return size
}

// NormalizeProjectID returns 0 (omitted) for non-positive ids.
func NormalizeProjectID(id int64) int64 {
	if id <= 0 {
		return 0
	}
	return id
}

// NormalizeIDs keeps positive ids, drops duplicates and caps the list at MaxIDs.
// It returns nil when nothing usable remains so the parameter can be omitted.
func NormalizeIDs(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
		if len(out) == MaxIDs {
			break
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ParseIDs converts loosely typed ids (CLI args, tool arguments) and applies NormalizeIDs.
// Entries that are not integers are dropped.
func ParseIDs(raw []string) []int64 {
	ids := make([]int64, 0, len(raw))
	for _, r := range raw {
		for _, part := range strings.Split(r, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				continue
			}
			ids = append(ids, id)
		}
	}
	return NormalizeIDs(ids)
}

// NormalizeString trims s and truncates it to max runes (max <= 0 disables truncation).
func NormalizeString(s string, max int) string {
	s = strings.TrimSpace(s)
	if max > 0 && utf8.RuneCountInString(s) > max {
		runes := []rune(s)
		s = strings.TrimSpace(string(runes[:max]))
	}
	return s
}

// query builds list parameters, silently omitting anything invalid.
type query struct {
	v url.Values
}

func newQuery() *query {
	return &query{v: url.Values{}}
}

func (q *query) page(page, size int) *query {
	q.v.Set("page", strconv.Itoa(NormalizePage(page)))
	q.v.Set("size", strconv.Itoa(NormalizeSize(size)))
	return q
}

func (q *query) id(key string, id int64) *query {
	if id = NormalizeProjectID(id); id > 0 {
		q.v.Set(key, strconv.FormatInt(id, 10))
	}
	return q
}

func (q *query) str(key, val string, max int) *query {
	if val = NormalizeString(val, max); val != "" {
		q.v.Set(key, val)
	}
	return q
}

func (q *query) ids(key string, ids []int64) *query {
	for _, id := range NormalizeIDs(ids) {
		q.v.Add(key, strconv.FormatInt(id, 10))
	}
	return q
}

func (q *query) boolean(key string, val *bool) *query {
	if val != nil {
		q.v.Set(key, strconv.FormatBool(*val))
	}
	return q
}

func (q *query) values() url.Values {
	return q.v
}
