package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
)

// ErrInvalidQuery is returned for queries a store cannot run safely.
var ErrInvalidQuery = errors.New("invalid query")

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks the collection and every field name. Stores that build
// SQL from field names must call it first.
func (q Query) Validate() error {
	if !fieldName.MatchString(q.Collection) {
		return fmt.Errorf("%w: collection %q", ErrInvalidQuery, q.Collection)
	}
	for _, f := range q.Filters {
		if !fieldName.MatchString(f.Field) {
			return fmt.Errorf("%w: filter field %q", ErrInvalidQuery, f.Field)
		}
	}
	for _, o := range q.OrderBy {
		if !fieldName.MatchString(o.Field) {
			return fmt.Errorf("%w: order field %q", ErrInvalidQuery, o.Field)
		}
	}
	if q.Limit < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidQuery)
	}
	return nil
}

// Apply filters, sorts and limits docs in memory for stores without a
// query engine. The input order is kept for ties.
func Apply(q Query, docs []Snapshot) []Snapshot {
	out := make([]Snapshot, 0, len(docs))
	for _, d := range docs {
		if Matches(q.Filters, d.Data) {
			out = append(out, d)
		}
	}
	if len(q.OrderBy) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, o := range q.OrderBy {
				c := compare(out[i].Data[o.Field], out[j].Data[o.Field])
				if c == 0 {
					continue
				}
				if o.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// Matches reports whether data satisfies every filter.
func Matches(filters []Filter, data Document) bool {
	for _, f := range filters {
		v, ok := data[f.Field]
		if !ok || !equal(v, f.Value) {
			return false
		}
	}
	return true
}

func equal(stored, want any) bool {
	if a, ok := toFloat(stored); ok {
		if b, ok := toFloat(want); ok {
			return a == b
		}
	}
	return reflect.DeepEqual(stored, want)
}

func compare(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	if x, ok := toFloat(a); ok {
		if y, ok := toFloat(b); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	}
	x, y := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Fingerprint is a stable digest of a result set, used to detect changes.
func Fingerprint(docs []Snapshot) string {
	raw, err := json.Marshal(docs)
	if err != nil {
		return ""
	}
	return string(raw)
}
