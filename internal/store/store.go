// Package store defines the document store the clinical note repository
// persists through. Implementations live in the sub-packages.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

// TimeLayout is how timestamps are persisted: UTC with a fixed number of
// fractional digits so that string order equals time order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Document is the field map of a stored document.
type Document map[string]any

type serverTimestamp struct{}

// ServerTimestamp is replaced by the store with its own clock when the
// document is written.
var ServerTimestamp any = serverTimestamp{}

type deleteField struct{}

// DeleteField removes the key from the stored document when used as a value
// in Update. In Add it is dropped.
var DeleteField any = deleteField{}

// Snapshot is one document as read from the store.
type Snapshot struct {
	ID   string
	Data Document
}

// Filter matches documents whose Field equals Value.
type Filter struct {
	Field string
	Value any
}

// Order sorts by Field. Values are compared as numbers when both are
// numeric and as strings otherwise.
type Order struct {
	Field string
	Desc  bool
}

// Query selects documents of one collection.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    []Order
	Limit      int
}

// WatchFunc receives every new result of a watched query, or the error that
// ended the watch.
type WatchFunc func(docs []Snapshot, err error)

// Store is a document store with Firestore-like semantics.
type Store interface {
	// Add inserts data under a store-assigned id.
	Add(ctx context.Context, collection string, data Document) (string, error)
	// Get returns ErrNotFound when the document does not exist.
	Get(ctx context.Context, collection, id string) (*Snapshot, error)
	// Update merges data into the top-level fields of an existing document.
	Update(ctx context.Context, collection, id string, data Document) error
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, q Query) ([]Snapshot, error)
	// Watch calls fn with the current result and again whenever it
	// changes, until the returned cancel function is called. Calls never
	// overlap and each result is read after the previous call returned.
	Watch(ctx context.Context, q Query, fn WatchFunc) (cancel func(), err error)
}

// Resolve returns a copy of data with ServerTimestamp replaced by now and
// every time.Time rendered with TimeLayout. Keys set to DeleteField are left
// out; see DeletedKeys.
func Resolve(data Document, now time.Time) Document {
	out := make(Document, len(data))
	for k, v := range data {
		switch val := v.(type) {
		case deleteField:
			continue
		case serverTimestamp:
			out[k] = now.UTC().Format(TimeLayout)
		case time.Time:
			out[k] = val.UTC().Format(TimeLayout)
		case *time.Time:
			if val == nil {
				out[k] = nil
			} else {
				out[k] = val.UTC().Format(TimeLayout)
			}
		default:
			out[k] = v
		}
	}
	return out
}

// DeletedKeys returns the keys of data set to DeleteField, sorted.
func DeletedKeys(data Document) []string {
	var keys []string
	for k, v := range data {
		if _, ok := v.(deleteField); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Encode resolves data and marshals it to JSON.
func Encode(data Document, now time.Time) ([]byte, error) {
	raw, err := json.Marshal(Resolve(data, now))
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return raw, nil
}

// Decode unmarshals a document written by Encode.
func Decode(raw []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return doc, nil
}

// Merge overlays patch on base, removes the keys patch sets to DeleteField
// and returns the JSON of the result.
func Merge(base []byte, patch Document, now time.Time) ([]byte, error) {
	doc, err := Decode(base)
	if err != nil {
		return nil, err
	}
	for k, v := range Resolve(patch, now) {
		doc[k] = v
	}
	for _, k := range DeletedKeys(patch) {
		delete(doc, k)
	}
	return json.Marshal(doc)
}

// ParseTime reads a timestamp written by a store.
func ParseTime(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, val)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	default:
		return time.Time{}, false
	}
}
