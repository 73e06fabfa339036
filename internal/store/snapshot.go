package store

import (
	"encoding/json"
	"fmt"

	"labtrack/internal/lab"
)

const snapshotVersion = 1

// IOError is the error kind for every persistence failure.
type IOError struct {
	Op      string
	Backend string
	Err     error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func ioErr(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Backend: backend, Err: err}
}

type document struct {
	Version int `json:"version"`
	*lab.Dataset
}

// Encode serialises a dataset into the versioned snapshot document.
func Encode(ds *lab.Dataset) ([]byte, error) {
	if ds == nil {
		ds = lab.NewDataset()
	}
	return json.Marshal(document{Version: snapshotVersion, Dataset: ds})
}

// Decode parses a snapshot document. Empty input yields an empty dataset and
// null records are dropped.
func Decode(body []byte) (*lab.Dataset, error) {
	if len(body) == 0 {
		return lab.NewDataset(), nil
	}
	doc := document{Dataset: lab.NewDataset()}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if doc.Version > snapshotVersion {
		return nil, fmt.Errorf("decode snapshot: unsupported version %d", doc.Version)
	}
	ds := doc.Dataset
	ds.Labs = compact(ds.Labs)
	ds.Instructors = compact(ds.Instructors)
	ds.TAs = compact(ds.TAs)
	ds.Requests = compact(ds.Requests)
	return ds, nil
}

// compact drops null entries so no nil record reaches the service.
func compact[T any](items []*T) []*T {
	out := items[:0]
	for _, it := range items {
		if it != nil {
			out = append(out, it)
		}
	}
	return out
}
