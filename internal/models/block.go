package models

import (
	"encoding/json"
	"fmt"
)

// Computed holds metrics derived from the fetched payloads. CVD is nil when
// the taker volume series was missing or unrecognizable; it marshals as null.
type Computed struct {
	CVD *float64 `json:"cvd"`
}

// FetchBlock is the unit of work produced by one collector cycle: the request
// parameters, the raw upstream payloads and the derived metrics. Blocks are
// immutable once produced and written to both sinks as-is.
type FetchBlock struct {
	Symbol      string                     `json:"symbol"`
	Interval    string                     `json:"interval"`
	WindowHours int                        `json:"window_hours"`
	Snapshots   map[string]json.RawMessage `json:"snapshots"`
	History     map[string]json.RawMessage `json:"history"`
	Computed    Computed                   `json:"computed"`
	FetchedAt   int64                      `json:"fetched_at"`
}

// WindowStart returns the lower bound of the historical window covered by
// this block.
func (b *FetchBlock) WindowStart() int64 {
	return b.FetchedAt - int64(b.WindowHours)*3600
}

// FirstValue extracts the named field from the first record of a snapshot
// payload. Upstream snapshots arrive as arrays of per-symbol records; "?" is
// returned whenever the payload does not match that shape.
func FirstValue(payload json.RawMessage, key string) string {
	var records []map[string]interface{}
	if err := json.Unmarshal(payload, &records); err != nil || len(records) == 0 {
		return "?"
	}
	v, ok := records[0][key]
	if !ok || v == nil {
		return "?"
	}
	return fmt.Sprintf("%v", v)
}

// HistoryCount reports the number of top-level records in a history payload,
// accepting either a bare array or an object wrapping the rows under "data".
func HistoryCount(payload json.RawMessage) int {
	if len(payload) == 0 {
		return 0
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(payload, &rows); err == nil {
		return len(rows)
	}
	var wrapped struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &wrapped); err == nil {
		return len(wrapped.Data)
	}
	return 0
}
