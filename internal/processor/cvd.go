package processor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Upstream field naming is not contractually fixed, so each logical field is
// resolved through a prioritized alias list.
var (
	rowContainerAliases = []string{"data", "history"}
	buyFieldAliases     = []string{"buy_volume", "taker_buy", "buy"}
	sellFieldAliases    = []string{"sell_volume", "taker_sell", "sell"}
)

// ComputeCVD accumulates buy minus sell volume over a taker history payload.
// The second return value is false when the payload is absent or its shape is
// unrecognized; rows that fail numeric coercion are skipped without aborting
// the computation.
func ComputeCVD(payload json.RawMessage) (float64, bool) {
	rows, ok := locateRows(payload)
	if !ok {
		return 0, false
	}

	var cvd float64
	for _, raw := range rows {
		var row map[string]json.RawMessage
		if err := json.Unmarshal(raw, &row); err != nil {
			continue
		}

		buy := 0.0
		if v, present := fieldValue(row, buyFieldAliases); present {
			f, err := coerceFloat(v)
			if err != nil {
				continue
			}
			buy = f
		}

		sell := 0.0
		if v, present := fieldValue(row, sellFieldAliases); present {
			f, err := coerceFloat(v)
			if err != nil {
				continue
			}
			sell = f
		}

		cvd += buy - sell
	}
	return cvd, true
}

// locateRows finds the record sequence inside an opaque payload: either an
// array under a known container key, or the payload itself as an array.
func locateRows(payload json.RawMessage) ([]json.RawMessage, bool) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, false
	}

	if trimmed[0] == '{' {
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, false
		}
		for _, key := range rowContainerAliases {
			inner, ok := wrapper[key]
			if !ok {
				continue
			}
			var rows []json.RawMessage
			if err := json.Unmarshal(inner, &rows); err == nil {
				return rows, true
			}
		}
		return nil, false
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(trimmed, &rows); err != nil {
		return nil, false
	}
	// A bare empty sequence is indistinguishable from "no data returned".
	if len(rows) == 0 {
		return nil, false
	}
	return rows, true
}

// fieldValue returns the first present, non-empty alias value from the row.
func fieldValue(row map[string]json.RawMessage, aliases []string) (json.RawMessage, bool) {
	for _, key := range aliases {
		v, ok := row[key]
		if !ok {
			continue
		}
		s := string(bytes.TrimSpace(v))
		if s == "" || s == "null" || s == `""` || s == "0" || s == `"0"` {
			continue
		}
		return v, true
	}
	return nil, false
}

func coerceFloat(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseFloat(strings.TrimSpace(s), 64)
	}
	return 0, fmt.Errorf("value %s is not numeric", raw)
}
