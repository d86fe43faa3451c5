package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Candle field aliases, in probe order. Upstream naming is not contractually
// fixed, so each logical field carries the spellings seen in the wild.
var (
	tsAliases    = []string{"t", "ts", "time", "timestamp"}
	openAliases  = []string{"o", "open"}
	highAliases  = []string{"h", "high"}
	lowAliases   = []string{"l", "low"}
	closeAliases = []string{"c", "close"}
	volAliases   = []string{"v", "volume", "vol"}
	bvAliases    = []string{"bv", "buy_volume", "volume_bv"}
)

// Row is one flattened candle. BuyVolume is a pointer because upstream omits
// it for some markets; it marshals as an explicit null in that case. Extra
// holds unrecognized source fields verbatim.
type Row struct {
	Symbol    string
	Interval  string
	TS        int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	BuyVolume *float64
	Extra     map[string]json.RawMessage
}

// MarshalJSON renders the fixed fields in a stable order followed by any
// extra fields sorted by key.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	fmt.Fprintf(&buf, `"symbol":%s,`, mustQuote(r.Symbol))
	fmt.Fprintf(&buf, `"interval":%s,`, mustQuote(r.Interval))
	fmt.Fprintf(&buf, `"ts":%d,`, r.TS)
	fmt.Fprintf(&buf, `"o":%s,`, formatFloat(r.Open))
	fmt.Fprintf(&buf, `"h":%s,`, formatFloat(r.High))
	fmt.Fprintf(&buf, `"l":%s,`, formatFloat(r.Low))
	fmt.Fprintf(&buf, `"c":%s,`, formatFloat(r.Close))
	fmt.Fprintf(&buf, `"v":%s,`, formatFloat(r.Volume))
	if r.BuyVolume != nil {
		fmt.Fprintf(&buf, `"bv":%s`, formatFloat(*r.BuyVolume))
	} else {
		buf.WriteString(`"bv":null`)
	}
	keys := make([]string, 0, len(r.Extra))
	for k := range r.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&buf, `,%s:%s`, mustQuote(k), r.Extra[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func mustQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// marketHistory is the per-symbol wrapper shape the history endpoints return.
type marketHistory struct {
	Symbol  string            `json:"symbol"`
	History []json.RawMessage `json:"history"`
}

// Flatten converts an OHLCV history payload into rows. It accepts the
// per-symbol wrapper shape `[{"symbol":..,"history":[..]}]` as well as a bare
// candle array, and rejects anything else as an unrecognized shape. Rows that
// lack a timestamp are dropped.
func Flatten(payload json.RawMessage, symbol, interval string) ([]Row, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(payload, &elems); err != nil {
		// The API occasionally wraps the list in a data envelope.
		var envelope struct {
			Data []json.RawMessage `json:"data"`
		}
		if err2 := json.Unmarshal(payload, &envelope); err2 != nil || envelope.Data == nil {
			return nil, fmt.Errorf("unrecognized history payload shape: %w", err)
		}
		elems = envelope.Data
	}

	var rows []Row
	for _, elem := range elems {
		var wrapper marketHistory
		if err := json.Unmarshal(elem, &wrapper); err == nil && wrapper.History != nil {
			sym := wrapper.Symbol
			if sym == "" {
				sym = symbol
			}
			for _, raw := range wrapper.History {
				if row, ok := flattenCandle(raw, sym, interval); ok {
					rows = append(rows, row)
				}
			}
			continue
		}
		if row, ok := flattenCandle(elem, symbol, interval); ok {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func flattenCandle(raw json.RawMessage, symbol, interval string) (Row, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Row{}, false
	}

	ts, ok := intField(fields, tsAliases)
	if !ok {
		return Row{}, false
	}

	row := Row{Symbol: symbol, Interval: interval, TS: ts}
	known := map[string]bool{}
	for _, names := range [][]string{tsAliases, openAliases, highAliases, lowAliases, closeAliases, volAliases, bvAliases} {
		for _, n := range names {
			if _, present := fields[n]; present {
				known[n] = true
			}
		}
	}

	row.Open, _ = floatField(fields, openAliases)
	row.High, _ = floatField(fields, highAliases)
	row.Low, _ = floatField(fields, lowAliases)
	row.Close, _ = floatField(fields, closeAliases)
	row.Volume, _ = floatField(fields, volAliases)
	if bv, ok := floatField(fields, bvAliases); ok {
		row.BuyVolume = &bv
	}

	for k, v := range fields {
		if known[k] {
			continue
		}
		if row.Extra == nil {
			row.Extra = map[string]json.RawMessage{}
		}
		row.Extra[k] = v
	}
	return row, true
}

func floatField(fields map[string]json.RawMessage, aliases []string) (float64, bool) {
	for _, name := range aliases {
		raw, present := fields[name]
		if !present {
			continue
		}
		var f float64
		if err := json.Unmarshal(raw, &f); err == nil {
			return f, true
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func intField(fields map[string]json.RawMessage, aliases []string) (int64, bool) {
	f, ok := floatField(fields, aliases)
	if !ok {
		return 0, false
	}
	return int64(f), true
}
