package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"coinflow/internal/coinalyze"
)

// maxSuggestions bounds the candidate list printed for an unknown symbol.
const maxSuggestions = 10

// ParseDateArg parses a UTC calendar date given as YYYYMMDD or YYYY-MM-DD.
func ParseDateArg(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	layout := "2006-01-02"
	if len(s) == 8 && !strings.Contains(s, "-") {
		layout = "20060102"
	}
	t, err := time.ParseInLocation(layout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYYMMDD or YYYY-MM-DD): %w", s, err)
	}
	return t, nil
}

// DayBounds returns the inclusive unix-second bounds of the UTC day holding t.
func DayBounds(t time.Time) (int64, int64) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1).Add(-time.Second)
	return start.Unix(), end.Unix()
}

// RangeBounds returns inclusive unix-second bounds for a day range, with the
// end date extended to its last second.
func RangeBounds(from, to time.Time) (int64, int64) {
	_, end := DayBounds(to)
	start, _ := DayBounds(from)
	return start, end
}

// MonthBounds parses a YYYY-MM selector and returns the inclusive
// unix-second bounds of that UTC month.
func MonthBounds(s string) (int64, int64, error) {
	t, err := time.ParseInLocation("2006-01", strings.TrimSpace(s), time.UTC)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid month %q (want YYYY-MM): %w", s, err)
	}
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0).Add(-time.Second)
	return start.Unix(), end.Unix(), nil
}

// Discovery is the slice of the upstream client the symbol check needs.
type Discovery interface {
	FutureMarkets(ctx context.Context) ([]coinalyze.Market, error)
}

// ValidateSymbol checks the symbol against the future-market listing. An
// unknown symbol yields an error naming markets that share its longest
// matching prefix.
func ValidateSymbol(ctx context.Context, disc Discovery, symbol string) error {
	markets, err := disc.FutureMarkets(ctx)
	if err != nil {
		return fmt.Errorf("list future markets: %w", err)
	}

	for _, m := range markets {
		if m.Symbol == symbol {
			return nil
		}
	}

	suggestions := suggestSymbols(markets, symbol)
	if len(suggestions) == 0 {
		return fmt.Errorf("unknown symbol %q", symbol)
	}
	return fmt.Errorf("unknown symbol %q, did you mean one of: %s", symbol, strings.Join(suggestions, ", "))
}

// suggestSymbols lists market symbols sharing the longest prefix of the
// requested symbol that still matches anything.
func suggestSymbols(markets []coinalyze.Market, symbol string) []string {
	for n := len(symbol); n > 0; n-- {
		prefix := symbol[:n]
		var found []string
		for _, m := range markets {
			if strings.HasPrefix(m.Symbol, prefix) {
				found = append(found, m.Symbol)
			}
		}
		if len(found) > 0 {
			sort.Strings(found)
			if len(found) > maxSuggestions {
				found = found[:maxSuggestions]
			}
			return found
		}
	}
	return nil
}

// WriteJSONL writes one compact JSON record per row to path, truncating any
// existing file.
func WriteJSONL(path string, rows []Row) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for i, row := range rows {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	return f.Close()
}
