package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	appconfig "coinflow/config"
	"coinflow/internal/coinalyze"
	"coinflow/internal/export"
	"coinflow/logger"
)

func main() {
	log := logger.GetLogger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	symbol := flag.String("symbol", "", "Trading symbol (required)")
	interval := flag.String("interval", "1min", "History interval token")
	date := flag.String("date", "", "Single UTC day, YYYYMMDD or YYYY-MM-DD")
	fromDate := flag.String("from", "", "Range start day, YYYYMMDD or YYYY-MM-DD")
	toDate := flag.String("to", "", "Range end day (inclusive), YYYYMMDD or YYYY-MM-DD")
	month := flag.String("month", "", "Whole UTC month, YYYY-MM")
	out := flag.String("out", "", "Output path (required)")
	format := flag.String("format", "jsonl", "Output format: jsonl or parquet")
	flag.Parse()

	if *symbol == "" || *out == "" {
		fmt.Fprintln(os.Stderr, "both --symbol and --out are required")
		flag.Usage()
		os.Exit(2)
	}

	from, to, err := resolveWindow(*date, *fromDate, *toDate, *month)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := appconfig.LoadConfig(appconfig.ResolvePath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}
	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := coinalyze.NewClient(cfg)
	if err := export.ValidateSymbol(ctx, client, *symbol); err != nil {
		log.WithError(err).Error("symbol validation failed")
		os.Exit(1)
	}

	fmt.Printf("Fetching %s %s candles for %d..%d\n", *symbol, *interval, from, to)
	payload, err := client.OHLCVHistory(ctx, []string{*symbol}, *interval, from, to)
	if err != nil {
		log.WithError(err).Error("ohlcv fetch failed")
		os.Exit(1)
	}

	rows, err := export.Flatten(payload, *symbol, *interval)
	if err != nil {
		log.WithError(err).Error("failed to flatten history payload")
		os.Exit(1)
	}
	if len(rows) == 0 {
		fmt.Println("No data returned for that window.")
	}

	switch strings.ToLower(*format) {
	case "jsonl":
		err = export.WriteJSONL(*out, rows)
	case "parquet":
		err = export.WriteParquet(*out, rows)
	default:
		fmt.Fprintf(os.Stderr, "unknown format %q (want jsonl or parquet)\n", *format)
		os.Exit(2)
	}
	if err != nil {
		log.WithError(err).Error("failed to write output")
		os.Exit(1)
	}

	fmt.Printf("Wrote %d rows to %s\n", len(rows), *out)
}

// resolveWindow turns exactly one of the date selectors into inclusive
// unix-second bounds.
func resolveWindow(date, fromDate, toDate, month string) (int64, int64, error) {
	switch {
	case date != "":
		if fromDate != "" || toDate != "" || month != "" {
			return 0, 0, fmt.Errorf("--date cannot be combined with other selectors")
		}
		day, err := export.ParseDateArg(date)
		if err != nil {
			return 0, 0, err
		}
		from, to := export.DayBounds(day)
		return from, to, nil
	case month != "":
		if fromDate != "" || toDate != "" {
			return 0, 0, fmt.Errorf("--month cannot be combined with --from/--to")
		}
		return export.MonthBounds(month)
	case fromDate != "" && toDate != "":
		start, err := export.ParseDateArg(fromDate)
		if err != nil {
			return 0, 0, err
		}
		end, err := export.ParseDateArg(toDate)
		if err != nil {
			return 0, 0, err
		}
		from, to := export.RangeBounds(start, end)
		if to < from {
			return 0, 0, fmt.Errorf("--to must not precede --from")
		}
		return from, to, nil
	default:
		return 0, 0, fmt.Errorf("either --date, --month, or both --from and --to are required")
	}
}
