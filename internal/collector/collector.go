package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"

	appconfig "coinflow/config"
	"coinflow/internal/coinalyze"
	"coinflow/internal/models"
	"coinflow/internal/notify"
	"coinflow/internal/processor"
	"coinflow/internal/sink"
	"coinflow/logger"
)

// maxBackoff caps the failure backoff between cycles.
const maxBackoff = 600 * time.Second

// API is the slice of the upstream client the collector consumes.
type API interface {
	OpenInterest(ctx context.Context, symbols []string) (json.RawMessage, error)
	FundingRate(ctx context.Context, symbols []string) (json.RawMessage, error)
	OpenInterestHistory(ctx context.Context, symbols []string, interval string, from, to int64) (json.RawMessage, error)
	FundingRateHistory(ctx context.Context, symbols []string, interval string, from, to int64) (json.RawMessage, error)
	PredictedFundingRateHistory(ctx context.Context, symbols []string, interval string, from, to int64) (json.RawMessage, error)
	LiquidationHistory(ctx context.Context, symbols []string, interval string, from, to int64) (json.RawMessage, error)
	LongShortRatioHistory(ctx context.Context, symbols []string, interval string, from, to int64) (json.RawMessage, error)
	OHLCVHistory(ctx context.Context, symbols []string, interval string, from, to int64) (json.RawMessage, error)
	TakerVolumeHistory(ctx context.Context, symbols []string, interval string, from, to int64) (json.RawMessage, error)
}

// Collector runs the live polling loop: one fetch-persist-notify sequence per
// cycle, with jittered sleeps on success and doubling backoff on failure.
type Collector struct {
	cfg      *appconfig.Config
	api      API
	sink     *sink.Sink
	notifier *notify.Poster
	log      *logger.Log
	runID    string

	out       io.Writer
	now       func() time.Time
	baseSleep time.Duration

	cycles int
}

// New assembles a collector from its collaborators.
func New(cfg *appconfig.Config, api API, snk *sink.Sink, notifier *notify.Poster) *Collector {
	return &Collector{
		cfg:       cfg,
		api:       api,
		sink:      snk,
		notifier:  notifier,
		log:       logger.GetLogger(),
		runID:     uuid.NewString(),
		out:       os.Stdout,
		now:       time.Now,
		baseSleep: time.Duration(cfg.Collector.SleepSeconds) * time.Second,
	}
}

// FetchBlock gathers one complete block of snapshots and histories for the
// configured symbol. The taker volume fetch is best-effort: its absence or
// failure leaves CVD unset and never fails the block.
func (c *Collector) FetchBlock(ctx context.Context) (*models.FetchBlock, error) {
	cc := c.cfg.Collector
	symbols := []string{cc.Symbol}
	to := c.now().Unix()
	from := to - int64(cc.WindowHours)*3600

	oi, err := c.api.OpenInterest(ctx, symbols)
	if err != nil {
		return nil, err
	}
	fr, err := c.api.FundingRate(ctx, symbols)
	if err != nil {
		return nil, err
	}

	oiHist, err := c.api.OpenInterestHistory(ctx, symbols, cc.Interval, from, to)
	if err != nil {
		return nil, err
	}
	frHist, err := c.api.FundingRateHistory(ctx, symbols, cc.Interval, from, to)
	if err != nil {
		return nil, err
	}
	pfrHist, err := c.api.PredictedFundingRateHistory(ctx, symbols, cc.Interval, from, to)
	if err != nil {
		return nil, err
	}
	liqHist, err := c.api.LiquidationHistory(ctx, symbols, cc.Interval, from, to)
	if err != nil {
		return nil, err
	}
	lsHist, err := c.api.LongShortRatioHistory(ctx, symbols, cc.Interval, from, to)
	if err != nil {
		return nil, err
	}
	ohlcv, err := c.api.OHLCVHistory(ctx, symbols, cc.Interval, from, to)
	if err != nil {
		return nil, err
	}

	block := &models.FetchBlock{
		Symbol:      cc.Symbol,
		Interval:    cc.Interval,
		WindowHours: cc.WindowHours,
		Snapshots: map[string]json.RawMessage{
			"open_interest": oi,
			"funding_rate":  fr,
		},
		History: map[string]json.RawMessage{
			"open_interest":          oiHist,
			"funding_rate":           frHist,
			"predicted_funding_rate": pfrHist,
			"liquidations":           liqHist,
			"long_short_ratio":       lsHist,
			"ohlcv":                  ohlcv,
		},
		FetchedAt: to,
	}

	taker, err := c.api.TakerVolumeHistory(ctx, symbols, cc.Interval, from, to)
	switch {
	case err == nil:
		block.History["taker"] = taker
		if cvd, ok := processor.ComputeCVD(taker); ok {
			block.Computed.CVD = &cvd
		}
	case errors.Is(err, coinalyze.ErrUnavailable):
		c.log.WithComponent("collector").Debug("taker volume endpoint unavailable upstream")
	default:
		c.log.WithComponent("collector").WithError(err).Warn("taker volume fetch failed")
	}

	return block, nil
}

// runCycle executes one fetch-persist-notify sequence.
func (c *Collector) runCycle(ctx context.Context) error {
	start := c.now()

	block, err := c.FetchBlock(ctx)
	if err != nil {
		return err
	}

	artifact, err := c.sink.WriteSnapshot(ctx, block)
	if err != nil {
		return err
	}
	if _, err := c.sink.AppendStream(block); err != nil {
		return err
	}

	duration := c.now().Sub(start)
	fmt.Fprintln(c.out, c.summaryLine(block, artifact, duration))
	if c.cfg.Collector.PrintJSON {
		fmt.Fprintln(c.out, jsonExcerpt(block, 800))
	}

	embed := notify.BuildEmbed(block)
	title := fmt.Sprintf("Coinalyze • %s • %s", block.Symbol, block.Interval)
	if _, err := c.notifier.Post(ctx, title, &embed); err != nil {
		c.log.WithComponent("collector").WithError(err).Warn("webhook post failed")
	}

	c.cycles++
	if every := c.cfg.Collector.RetentionEvery; every > 0 && c.cycles%every == 0 {
		c.sink.Retention(c.cfg.Storage.Retention.MaxSnapshots, c.cfg.Storage.Retention.MaxStreamBytes)
	}

	logger.LogPerformanceEntry(c.log.WithFields(logger.Fields{
		"run_id": c.runID,
		"cycle":  c.cycles,
	}), "collector", "cycle", duration, logger.Fields{
		"symbol":   block.Symbol,
		"artifact": artifact,
	})
	return nil
}

// Run polls until the context is cancelled. Failures never terminate the
// loop: each failed cycle sleeps for the current backoff and doubles it up to
// the cap, and the next successful cycle resets it.
func (c *Collector) Run(ctx context.Context) error {
	cc := c.cfg.Collector
	c.log.WithComponent("collector").WithFields(logger.Fields{
		"run_id":   c.runID,
		"symbol":   cc.Symbol,
		"interval": cc.Interval,
		"window_h": cc.WindowHours,
	}).Info("collector started")

	fmt.Fprintf(c.out, "=== coinflow • Coinalyze Live ===\n")
	fmt.Fprintf(c.out, "Symbol: %s | Interval: %s | Window(h): %d\n", cc.Symbol, cc.Interval, cc.WindowHours)

	backoff := c.baseSleep
	for {
		if ctx.Err() != nil {
			c.log.WithComponent("collector").Info("collector stopped")
			return ctx.Err()
		}

		if err := c.runCycle(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			fmt.Fprintf(c.out, "[%s] ERROR: %v | backoff:%s\n", c.now().Format("15:04:05"), err, backoff)
			c.log.WithComponent("collector").WithError(err).WithFields(logger.Fields{
				"run_id":  c.runID,
				"backoff": backoff.String(),
			}).Error("cycle failed")
			if !sleepCtx(ctx, backoff) {
				continue
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = c.baseSleep
		sleepCtx(ctx, withJitter(c.baseSleep))
	}
}

// nextBackoff doubles the failure backoff up to the cap.
func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// withJitter spreads cycle starts by a uniform random delay in
// [0, 0.25*base).
func withJitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	return base + time.Duration(rand.Int63n(int64(base)/4+1))
}

// sleepCtx sleeps for d unless the context is cancelled first; it reports
// whether the full sleep elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// summaryLine renders the one-line console summary for a completed cycle.
func (c *Collector) summaryLine(block *models.FetchBlock, artifact string, duration time.Duration) string {
	cvd := "NA"
	if block.Computed.CVD != nil {
		cvd = fmt.Sprintf("%g", *block.Computed.CVD)
	}
	return fmt.Sprintf("[%s] %s TF:%s OI:%s FR:%s Candles:%d LIQ:%d LS:%d CVD:%s Saved:%s Dur:%.2fs",
		c.now().Format("15:04:05"),
		block.Symbol,
		block.Interval,
		models.FirstValue(block.Snapshots["open_interest"], "value"),
		models.FirstValue(block.Snapshots["funding_rate"], "value"),
		models.HistoryCount(block.History["ohlcv"]),
		models.HistoryCount(block.History["liquidations"]),
		models.HistoryCount(block.History["long_short_ratio"]),
		cvd,
		artifact,
		duration.Seconds(),
	)
}

// jsonExcerpt renders the block as compact JSON truncated to limit bytes.
func jsonExcerpt(block *models.FetchBlock, limit int) string {
	data, err := json.Marshal(block)
	if err != nil {
		return ""
	}
	if len(data) > limit {
		return string(data[:limit]) + "..."
	}
	return string(data)
}
