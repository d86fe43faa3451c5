package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	appconfig "coinflow/config"
	"coinflow/internal/coinalyze"
	"coinflow/internal/models"
	"coinflow/internal/notify"
	"coinflow/internal/sink"
)

var (
	fixtureSnapshot = json.RawMessage(`[{"symbol":"BTCUSDT_PERP.A","value":123.5}]`)
	fixtureHistory  = json.RawMessage(`[{"t":1000,"o":1,"h":2,"l":0.5,"c":1.5,"v":10}]`)
	fixtureTaker    = json.RawMessage(`[{"buy_volume":10,"sell_volume":4}]`)
)

// fakeAPI serves fixture payloads and can fail whole cycles on demand.
type fakeAPI struct {
	mu       sync.Mutex
	cycle    int
	failFunc func(cycle int) error
	taker    json.RawMessage
	takerErr error
}

func (f *fakeAPI) OpenInterest(ctx context.Context, symbols []string) (json.RawMessage, error) {
	f.mu.Lock()
	f.cycle++
	cycle := f.cycle
	f.mu.Unlock()
	if f.failFunc != nil {
		if err := f.failFunc(cycle); err != nil {
			return nil, err
		}
	}
	return fixtureSnapshot, nil
}

func (f *fakeAPI) FundingRate(ctx context.Context, symbols []string) (json.RawMessage, error) {
	return fixtureSnapshot, nil
}

func (f *fakeAPI) history(json.RawMessage) (json.RawMessage, error) {
	return fixtureHistory, nil
}

func (f *fakeAPI) OpenInterestHistory(ctx context.Context, symbols []string, interval string, from, to int64) (json.RawMessage, error) {
	return fixtureHistory, nil
}

func (f *fakeAPI) FundingRateHistory(ctx context.Context, symbols []string, interval string, from, to int64) (json.RawMessage, error) {
	return fixtureHistory, nil
}

func (f *fakeAPI) PredictedFundingRateHistory(ctx context.Context, symbols []string, interval string, from, to int64) (json.RawMessage, error) {
	return fixtureHistory, nil
}

func (f *fakeAPI) LiquidationHistory(ctx context.Context, symbols []string, interval string, from, to int64) (json.RawMessage, error) {
	return fixtureHistory, nil
}

func (f *fakeAPI) LongShortRatioHistory(ctx context.Context, symbols []string, interval string, from, to int64) (json.RawMessage, error) {
	return fixtureHistory, nil
}

func (f *fakeAPI) OHLCVHistory(ctx context.Context, symbols []string, interval string, from, to int64) (json.RawMessage, error) {
	return fixtureHistory, nil
}

func (f *fakeAPI) TakerVolumeHistory(ctx context.Context, symbols []string, interval string, from, to int64) (json.RawMessage, error) {
	if f.takerErr != nil {
		return nil, f.takerErr
	}
	if f.taker != nil {
		return f.taker, nil
	}
	return nil, fmt.Errorf("taker volume history: %w", coinalyze.ErrUnavailable)
}

func testConfig(t *testing.T) *appconfig.Config {
	t.Helper()
	cfg := &appconfig.Config{}
	cfg.Collector.Symbol = "BTCUSDT_PERP.A"
	cfg.Collector.Interval = "5min"
	cfg.Collector.WindowHours = 6
	cfg.Collector.SleepSeconds = 1
	cfg.Collector.RetentionEvery = 60
	cfg.Storage.DataDir = t.TempDir()
	cfg.Storage.Retention.MaxSnapshots = 1000
	cfg.Storage.Retention.MaxStreamBytes = 1 << 30
	return cfg
}

// newTestCollector wires a collector around the fake API with a fixed clock
// and a buffered console.
func newTestCollector(t *testing.T, cfg *appconfig.Config, api API) (*Collector, *bytes.Buffer) {
	t.Helper()
	snk, err := sink.New(cfg.Storage.DataDir, nil)
	if err != nil {
		t.Fatalf("sink.New failed: %v", err)
	}
	c := New(cfg, api, snk, notify.NewPoster(appconfig.WebhookConfig{}))
	out := &bytes.Buffer{}
	c.out = out
	c.now = func() time.Time { return time.Unix(1700000000, 0).UTC() }
	c.baseSleep = time.Millisecond
	return c, out
}

func TestRunCycleProducesArtifacts(t *testing.T) {
	cfg := testConfig(t)
	api := &fakeAPI{taker: fixtureTaker}
	c, out := newTestCollector(t, cfg, api)

	if err := c.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle failed: %v", err)
	}

	snapDir := filepath.Join(cfg.Storage.DataDir, "snapshots")
	entries, err := os.ReadDir(snapDir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected exactly one snapshot artifact, got %d (err=%v)", len(entries), err)
	}

	data, err := os.ReadFile(filepath.Join(snapDir, entries[0].Name()))
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	var block models.FetchBlock
	if err := json.Unmarshal(data, &block); err != nil {
		t.Fatalf("snapshot not valid JSON: %v", err)
	}
	if block.FetchedAt != 1700000000 {
		t.Errorf("fetched_at = %d, want 1700000000", block.FetchedAt)
	}
	if block.Computed.CVD == nil || *block.Computed.CVD != 6 {
		t.Errorf("cvd = %v, want 6", block.Computed.CVD)
	}

	stream, err := os.ReadFile(filepath.Join(cfg.Storage.DataDir, "streams", "BTCUSDT_PERP.A_5min.jsonl"))
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if n := strings.Count(string(stream), "\n"); n != 1 {
		t.Errorf("expected exactly one stream line, got %d", n)
	}
	if !strings.Contains(string(stream), `"fetched_at":1700000000`) {
		t.Error("stream line missing fetched_at")
	}

	summary := out.String()
	if !strings.Contains(summary, "TF:5min") {
		t.Errorf("summary missing interval: %s", summary)
	}
	if !strings.Contains(summary, "BTCUSDT_PERP.A") {
		t.Errorf("summary missing symbol: %s", summary)
	}
	if !strings.Contains(summary, "CVD:6") {
		t.Errorf("summary missing cvd: %s", summary)
	}
}

func TestRunCycleTakerUnavailable(t *testing.T) {
	cfg := testConfig(t)
	api := &fakeAPI{} // taker endpoint reports ErrUnavailable
	c, out := newTestCollector(t, cfg, api)

	if err := c.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle failed: %v", err)
	}

	block, err := c.FetchBlock(context.Background())
	if err != nil {
		t.Fatalf("FetchBlock failed: %v", err)
	}
	if _, ok := block.History["taker"]; ok {
		t.Error("taker history must be omitted when unavailable")
	}
	if block.Computed.CVD != nil {
		t.Error("cvd must be unset when taker data is unavailable")
	}
	if !strings.Contains(out.String(), "CVD:NA") {
		t.Errorf("summary should report CVD:NA: %s", out.String())
	}
}

func TestRunCycleInvokesRetention(t *testing.T) {
	cfg := testConfig(t)
	cfg.Collector.RetentionEvery = 1
	cfg.Storage.Retention.MaxSnapshots = 1
	api := &fakeAPI{}

	snk, err := sink.New(cfg.Storage.DataDir, nil)
	if err != nil {
		t.Fatalf("sink.New failed: %v", err)
	}
	c := New(cfg, api, snk, notify.NewPoster(appconfig.WebhookConfig{}))
	c.out = &bytes.Buffer{}

	// Advancing clock so every cycle produces a distinct artifact name.
	var tick int64
	c.now = func() time.Time {
		tick++
		return time.Unix(1700000000+tick, 0).UTC()
	}

	for i := 0; i < 3; i++ {
		if err := c.runCycle(context.Background()); err != nil {
			t.Fatalf("runCycle %d failed: %v", i, err)
		}
	}

	entries, err := os.ReadDir(filepath.Join(cfg.Storage.DataDir, "snapshots"))
	if err != nil {
		t.Fatalf("read snapshots: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("retention should keep a single snapshot, got %d", len(entries))
	}
}

func TestRunBackoffSequenceAndReset(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cycles 1-3 fail, 4 succeeds, 5 fails, 6 stops the loop.
	api := &fakeAPI{failFunc: func(cycle int) error {
		switch {
		case cycle <= 3:
			return fmt.Errorf("upstream down")
		case cycle == 5:
			return fmt.Errorf("upstream down again")
		case cycle >= 6:
			cancel()
			return context.Canceled
		}
		return nil
	}}
	c, out := newTestCollector(t, cfg, api)
	c.baseSleep = 4 * time.Millisecond

	if err := c.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run should exit with context.Canceled, got %v", err)
	}

	var backoffs []string
	for _, line := range strings.Split(out.String(), "\n") {
		if idx := strings.Index(line, "backoff:"); idx >= 0 {
			backoffs = append(backoffs, line[idx+len("backoff:"):])
		}
	}
	want := []string{"4ms", "8ms", "16ms", "4ms"}
	if len(backoffs) != len(want) {
		t.Fatalf("expected %d failure lines, got %v", len(want), backoffs)
	}
	for i, w := range want {
		if backoffs[i] != w {
			t.Errorf("failure %d backoff = %s, want %s", i, backoffs[i], w)
		}
	}
}

func TestNextBackoff(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want time.Duration
	}{
		{60 * time.Second, 120 * time.Second},
		{300 * time.Second, 600 * time.Second},
		{400 * time.Second, 600 * time.Second},
		{600 * time.Second, 600 * time.Second},
	}
	for _, c := range cases {
		if got := nextBackoff(c.in); got != c.want {
			t.Errorf("nextBackoff(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestWithJitterBounds(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 200; i++ {
		d := withJitter(base)
		if d < base || d > base+base/4 {
			t.Fatalf("jittered sleep %v outside [base, 1.25*base]", d)
		}
	}
}

func TestJSONExcerptTruncates(t *testing.T) {
	block := &models.FetchBlock{
		Symbol: "X",
		History: map[string]json.RawMessage{
			"ohlcv": json.RawMessage("[" + strings.Repeat(`{"t":1},`, 200) + `{"t":2}]`),
		},
	}
	s := jsonExcerpt(block, 800)
	if len(s) != 803 || !strings.HasSuffix(s, "...") {
		t.Errorf("excerpt length %d, suffix %q", len(s), s[len(s)-3:])
	}

	small := &models.FetchBlock{Symbol: "X"}
	if s := jsonExcerpt(small, 800); strings.HasSuffix(s, "...") {
		t.Error("small blocks must not be truncated")
	}
}

func TestVerboseEchoPrinted(t *testing.T) {
	cfg := testConfig(t)
	cfg.Collector.PrintJSON = true
	api := &fakeAPI{}
	c, out := newTestCollector(t, cfg, api)

	if err := c.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle failed: %v", err)
	}
	if !strings.Contains(out.String(), `"window_hours":6`) {
		t.Errorf("verbose echo missing block JSON: %s", out.String())
	}
}
