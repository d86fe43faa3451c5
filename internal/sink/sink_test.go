package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"coinflow/internal/models"
)

func testBlock(fetchedAt int64) *models.FetchBlock {
	return &models.FetchBlock{
		Symbol:      "BTCUSDT_PERP.A",
		Interval:    "5min",
		WindowHours: 6,
		Snapshots: map[string]json.RawMessage{
			"open_interest": json.RawMessage(`[{"value":100}]`),
		},
		History: map[string]json.RawMessage{
			"ohlcv": json.RawMessage(`[{"t":1,"o":1,"h":2,"l":0.5,"c":1.5,"v":10}]`),
		},
		FetchedAt: fetchedAt,
	}
}

func TestWriteSnapshot(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	name, err := s.WriteSnapshot(context.Background(), testBlock(1700000000))
	if err != nil {
		t.Fatalf("WriteSnapshot failed: %v", err)
	}
	if name != "BTCUSDT_PERP.A_5min_1700000000.json" {
		t.Errorf("unexpected artifact name: %s", name)
	}

	data, err := os.ReadFile(filepath.Join(dir, "snapshots", name))
	if err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}
	var got models.FetchBlock
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("snapshot not valid JSON: %v", err)
	}
	if got.FetchedAt != 1700000000 {
		t.Errorf("fetched_at mismatch: %d", got.FetchedAt)
	}
}

func TestWriteSnapshotSanitizesSymbol(t *testing.T) {
	s, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	block := testBlock(42)
	block.Symbol = "BTC/USDT"
	name, err := s.WriteSnapshot(context.Background(), block)
	if err != nil {
		t.Fatalf("WriteSnapshot failed: %v", err)
	}
	if strings.Contains(name, "/") {
		t.Errorf("artifact name contains a path separator: %s", name)
	}
}

func TestAppendStream(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	for i := int64(0); i < 3; i++ {
		if _, err := s.AppendStream(testBlock(1700000000 + i)); err != nil {
			t.Fatalf("AppendStream failed: %v", err)
		}
	}

	f, err := os.Open(filepath.Join(dir, "streams", "BTCUSDT_PERP.A_5min.jsonl"))
	if err != nil {
		t.Fatalf("stream not created: %v", err)
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec models.FetchBlock
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("line %d not valid JSON: %v", lines, err)
		}
		lines++
	}
	if lines != 3 {
		t.Errorf("expected 3 stream lines, got %d", lines)
	}
}

func TestObjectKey(t *testing.T) {
	block := testBlock(1700000000) // 2023-11-14 UTC
	key := ObjectKey(block, SnapshotName(block))
	if !strings.HasPrefix(key, "snapshots/symbol=BTCUSDT_PERP.A/date=2023-11-14/") {
		t.Errorf("unexpected key prefix: %s", key)
	}
	if !strings.HasSuffix(key, ".json") {
		t.Errorf("key missing extension: %s", key)
	}

	other := ObjectKey(block, SnapshotName(block))
	if other == key {
		t.Error("object keys should be unique per upload")
	}
}
