package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeAged writes a file and backdates its modification time so retention
// ordering is deterministic.
func writeAged(t *testing.T, dir, name string, size int, age time.Duration) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(strings.Repeat("x", size)), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	ts := time.Now().Add(-age)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatalf("chtimes %s: %v", name, err)
	}
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	return len(entries)
}

func TestRetentionTrimsOldestSnapshots(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	snapDir := filepath.Join(dir, "snapshots")

	for i := 0; i < 7; i++ {
		writeAged(t, snapDir, fmt.Sprintf("snap_%d.json", i), 10, time.Duration(7-i)*time.Hour)
	}

	s.Retention(4, 1<<30)

	if got := countFiles(t, snapDir); got != 4 {
		t.Fatalf("expected 4 snapshots after retention, got %d", got)
	}
	// The oldest three (0, 1, 2) must be gone, the newest four kept.
	for i := 0; i < 3; i++ {
		if _, err := os.Stat(filepath.Join(snapDir, fmt.Sprintf("snap_%d.json", i))); !os.IsNotExist(err) {
			t.Errorf("snap_%d.json should have been removed", i)
		}
	}
	for i := 3; i < 7; i++ {
		if _, err := os.Stat(filepath.Join(snapDir, fmt.Sprintf("snap_%d.json", i))); err != nil {
			t.Errorf("snap_%d.json should have been kept: %v", i, err)
		}
	}
}

func TestRetentionBoundsStreamBytes(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	streamDir := filepath.Join(dir, "streams")

	// 4 files of 100 bytes, oldest first; budget allows two.
	for i := 0; i < 4; i++ {
		writeAged(t, streamDir, fmt.Sprintf("stream_%d.jsonl", i), 100, time.Duration(4-i)*time.Hour)
	}

	s.Retention(1000, 200)

	var total int64
	entries, err := os.ReadDir(streamDir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			t.Fatalf("stat: %v", err)
		}
		total += info.Size()
	}
	if total > 200 {
		t.Errorf("total stream bytes %d exceed budget", total)
	}
	if _, err := os.Stat(filepath.Join(streamDir, "stream_3.jsonl")); err != nil {
		t.Error("newest stream should have been kept")
	}
	if _, err := os.Stat(filepath.Join(streamDir, "stream_0.jsonl")); !os.IsNotExist(err) {
		t.Error("oldest stream should have been removed")
	}
}

func TestRetentionIdempotent(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	snapDir := filepath.Join(dir, "snapshots")
	streamDir := filepath.Join(dir, "streams")

	for i := 0; i < 5; i++ {
		writeAged(t, snapDir, fmt.Sprintf("snap_%d.json", i), 10, time.Duration(5-i)*time.Minute)
		writeAged(t, streamDir, fmt.Sprintf("stream_%d.jsonl", i), 50, time.Duration(5-i)*time.Minute)
	}

	s.Retention(3, 120)
	snapsAfterFirst := countFiles(t, snapDir)
	streamsAfterFirst := countFiles(t, streamDir)

	s.Retention(3, 120)
	if got := countFiles(t, snapDir); got != snapsAfterFirst {
		t.Errorf("second pass changed snapshots: %d -> %d", snapsAfterFirst, got)
	}
	if got := countFiles(t, streamDir); got != streamsAfterFirst {
		t.Errorf("second pass changed streams: %d -> %d", streamsAfterFirst, got)
	}
}

func TestRetentionIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	snapDir := filepath.Join(dir, "snapshots")
	writeAged(t, snapDir, "notes.txt", 10, time.Hour)
	writeAged(t, snapDir, "snap_0.json", 10, time.Hour)

	s.Retention(0, 1<<30)

	if _, err := os.Stat(filepath.Join(snapDir, "notes.txt")); err != nil {
		t.Error("non-snapshot files must not be touched")
	}
	if _, err := os.Stat(filepath.Join(snapDir, "snap_0.json")); !os.IsNotExist(err) {
		t.Error("snapshot should have been removed")
	}
}
