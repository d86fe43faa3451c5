package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"coinflow/internal/models"
	"coinflow/logger"
)

// Sink persists fetch blocks to the local data directory: a uniquely named
// snapshot file per cycle plus an append-only JSONL stream per
// (symbol, interval) pair. An optional S3 mirror receives a copy of every
// snapshot on a best-effort basis.
type Sink struct {
	snapshotDir string
	streamDir   string
	mirror      *S3Mirror
	log         *logger.Log
}

// New prepares the snapshot and stream directories under dataDir. The mirror
// may be nil when S3 mirroring is disabled.
func New(dataDir string, mirror *S3Mirror) (*Sink, error) {
	snapshotDir := filepath.Join(dataDir, "snapshots")
	streamDir := filepath.Join(dataDir, "streams")
	for _, dir := range []string{snapshotDir, streamDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	return &Sink{
		snapshotDir: snapshotDir,
		streamDir:   streamDir,
		mirror:      mirror,
		log:         logger.GetLogger(),
	}, nil
}

func sanitizeSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "_")
}

// SnapshotName derives the unique snapshot artifact name for a block.
func SnapshotName(block *models.FetchBlock) string {
	return fmt.Sprintf("%s_%s_%d.json", sanitizeSymbol(block.Symbol), block.Interval, block.FetchedAt)
}

// StreamName derives the per-(symbol, interval) stream artifact name.
func StreamName(symbol, interval string) string {
	return fmt.Sprintf("%s_%s.jsonl", sanitizeSymbol(symbol), interval)
}

// WriteSnapshot writes the block as a new point-in-time artifact and returns
// the artifact name. Names embed the block's fetch timestamp, so each cycle
// produces a distinct file.
func (s *Sink) WriteSnapshot(ctx context.Context, block *models.FetchBlock) (string, error) {
	data, err := json.MarshalIndent(block, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	name := SnapshotName(block)
	path := filepath.Join(s.snapshotDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write snapshot %s: %w", name, err)
	}

	if s.mirror != nil {
		if err := s.mirror.Upload(ctx, block, name, data); err != nil {
			s.log.WithComponent("sink").WithError(err).WithFields(logger.Fields{
				"artifact": name,
			}).Warn("snapshot mirror upload failed")
		}
	}

	return name, nil
}

// AppendStream appends the block as one compact JSON line to the stream
// artifact, creating it when absent, and returns the artifact name.
func (s *Sink) AppendStream(block *models.FetchBlock) (string, error) {
	data, err := json.Marshal(block)
	if err != nil {
		return "", fmt.Errorf("encode stream record: %w", err)
	}

	name := StreamName(block.Symbol, block.Interval)
	path := filepath.Join(s.streamDir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", fmt.Errorf("open stream %s: %w", name, err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return "", fmt.Errorf("append stream %s: %w", name, err)
	}
	return name, nil
}
