package sink

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"coinflow/logger"
)

type artifact struct {
	path    string
	size    int64
	modTime int64
}

// listArtifacts returns the matching files in dir sorted by modification time
// ascending. Unreadable entries are skipped.
func listArtifacts(dir, ext string) []artifact {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	artifacts := make([]artifact, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ext) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		artifacts = append(artifacts, artifact{
			path:    filepath.Join(dir, entry.Name()),
			size:    info.Size(),
			modTime: info.ModTime().UnixNano(),
		})
	}
	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].modTime < artifacts[j].modTime })
	return artifacts
}

// Retention bounds the stored artifacts: at most maxSnapshots snapshot files
// and at most maxStreamBytes across all stream files, deleting oldest first.
// The pass is best-effort and never interrupts the caller; individual
// deletion failures are logged and skipped.
func (s *Sink) Retention(maxSnapshots int, maxStreamBytes int64) {
	log := s.log.WithComponent("sink")

	snapshots := listArtifacts(s.snapshotDir, ".json")
	if excess := len(snapshots) - maxSnapshots; excess > 0 {
		removed := 0
		for _, a := range snapshots[:excess] {
			if err := os.Remove(a.path); err != nil {
				log.WithError(err).Debug("failed to remove snapshot artifact")
				continue
			}
			removed++
		}
		log.WithFields(logger.Fields{
			"removed":   removed,
			"remaining": len(snapshots) - removed,
		}).Info("snapshot retention applied")
	}

	streams := listArtifacts(s.streamDir, ".jsonl")
	var total int64
	for _, a := range streams {
		total += a.size
	}
	removed := 0
	for _, a := range streams {
		if total <= maxStreamBytes {
			break
		}
		if err := os.Remove(a.path); err != nil {
			log.WithError(err).Debug("failed to remove stream artifact")
			continue
		}
		total -= a.size
		removed++
	}
	if removed > 0 {
		log.WithFields(logger.Fields{
			"removed":     removed,
			"total_bytes": total,
		}).Info("stream retention applied")
	}
}
