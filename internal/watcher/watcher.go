// Package watcher re-runs a set of diagnostic modules on an interval against
// a live target, writing each combined report to a timestamped file. A
// size-capped report store keeps the most recent runs and drops the oldest
// when over the limit, so a long watch cannot fill the disk.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/richl9/drgn-tools/internal/config"
)

// RunFunc produces one combined report. A failed run is logged and the watch
// continues; the next tick gets a fresh chance.
type RunFunc func(ctx context.Context) ([]byte, error)

// Watcher owns the periodic loop and the report store.
type Watcher struct {
	cfg    config.WatchConfig
	logger *zap.Logger
	run    RunFunc
}

// New creates a watcher writing into cfg.Dir, which is created if needed.
func New(cfg config.WatchConfig, logger *zap.Logger, run RunFunc) (*Watcher, error) {
	if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
		return nil, err
	}
	return &Watcher{cfg: cfg, logger: logger, run: run}, nil
}

// Start runs the loop until the context is cancelled. The first scan happens
// immediately, then once per interval.
func (w *Watcher) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval.Duration)
	defer ticker.Stop()

	w.scan(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.scan(ctx)
		}
	}
}

func (w *Watcher) scan(ctx context.Context) {
	started := time.Now()
	report, err := w.run(ctx)
	if err != nil {
		w.logger.Error("Scan failed", zap.Error(err))
		return
	}
	path, err := w.store(report)
	if err != nil {
		w.logger.Error("Failed to store report", zap.Error(err))
		return
	}
	w.logger.Info("Scan complete",
		zap.String("report", path),
		zap.Duration("elapsed", time.Since(started)))
}

// store writes one report to a timestamped file, enforcing the size cap by
// dropping the oldest reports first.
func (w *Watcher) store(report []byte) (string, error) {
	for w.currentSizeMB() >= w.cfg.MaxSizeMB {
		if !w.dropOldest() {
			break
		}
	}
	path := filepath.Join(w.cfg.Dir, time.Now().UTC().Format("20060102T150405.000")+".txt")
	if err := os.WriteFile(path, report, 0640); err != nil {
		return "", err
	}
	return path, nil
}

// currentSizeMB returns the total size of all stored reports in megabytes.
func (w *Watcher) currentSizeMB() int {
	var total int64
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		return 0
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".txt" {
			continue
		}
		if info, err := entry.Info(); err == nil {
			total += info.Size()
		}
	}
	return int(total / (1024 * 1024))
}

// dropOldest removes the oldest stored report. Reports false when there is
// nothing left to drop.
func (w *Watcher) dropOldest() bool {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		return false
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".txt" {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return false
	}
	// Timestamped names sort chronologically.
	sort.Strings(names)
	oldest := filepath.Join(w.cfg.Dir, names[0])
	if err := os.Remove(oldest); err != nil {
		w.logger.Warn("Failed to drop oldest report",
			zap.String("file", oldest),
			zap.Error(err))
		return false
	}
	w.logger.Warn("Report store full, dropped oldest report",
		zap.String("file", oldest))
	return true
}

// Count returns the number of stored report files.
func (w *Watcher) Count() int {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		return 0
	}
	count := 0
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".txt" {
			count++
		}
	}
	return count
}
