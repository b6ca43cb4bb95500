package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Snapshot is the exported state of a collector.
type Snapshot struct {
	GeneratedAt time.Time     `json:"generated_at"`
	System      SystemSummary `json:"system"`
	Agents      []Aggregate   `json:"agents"`
	Points      int           `json:"points"`
}

// Snapshot captures the current aggregates.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		GeneratedAt: c.now().UTC(),
		System:      c.SystemSummary(),
		Agents:      c.Summaries(),
		Points:      c.Len(),
	}
}

// Exporter persists snapshots.
type Exporter interface {
	Name() string
	Export(ctx context.Context, s Snapshot) error
}

// Export trims expired points and hands one snapshot to every exporter.
// Exporter failures are logged and returned joined; the collector state
// is unaffected.
func (c *Collector) Export(ctx context.Context) error {
	if n := c.Trim(); n > 0 {
		c.logger.Debug("metrics: trimmed expired points", "count", n)
	}
	snap := c.Snapshot()

	var errs []error
	for _, e := range c.exporters {
		if err := e.Export(ctx, snap); err != nil {
			c.logger.Warn("metrics: export failed", "exporter", e.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Start exports every interval until Stop or ctx is done. Calling Start
// on a running collector is a no-op.
func (c *Collector) Start(ctx context.Context) {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()
	if c.cancel != nil || c.interval <= 0 {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.loop(ctx, c.done)
}

// Stop halts the export loop, runs a final export and waits for it.
func (c *Collector) Stop() {
	c.loopMu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.loopMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *Collector) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			_ = c.Export(final)
			cancel()
			return
		case <-ticker.C:
			_ = c.Export(ctx)
		}
	}
}

// FileExporter writes each snapshot to a timestamped JSON file.
type FileExporter struct {
	Dir string
}

// NewFileExporter returns an exporter writing under dir.
func NewFileExporter(dir string) *FileExporter { return &FileExporter{Dir: dir} }

func (f *FileExporter) Name() string { return "file" }

// Export writes metrics_YYYYMMDD_HHMMSS.json, going through a temporary
// file so readers never see a partial snapshot.
func (f *FileExporter) Export(_ context.Context, s Snapshot) error {
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	name := filepath.Join(f.Dir, "metrics_"+s.GeneratedAt.Format("20060102_150405")+".json")
	tmp, err := os.CreateTemp(f.Dir, ".metrics-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), name)
}
