package turn

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Flusher periodically replays failed assistant-message writes so a
// completed model response is never lost to a transient store error.
type Flusher struct {
	coord    *Coordinator
	interval time.Duration
	cron     *cron.Cron
}

// NewFlusher creates a Flusher that runs every interval.
func NewFlusher(coord *Coordinator, interval time.Duration) *Flusher {
	return &Flusher{
		coord:    coord,
		interval: interval,
		cron:     cron.New(cron.WithSeconds()),
	}
}

// Start registers the flush job and starts the ticker.
func (f *Flusher) Start() error {
	spec := fmt.Sprintf("@every %s", f.interval)
	_, err := f.cron.AddFunc(spec, func() {
		if f.coord.PendingWrites() == 0 {
			return
		}
		slog.Info("flushing pending assistant writes", "queued", f.coord.PendingWrites())
		f.coord.FlushRetries(context.Background())
	})
	if err != nil {
		return fmt.Errorf("register flush job: %w", err)
	}
	f.cron.Start()
	return nil
}

// Stop halts the ticker and waits for a running flush to finish.
func (f *Flusher) Stop() {
	ctx := f.cron.Stop()
	<-ctx.Done()
}
