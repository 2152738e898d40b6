package sim

import (
	"context"
	"log/slog"
	"time"

	"marketsim/internal/metrics"
	"marketsim/pkg/types"
)

// Sink receives the broadcastable output of each tick. The broadcaster
// implements it; tests substitute a recorder.
type Sink interface {
	PublishMarket(sessionID string, day int, deltas []types.MarketDelta)
	PublishPortfolio(update types.PortfolioUpdate)
}

// Scheduler pumps one session's clock at the wall interval derived from its
// speed. It owns no market state: each tick calls into the session under the
// session's mutex, then hands the results to the sink.
type Scheduler struct {
	sess   *Session
	sink   Sink
	logger *slog.Logger
}

// NewScheduler creates a scheduler for one session.
func NewScheduler(sess *Session, sink Sink, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		sess:   sess,
		sink:   sink,
		logger: logger.With("component", "scheduler", "session", sess.ID),
	}
}

// Run ticks until ctx is cancelled. The timer is re-armed from the session's
// current interval each cycle so speed changes take effect on the next tick.
func (sc *Scheduler) Run(ctx context.Context) {
	timer := time.NewTimer(sc.sess.Interval())
	defer timer.Stop()

	loggedExhausted := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		res := sc.sess.Tick(1)
		if res.Exhausted {
			if !loggedExhausted {
				sc.logger.Info("week budget exhausted, clock stopped", "day", res.Day)
				loggedExhausted = true
			}
		} else {
			metrics.IncTicks(1)
			if len(res.Deltas) > 0 {
				sc.sink.PublishMarket(sc.sess.ID, res.Day, res.Deltas)
			}
			sc.sink.PublishPortfolio(res.Portfolio)
		}

		timer.Reset(sc.sess.Interval())
	}
}
