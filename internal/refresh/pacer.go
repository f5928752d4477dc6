package refresh

import (
	"context"
	"sync"
	"time"

	"relinkd/pkg/logx"
)

// Pacer enforces the upstream account-level call budget: after every
// BatchSize calls, process-wide, all callers stop for Pause before the next
// call goes out.
//
// The counter and the pause are shared state. One Pacer instance is
// constructed by the app and handed to every component that talks to the
// remote service, so concurrent refreshes of different folders draw from the
// same budget instead of each pacing independently.
type Pacer struct {
	log   logx.Logger
	batch int
	pause time.Duration

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	count uint64
}

func NewPacer(batch int, pause time.Duration, log logx.Logger) *Pacer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pacer{
		log:   log,
		batch: batch,
		pause: pause,
		sleep: sleepCtx,
	}
}

// Acquire grants permission to issue the next upstream call. Once a full
// batch has gone out, the caller that wants the following call serves the
// pause first. The mutex is held for the duration of the pause on purpose:
// while one caller is waiting out the budget, every other caller blocks here
// too, so no call is issued anywhere in the process until the pause elapses.
//
// Call Acquire before the remote call, never after: a cancelled pause then
// costs nothing that was already fetched. On error the call was not counted
// and must not be issued.
func (p *Pacer) Acquire(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.batch > 0 && p.pause > 0 && p.count > 0 && p.count%uint64(p.batch) == 0 {
		p.log.Debug("rate budget reached, pausing",
			logx.Int64("calls", int64(p.count)),
			logx.Duration("pause", p.pause))
		if err := p.sleep(ctx, p.pause); err != nil {
			return err
		}
	}
	p.count++
	return nil
}

// Calls reports the number of upstream calls recorded so far.
func (p *Pacer) Calls() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	tmr := time.NewTimer(d)
	select {
	case <-ctx.Done():
		if !tmr.Stop() {
			<-tmr.C
		}
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}
