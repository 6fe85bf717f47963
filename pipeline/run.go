package pipeline

import (
	"context"
	"io"
	"sync"
	"time"

	"veilmail.dev/core/store"
)

// PendingEnvelope is one not-yet-processed envelope as reported by a
// Lister: an IMAP fetch result, a backfill replay record, or (in
// tests) a fixture file. Open is called at most once, from the
// goroutine that processes this envelope.
type PendingEnvelope struct {
	Open             func() (io.ReadCloser, error)
	RcvdTs           int64
	DownloadState    store.DownloadState
	FetchingExisting bool
}

// Lister is the out-of-scope IMAP-folder-scan collaborator named in
// this module's specification §5 ("multiple envelopes may be in
// flight concurrently, one per folder"): Pending returns up to limit
// not-yet-processed envelopes, and reports whether more remain beyond
// limit so the caller can re-prime its wakeup without a full
// rescan-interval wait.
type Lister interface {
	Pending(ctx context.Context, limit int) (items []PendingEnvelope, more bool, err error)
}

const collectLimit = 8

// Run drives one account's reception loop until ctx is canceled,
// mirroring spilldb/processor.Processor.Run's coalesced-wakeup shape:
// a buffered wakeup channel collapses bursts of Notify calls into one
// rescan, and a ticker provides a fallback poll so a missed or dropped
// wakeup is never fatal. Every pending envelope is processed on its
// own goroutine, per the "one logical reception task per envelope"
// scheduling model.
func (p *Pipeline) Run(ctx context.Context, lister Lister) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.wakeup:
		case <-ticker.C:
		}

		items, more, err := lister.Pending(ctx, collectLimit)
		if err != nil {
			if err == context.Canceled {
				return nil
			}
			p.logf("pipeline: list pending: %v", err)
			continue
		}

		if more {
			p.Notify()
		}

		var wg sync.WaitGroup
		for _, item := range items {
			wg.Add(1)
			go func(item PendingEnvelope) {
				defer wg.Done()
				if err := p.processOne(ctx, item); err != nil {
					p.logf("pipeline: receive: %v", err)
				}
			}(item)
		}
		wg.Wait()
	}
}

func (p *Pipeline) processOne(ctx context.Context, item PendingEnvelope) error {
	rc, err := item.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = p.Receive(ctx, rc, item.RcvdTs, item.DownloadState, item.FetchingExisting)
	return err
}

// Notify wakes the run loop for an early rescan instead of waiting for
// the next ticker tick. It is safe to call from any goroutine and
// never blocks: a pending wakeup already queued is enough, so an
// extra Notify while one is in flight is dropped, exactly as
// Processor.Process drops redundant wakeups.
func (p *Pipeline) Notify() {
	select {
	case p.wakeup <- struct{}{}:
	default:
	}
}

func (p *Pipeline) logf(format string, args ...interface{}) {
	if p.acc.Logf == nil {
		return
	}
	p.acc.Logf(format, args...)
}
