package download

import (
	"context"
	"os"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// Options configures a DownloadMany call.
type Options struct {
	// MaxConns bounds the number of concurrently in-flight payloads via a
	// semaphore-bounded goroutine pool, each goroutine blocking in
	// http.Client.Do.
	MaxConns int

	// CacheDir roots any random (non-resumable) tempfile this batch needs.
	CacheDir string

	// OnEvent receives lifecycle events for every payload in the batch.
	OnEvent EventFunc
}

// isMirrorEligible reports whether a failure's Kind permits advancing to
// the next candidate server: a bad response (>= 400), a resolve failure,
// or a generic transport error are eligible; filesystem and allocation
// failures are not (retrying a different server won't fix a local disk
// problem).
func isMirrorEligible(err error) bool {
	switch ErrorKind(err) {
	case KindRetrieve, KindServerBadURL, KindTransport:
		return true
	default:
		return false
	}
}

// runWithFailover drives one payload through runAttempt, advancing the
// mirror cursor and retrying on eligible failures until it succeeds, runs
// out of servers, or hits a non-eligible terminal failure. Retries are
// invisible to the event stream (only one INIT and one COMPLETED are ever
// emitted for a payload).
func runWithFailover(ctx context.Context, p *Payload, cacheDir string, eventFn EventFunc) (Result, error) {
	for {
		result, err := runAttempt(ctx, p, cacheDir, eventFn)
		if err == nil {
			return result, nil
		}

		if isMirrorEligible(err) {
			if p.UnlinkOnFail && p.TempPath != "" {
				_ = os.Truncate(p.TempPath, 0)
			}
			p.ResetForRetry()
			if p.advanceMirror() {
				continue
			}
		}

		return result, err
	}
}

// DownloadMany drives every payload to completion with bounded
// concurrency, failing a mirror over to the next candidate server on
// eligible errors, and reports aggregated lifecycle events through
// opts.OnEvent.
//
// The first non-ErrorsOk payload failure stops new payloads from being
// dequeued, but every payload already past the concurrency gate runs to
// completion: batch failures never cancel a sibling's in-flight HTTP
// request, only the caller's own ctx (SIGINT, deadline) does. The first
// such failure is returned as DownloadMany's error once every in-flight
// payload has finished; an ErrorsOk payload's failure is recorded on the
// payload itself (Payload.LastError) but never fails the batch or stops
// the queue. A payload that never starts, because the queue was stopped
// or ctx ended first, also gets a non-nil LastError.
func DownloadMany(ctx context.Context, payloads []*Payload, opts Options) error {
	if len(payloads) == 0 {
		return nil
	}

	maxConns := opts.MaxConns
	if maxConns <= 0 {
		maxConns = 1
	}

	shield := installSignalShield()
	clearInterrupt()
	defer shield.release()

	sem := make(chan struct{}, maxConns)
	stopQueue := make(chan struct{})
	var stopOnce sync.Once

	var group errgroup.Group
	for _, p := range payloads {
		p := p
		if len(p.Servers) == 0 {
			err := newKindError(KindServerNone, "payload %s has no servers", p.FilePath)
			p.LastError = err
			if !p.ErrorsOk {
				stopOnce.Do(func() { close(stopQueue) })
				group.Go(func() error { return err })
			}
			continue
		}

		group.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				p.LastError = ctx.Err()
				return ctx.Err()
			}
			defer func() { <-sem }()
			select {
			case <-stopQueue:
				p.LastError = errors.New("not started: an earlier payload in the batch failed")
				return nil
			default:
			}

			emit(opts.OnEvent, p.RemoteName, EventInit, EventData{Optional: p.ErrorsOk})

			result, err := runWithFailover(ctx, p, opts.CacheDir, opts.OnEvent)
			p.LastError = err

			completedResult := result
			if err != nil {
				completedResult = ResultFailed
			}
			emit(opts.OnEvent, p.RemoteName, EventCompleted, EventData{Total: totalOrUnknown(p), Result: completedResult})

			if err != nil && !p.ErrorsOk {
				stopOnce.Do(func() { close(stopQueue) })
				return err
			}
			return nil
		})
	}

	return group.Wait()
}

func totalOrUnknown(p *Payload) int64 {
	return p.InitialSize + p.prevProgress
}
