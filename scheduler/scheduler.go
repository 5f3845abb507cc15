// Package scheduler runs a script over a stream of exchanges with a bounded
// number of concurrent invocations.
package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/numkem/hookscript/exchange"
	"github.com/numkem/hookscript/executor"
	"github.com/numkem/hookscript/script"
)

// Runner is what the scheduler needs from an executor
type Runner interface {
	Compile(ctx context.Context, s *script.Script) (executor.Program, error)
	Execute(ctx context.Context, s *script.Script, ex *exchange.Exchange) *executor.InvocationResult
}

type Scheduler struct {
	runner      Runner
	concurrency int64
	sem         *semaphore.Weighted
	seq         atomic.Uint64
}

// New creates a scheduler allowing up to concurrency invocations at once. A
// value below 1 uses the number of CPUs.
func New(runner Runner, concurrency int) *Scheduler {
	if concurrency < 1 {
		concurrency = runtime.NumCPU()
	}

	return &Scheduler{
		runner:      runner,
		concurrency: int64(concurrency),
		sem:         semaphore.NewWeighted(int64(concurrency)),
	}
}

func (s *Scheduler) Concurrency() int {
	return int(s.concurrency)
}

// Invoke runs one exchange, waiting for a free slot first. The result carries the
// next sequence number of the scheduler.
func (s *Scheduler) Invoke(ctx context.Context, sc *script.Script, ex *exchange.Exchange) *executor.InvocationResult {
	seq := s.seq.Add(1) - 1

	if err := s.sem.Acquire(ctx, 1); err != nil {
		res := executor.FailedResult(sc.Name, ex.ID, executor.KindCancelled, fmt.Errorf("waiting for a worker: %w", err))
		res.Seq = seq
		return res
	}
	defer s.sem.Release(1)

	res := s.runner.Execute(ctx, sc, ex)
	res.Seq = seq

	return res
}

// Run reads exchanges from in until it is closed or ctx is done and writes one
// result per exchange to out, in completion order. Each result is tagged with
// the arrival position of its exchange in the stream, starting at 0.
//
// The script is compiled before the first exchange is read: a compile error is
// returned and nothing runs. Invocation failures never stop the run. out is
// not closed.
func (s *Scheduler) Run(ctx context.Context, sc *script.Script, in <-chan *exchange.Exchange, out chan<- *executor.InvocationResult) error {
	if _, err := s.runner.Compile(ctx, sc); err != nil {
		log.WithField("script", sc.Name).Error(err)
		return err
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	var seq uint64
	for {
		var ex *exchange.Exchange
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ex, ok = <-in:
			if !ok {
				return nil
			}
		}

		if err := s.sem.Acquire(ctx, 1); err != nil {
			return err
		}

		wg.Add(1)
		go func(seq uint64, ex *exchange.Exchange) {
			defer wg.Done()
			defer s.sem.Release(1)

			res := s.runner.Execute(ctx, sc, ex)
			res.Seq = seq

			log.WithFields(log.Fields{
				"script":   sc.Name,
				"exchange": ex.ID,
				"seq":      seq,
				"outcome":  res.Outcome,
			}).Trace("invocation done")

			out <- res
		}(seq, ex)
		seq++
	}
}

// RunAll runs sc over every exchange and returns the results indexed by sequence
// number, so results[i] belongs to exchanges[i].
func (s *Scheduler) RunAll(ctx context.Context, sc *script.Script, exchanges []*exchange.Exchange) ([]*executor.InvocationResult, error) {
	in := make(chan *exchange.Exchange)
	out := make(chan *executor.InvocationResult, len(exchanges))

	// Stops the feeder when Run gives up early
	feedCtx, stopFeed := context.WithCancel(ctx)
	defer stopFeed()

	errc := make(chan error, 1)
	go func() {
		defer close(in)
		for _, ex := range exchanges {
			select {
			case in <- ex:
			case <-feedCtx.Done():
				return
			}
		}
	}()
	go func() {
		errc <- s.Run(ctx, sc, in, out)
		stopFeed()
		close(out)
	}()

	results := make([]*executor.InvocationResult, 0, len(exchanges))
	for res := range out {
		results = append(results, res)
	}
	if err := <-errc; err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Seq < results[j].Seq
	})

	return results, nil
}

// Ordered re-emits results from in by increasing sequence number starting at 0,
// holding early arrivals until the gap before them is filled. The returned
// channel is closed once in is closed; held results are then flushed in order.
func Ordered(in <-chan *executor.InvocationResult) <-chan *executor.InvocationResult {
	out := make(chan *executor.InvocationResult)

	go func() {
		defer close(out)

		pending := make(map[uint64]*executor.InvocationResult)
		var next uint64
		for res := range in {
			pending[res.Seq] = res
			for {
				r, found := pending[next]
				if !found {
					break
				}
				delete(pending, next)
				out <- r
				next++
			}
		}

		// Gaps left by a cancelled run
		seqs := make([]uint64, 0, len(pending))
		for seq := range pending {
			seqs = append(seqs, seq)
		}
		sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
		for _, seq := range seqs {
			out <- pending[seq]
		}
	}()

	return out
}
