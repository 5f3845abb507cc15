package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numkem/hookscript/exchange"
	"github.com/numkem/hookscript/executor"
	"github.com/numkem/hookscript/script"
)

func numberedExchanges(n int) []*exchange.Exchange {
	exchanges := make([]*exchange.Exchange, n)
	for i := range exchanges {
		var hs exchange.HeaderSet
		hs.Add("X-Seq", fmt.Sprint(i))
		exchanges[i] = exchange.New(200, hs, fmt.Sprintf(`{"n": %d}`, i))
	}

	return exchanges
}

// trackingRunner records the highest number of overlapping invocations
type trackingRunner struct {
	running atomic.Int32
	peak    atomic.Int32
}

func (*trackingRunner) Compile(context.Context, *script.Script) (executor.Program, error) {
	return nil, nil
}

func (tr *trackingRunner) Execute(_ context.Context, s *script.Script, ex *exchange.Exchange) *executor.InvocationResult {
	n := tr.running.Add(1)
	defer tr.running.Add(-1)
	for {
		peak := tr.peak.Load()
		if n <= peak || tr.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	time.Sleep(time.Duration(1+rand.Intn(4)) * time.Millisecond)

	return &executor.InvocationResult{
		Script:     s.Name,
		ExchangeID: ex.ID,
		Outcome:    executor.OutcomeSuccess,
		Payload:    ex.Body,
	}
}

func TestRunAllBoundsConcurrency(t *testing.T) {
	tr := &trackingRunner{}
	sched := New(tr, 10)

	exchanges := numberedExchanges(100)
	results, err := sched.RunAll(context.Background(), &script.Script{Name: "t"}, exchanges)
	require.NoError(t, err)
	require.Len(t, results, 100)

	for i, res := range results {
		assert.EqualValues(t, i, res.Seq)
		assert.Equal(t, exchanges[i].ID, res.ExchangeID)
	}
	assert.LessOrEqual(t, tr.peak.Load(), int32(10))
	assert.Greater(t, tr.peak.Load(), int32(1))
}

func TestRunAllWithExecutor(t *testing.T) {
	e := executor.New(executor.DefaultConfig(), nil)
	defer e.Stop()

	s := &script.Script{
		Name:   "seq.lua",
		Engine: script.ENGINE_LUA,
		Content: []byte(`
			local json = require("json")
			local n = json.decode(body).n
			if n % 7 == 0 then error("multiple of seven") end
			setResult(header("x-seq") .. "=" .. n)
		`),
	}

	results, err := New(e, 10).RunAll(context.Background(), s, numberedExchanges(100))
	require.NoError(t, err)
	require.Len(t, results, 100)

	for i, res := range results {
		if i%7 == 0 {
			assert.Equal(t, executor.KindRuntime, res.Kind(), i)
			continue
		}
		require.Nil(t, res.Error, i)
		assert.Equal(t, fmt.Sprintf("%d=%d", i, i), res.Payload)
	}
}

func TestRunStopsOnCompileError(t *testing.T) {
	e := executor.New(executor.DefaultConfig(), nil)
	defer e.Stop()

	s := &script.Script{Name: "broken.js", Engine: script.ENGINE_JS, Content: []byte(`setResult(`)}
	results, err := New(e, 2).RunAll(context.Background(), s, numberedExchanges(5))
	require.Error(t, err)
	assert.True(t, executor.IsCompileError(err))
	assert.Nil(t, results)
}

func TestRunCancelled(t *testing.T) {
	tr := &trackingRunner{}
	sched := New(tr, 2)

	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan *exchange.Exchange)
	out := make(chan *executor.InvocationResult, 10)

	errc := make(chan error, 1)
	go func() {
		errc <- sched.Run(ctx, &script.Script{Name: "t"}, in, out)
	}()

	in <- exchange.New(200, nil, "first")
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestInvoke(t *testing.T) {
	e := executor.New(executor.DefaultConfig(), nil)
	defer e.Stop()

	sched := New(e, 1)
	s := &script.Script{Name: "t.js", Engine: script.ENGINE_JS, Content: []byte(`setResult(status)`)}

	first := sched.Invoke(context.Background(), s, exchange.New(201, nil, ""))
	second := sched.Invoke(context.Background(), s, exchange.New(202, nil, ""))
	assert.Equal(t, "201", first.Payload)
	assert.Equal(t, "202", second.Payload)
	assert.EqualValues(t, 0, first.Seq)
	assert.EqualValues(t, 1, second.Seq)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := sched.Invoke(ctx, s, exchange.New(200, nil, ""))
	assert.Equal(t, executor.KindCancelled, res.Kind())
}

func TestOrdered(t *testing.T) {
	in := make(chan *executor.InvocationResult)
	go func() {
		defer close(in)
		for _, seq := range []uint64{2, 0, 3, 1, 5} {
			in <- &executor.InvocationResult{Seq: seq}
		}
	}()

	var seqs []uint64
	for res := range Ordered(in) {
		seqs = append(seqs, res.Seq)
	}

	assert.Equal(t, []uint64{0, 1, 2, 3, 5}, seqs)
}

func TestConcurrencyDefault(t *testing.T) {
	assert.Greater(t, New(&trackingRunner{}, 0).Concurrency(), 0)
	assert.Equal(t, 4, New(&trackingRunner{}, 4).Concurrency())
}
