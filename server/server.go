// Package server serves script invocations over NATS and proxies HTTP requests
// onto it.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/numkem/hookscript"
	"github.com/numkem/hookscript/exchange"
	"github.com/numkem/hookscript/executor"
	"github.com/numkem/hookscript/scheduler"
	"github.com/numkem/hookscript/script"
	"github.com/numkem/hookscript/store"
)

const (
	QUEUE_GROUP   = "hookscript"
	DRAIN_TIMEOUT = 5 * time.Second
)

// Server answers requests on hookscript.<script name>. The request data is an
// exchange as JSON, the reply a Reply as JSON.
type Server struct {
	nc       *nats.Conn
	store    store.ScriptStore
	executor *executor.Executor
	sched    *scheduler.Scheduler

	sub *nats.Subscription
	wg  sync.WaitGroup

	// guards wg.Add against the final wg.Wait
	mu       sync.Mutex
	stopping bool
}

func New(nc *nats.Conn, scriptStore store.ScriptStore, exec *executor.Executor, sched *scheduler.Scheduler) *Server {
	return &Server{
		nc:       nc,
		store:    scriptStore,
		executor: exec,
		sched:    sched,
	}
}

// Start subscribes to the script subjects and follows store changes until ctx
// is done.
func (s *Server) Start(ctx context.Context) error {
	sub, err := s.nc.QueueSubscribe(hookscript.SUBJECT_PREFIX+">", QUEUE_GROUP, func(msg *nats.Msg) {
		s.mu.Lock()
		if s.stopping {
			s.mu.Unlock()
			return
		}
		s.wg.Add(1)
		s.mu.Unlock()

		go func() {
			defer s.wg.Done()
			s.handle(ctx, msg)
		}()
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to NATS subjects: %w", err)
	}
	s.sub = sub

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		err := s.store.WatchScripts(ctx, func(name string, _ *script.Script, deleted bool) {
			log.WithFields(log.Fields{"script": name, "deleted": deleted}).Debug("script changed")
			s.executor.Invalidate(name)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Errorf("stopped watching scripts: %v", err)
		}
	}()

	log.Infof("Listening on %s>", hookscript.SUBJECT_PREFIX)
	return nil
}

func (s *Server) handle(ctx context.Context, msg *nats.Msg) {
	fields := log.Fields{
		"subject": msg.Subject,
	}

	if msg.Header != nil {
		ctx = otel.GetTextMapPropagator().Extract(ctx, natsHeaderCarrier(msg.Header))
	}

	name, ok := hookscript.ScriptFromSubject(msg.Subject)
	if !ok {
		replyWithError(msg, fmt.Errorf("no script name in subject %s", msg.Subject), fields)
		return
	}
	fields["script"] = name

	sc, err := s.store.GetScript(ctx, name)
	if err != nil {
		replyWithError(msg, fmt.Errorf("failed to get script %s: %w", name, err), fields)
		return
	}

	ex, err := exchange.Parse(msg.Data)
	if err != nil {
		replyWithError(msg, fmt.Errorf("failed to decode exchange: %w", err), fields)
		return
	}
	fields["exchange"] = ex.ID

	res := s.sched.Invoke(ctx, sc, ex)
	replyMessage(msg, &Reply{Result: res, Body: res.Apply(ex.Body)}, fields)
}

// Stop drains the subscription and waits for in-flight requests. The context
// given to Start must be done first.
func (s *Server) Stop() {
	if s.sub != nil {
		if err := s.sub.Drain(); err != nil {
			log.Warnf("failed to drain subscription: %v", err)
		}
		s.waitDrained(DRAIN_TIMEOUT)
	}

	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()

	s.executor.Stop()
	s.wg.Wait()
}

// waitDrained waits for the subscription to close, which happens once every
// pending message went through the handler
func (s *Server) waitDrained(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for s.sub.IsValid() {
		if time.Now().After(deadline) {
			log.Warnf("subscription not drained after %s", timeout)
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// StartEmbeddedNats runs an in-process NATS server. A port of -1 picks a free one.
func StartEmbeddedNats(host string, port int) (*natsserver.Server, error) {
	log.Infof("Starting embedded NATS server on %s:%d", host, port)
	ns, err := natsserver.NewServer(&natsserver.Options{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start embedded NATS server: %w", err)
	}

	go ns.Start()

	for i := 0; i < 10; i++ {
		if ns.ReadyForConnections(1 * time.Second) {
			log.Info("NATS server started")
			return ns, nil
		}

		log.Info("Waiting for embedded NATS server to start...")
	}

	ns.Shutdown()
	return nil, errors.New("embedded NATS server did not become ready")
}
