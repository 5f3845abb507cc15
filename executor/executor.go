package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/numkem/hookscript/bridge"
	"github.com/numkem/hookscript/exchange"
	"github.com/numkem/hookscript/modules"
	"github.com/numkem/hookscript/script"
)

const (
	DEFAULT_TIMEOUT          = 5 * time.Second
	DEFAULT_TEARDOWN_GRACE   = 250 * time.Millisecond
	DEFAULT_MAX_CALL_STACK   = 256
	TRACER_NAME              = "github.com/numkem/hookscript/executor"
	EXECUTOR_DEFAULT_ENGINE  = script.ENGINE_LUA
	EXECUTOR_ENGINE_LUA      = script.ENGINE_LUA
	EXECUTOR_ENGINE_JS       = script.ENGINE_JS
	EXECUTOR_ENGINE_JSONPATH = script.ENGINE_JSONPATH
)

// Env is everything a program can see during one invocation. It is built fresh
// for every run and never shared.
type Env struct {
	Bridge   bridge.Capabilities
	Headers  *exchange.HeaderView
	Exchange *exchange.Exchange
}

// Program is a compiled script. Programs are cached and shared between workers,
// so Run must not mutate the program.
type Program interface {
	Run(ctx context.Context, env *Env) error
}

// Engine compiles script source for one language
type Engine interface {
	Name() string
	Compile(name string, source []byte) (Program, error)
	// Libraries reports whether library sources may be prepended to scripts
	Libraries() bool
}

// LibraryLoader fetches library sources named by require headers
type LibraryLoader interface {
	LoadLibraries(ctx context.Context, paths []string) ([][]byte, error)
}

type Config struct {
	// Timeout is the wall-clock budget of an invocation unless the script sets its own
	Timeout time.Duration
	// TeardownGrace is how long the executor waits for an engine to stop after the
	// deadline before returning anyway
	TeardownGrace time.Duration
	// MaxCallStackSize bounds guest recursion
	MaxCallStackSize int
	// ForwardLogs sends guest print/printerr lines to the operator log
	ForwardLogs bool
}

func DefaultConfig() Config {
	return Config{
		Timeout:          DEFAULT_TIMEOUT,
		TeardownGrace:    DEFAULT_TEARDOWN_GRACE,
		MaxCallStackSize: DEFAULT_MAX_CALL_STACK,
	}
}

// DefaultEngines returns the Lua, JavaScript and JSONPath engines
func DefaultEngines(cfg Config) []Engine {
	return []Engine{
		NewLuaEngine(cfg.MaxCallStackSize, modules.Builtin()),
		NewJSEngine(cfg.MaxCallStackSize),
		NewJSONPathEngine(),
	}
}

// Executor runs one script against one exchange at a time and always produces
// exactly one InvocationResult. It is safe for concurrent use.
type Executor struct {
	cancelFunc context.CancelFunc
	ctx        context.Context
	config     Config
	engines    map[string]Engine
	libs       LibraryLoader
	cache      *programCache
	tracer     trace.Tracer

	libMu    sync.Mutex
	libCache map[string]libraryEntry
	libGen   uint64

	// engines still running after their deadline and teardown grace
	stuck      atomic.Int64
	stuckGauge metric.Int64UpDownCounter
}

// libraryEntry holds the library sources of one script, for one list of keys
type libraryEntry struct {
	keys string
	libs [][]byte
}

// New creates an Executor. When no engine is given, DefaultEngines is used.
// libs may be nil when scripts never require libraries.
func New(cfg Config, libs LibraryLoader, engines ...Engine) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DEFAULT_TIMEOUT
	}
	if cfg.TeardownGrace <= 0 {
		cfg.TeardownGrace = DEFAULT_TEARDOWN_GRACE
	}
	if len(engines) == 0 {
		engines = DefaultEngines(cfg)
	}

	ctx, cancelFunc := context.WithCancel(context.Background())
	e := &Executor{
		cancelFunc: cancelFunc,
		ctx:        ctx,
		config:     cfg,
		engines:    make(map[string]Engine),
		libs:       libs,
		cache:      newProgramCache(),
		tracer:     otel.Tracer(TRACER_NAME),
		libCache:   make(map[string]libraryEntry),
		stuckGauge: stuckEnginesGauge(),
	}
	for _, eng := range engines {
		e.engines[eng.Name()] = eng
	}

	return e
}

// EngineByName returns the engine registered under name; an empty name selects Lua
func (e *Executor) EngineByName(name string) (Engine, error) {
	if name == "" {
		name = EXECUTOR_DEFAULT_ENGINE
	}

	eng, found := e.engines[name]
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEngine, name)
	}

	return eng, nil
}

// Compile returns the program for s, compiling it on first use. Any failure is
// returned as a *CompileError.
func (e *Executor) Compile(ctx context.Context, s *script.Script) (Program, error) {
	eng, err := e.EngineByName(s.Engine)
	if err != nil {
		return nil, &CompileError{Script: s.Name, Engine: s.Engine, Err: err}
	}

	source, err := e.resolveSource(ctx, eng, s)
	if err != nil {
		return nil, &CompileError{Script: s.Name, Engine: eng.Name(), Err: err}
	}

	key := script.Fingerprint(eng.Name(), source)
	prog, err := e.cache.get(s.Name, key, func() (Program, error) {
		log.WithFields(log.Fields{"script": s.Name, "engine": eng.Name()}).Debug("compiling script")
		return eng.Compile(s.Name, source)
	})
	if err != nil {
		return nil, &CompileError{Script: s.Name, Engine: eng.Name(), Err: err}
	}

	return prog, nil
}

func (e *Executor) resolveSource(ctx context.Context, eng Engine, s *script.Script) ([]byte, error) {
	if len(s.LibKeys) == 0 {
		return s.Content, nil
	}

	if !eng.Libraries() {
		return nil, fmt.Errorf("%s scripts cannot require libraries", eng.Name())
	}
	if e.libs == nil {
		return nil, fmt.Errorf("script requires libraries %v but no library store is configured", s.LibKeys)
	}

	libs, err := e.libraries(ctx, s)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	for _, l := range libs {
		buf.Write(l)
		buf.WriteString("\n")
	}
	buf.Write(s.Content)

	return buf.Bytes(), nil
}

// libraries returns the library sources s requires. They are read from the store
// once per script and kept until Invalidate is called for it.
func (e *Executor) libraries(ctx context.Context, s *script.Script) ([][]byte, error) {
	keys := strings.Join(s.LibKeys, "\x00")

	e.libMu.Lock()
	entry, found := e.libCache[s.Name]
	gen := e.libGen
	e.libMu.Unlock()
	if found && entry.keys == keys {
		return entry.libs, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	libs, err := e.libs.LoadLibraries(ctx, s.LibKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to read libraries: %w", err)
	}

	e.libMu.Lock()
	// An invalidation while loading means these sources may already be stale
	if e.libGen == gen {
		e.libCache[s.Name] = libraryEntry{keys: keys, libs: libs}
	}
	e.libMu.Unlock()

	return libs, nil
}

// Invalidate drops the cached programs and libraries of the named script,
// typically after the store reported a change.
func (e *Executor) Invalidate(name string) {
	e.libMu.Lock()
	delete(e.libCache, name)
	e.libGen++
	e.libMu.Unlock()

	if n := e.cache.invalidate(name); n > 0 {
		log.WithField("script", name).Debugf("invalidated %d compiled programs", n)
	}
}

// Execute runs s against ex. It never returns an error: every failure, including
// compilation, is reported in the result.
func (e *Executor) Execute(ctx context.Context, s *script.Script, ex *exchange.Exchange) *InvocationResult {
	start := time.Now()
	fields := log.Fields{
		"script":   s.Name,
		"engine":   s.Engine,
		"exchange": ex.ID,
	}
	res := &InvocationResult{
		Script:     s.Name,
		ExchangeID: ex.ID,
		Outcome:    OutcomeAbsent,
	}

	ctx, span := e.tracer.Start(ctx, "hookscript.invoke", trace.WithAttributes(
		attribute.String("script.name", s.Name),
		attribute.String("script.engine", s.Engine),
		attribute.String("exchange.id", ex.ID),
	))
	defer span.End()

	defer func() {
		res.Duration = time.Since(start)
		span.SetAttributes(attribute.String("invocation.outcome", string(res.Outcome)))
		if res.Error != nil {
			span.SetAttributes(attribute.String("invocation.error_kind", string(res.Error.Kind)))
			span.SetStatus(codes.Error, res.Error.Message)
		}
	}()

	if log.IsLevelEnabled(log.DebugLevel) {
		log.WithFields(fields).Debugf("exchange headers:\n%s", ex.Headers)
	}

	prog, err := e.Compile(ctx, s)
	if err != nil {
		log.WithFields(fields).WithField("kind", KindCompile).Error(err)
		res.fail(KindCompile, err.Error())
		return res
	}

	timeout := e.config.Timeout
	if s.Timeout > 0 {
		timeout = s.Timeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(e.ctx, cancel)
	defer stop()

	rec := bridge.NewRecorder()
	env := &Env{
		Bridge:   rec,
		Headers:  exchange.NewHeaderView(ex.Headers),
		Exchange: ex,
	}

	runErr := e.run(runCtx, prog, env, fields)
	rec.Seal()
	res.Logs = rec.Logs()

	if e.config.ForwardLogs {
		bridge.EmitLogs(fields, res.Logs)
	}

	if runErr != nil {
		kind := KindRuntime
		msg := runErr.Error()
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			kind = KindTimeout
			msg = fmt.Sprintf("script exceeded its %s budget", timeout)
		case runCtx.Err() != nil:
			kind = KindCancelled
			msg = "invocation cancelled"
		}

		log.WithFields(fields).WithField("kind", kind).Warn(msg)
		span.RecordError(runErr)
		res.fail(kind, msg)
		return res
	}

	if payload, found := rec.Result(); found {
		res.Outcome = OutcomeSuccess
		res.Payload = payload
	}
	log.WithFields(fields).WithField("outcome", res.Outcome).Debug("script finished")

	return res
}

// run executes the program in its own goroutine so the deadline is honored even
// when the engine is slow to notice it.
func (e *Executor) run(ctx context.Context, prog Program, env *Env, fields log.Fields) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("engine panic: %v", r)
			}
		}()

		done <- prog.Run(ctx, env)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	// Guest calls made from here on are dropped
	if rec, ok := env.Bridge.(*bridge.Recorder); ok {
		rec.Seal()
	}

	select {
	case <-done:
	case <-time.After(e.config.TeardownGrace):
		stuck := e.stuck.Add(1)
		e.stuckGauge.Add(context.Background(), 1)
		log.WithFields(fields).WithField("stuck_engines", stuck).
			Warnf("engine did not stop within %s of the deadline", e.config.TeardownGrace)

		go func() {
			<-done
			left := e.stuck.Add(-1)
			e.stuckGauge.Add(context.Background(), -1)
			log.WithFields(fields).WithField("stuck_engines", left).Info("stuck engine stopped")
		}()
	}

	return ctx.Err()
}

// StuckEngines returns how many engines are still running after their invocation
// gave up on them. They hold a goroutine and CPU until the guest code returns.
func (e *Executor) StuckEngines() int64 {
	return e.stuck.Load()
}

func stuckEnginesGauge() metric.Int64UpDownCounter {
	gauge, err := otel.Meter(TRACER_NAME).Int64UpDownCounter("hookscript.engines.stuck",
		metric.WithDescription("Engines still running past their deadline and teardown grace"))
	if err != nil {
		log.Warnf("failed to create stuck engines metric: %v", err)
		return noop.Int64UpDownCounter{}
	}

	return gauge
}

// Stop cancels every running invocation
func (e *Executor) Stop() {
	e.cancelFunc()
	log.Debug("Executor stopped")
}
