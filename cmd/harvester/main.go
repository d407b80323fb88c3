package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"

	"main/internal/audit"
	"main/internal/bus"
	"main/internal/errpolicy"
	"main/internal/heartbeat"
	"main/internal/lifecycle"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/reconcile"
	"main/internal/registry"
	"main/internal/schema"
	"main/internal/session"
	"main/internal/statestore"
	"main/internal/transport"
)

// Exit codes: 0 clean, 1 completed with blocking conditions (hard-fail
// errors, connectivity halt, reconciliation gate), 2 timeout or crash.
const (
	exitOK       = 0
	exitBlocking = 1
	exitCrash    = 2
)

func main() {
	modeFlag := flag.String("mode", "connect", "Run mode (connect, orders, snapshot-all, reconcile, order-lifecycle, ...)")
	configPath := flag.String("config", "", "Path to JSON config")
	host := flag.String("host", "", "Gateway host override")
	port := flag.Int("port", 0, "Gateway port override")
	clientID := flag.Int("client-id", -1, "Gateway client id override")
	account := flag.String("account", "", "Account override")
	stateDir := flag.String("state-dir", "", "Checkpoint directory override")
	auditDSN := flag.String("audit-dsn", "", "Postgres DSN for the audit artifact store (empty=log only)")
	runFor := flag.Duration("run-for", 10*time.Second, "Steady-state observation window")
	pyroscopeAddr := flag.String("pyroscope", "", "Pyroscope server address (empty=disabled)")
	flag.Parse()

	if *pyroscopeAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "harvester",
			ServerAddress:   *pyroscopeAddr,
			Tags: map[string]string{
				"mode": *modeFlag,
			},
			Logger: emptyLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			logs.Errorf("pyroscope start failed, err: %+v", err)
			os.Exit(exitCrash)
		}
		defer func() { _ = profiler.Stop() }()
	}

	mode, err := schema.ParseRunMode(*modeFlag)
	if err != nil {
		logs.Errorf("unknown mode %q, err: %+v", *modeFlag, err)
		os.Exit(exitCrash)
	}

	loaded, err := loadConfig(*configPath, mode)
	if err != nil {
		logs.Errorf("config load failed, err: %+v", err)
		os.Exit(exitCrash)
	}
	applyOverrides(&loaded, *host, *port, *clientID, *account, *stateDir, *auditDSN)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, loaded, *runFor))
}

func loadConfig(path string, mode schema.RunMode) (ops.Loaded, error) {
	if path == "" {
		return ops.Resolve(ops.FileConfig{
			Connection: ops.ConnectionConfig{
				Host:     "127.0.0.1",
				Port:     4002,
				ClientID: 1,
			},
		}, mode)
	}
	return ops.Load(path, mode)
}

func applyOverrides(loaded *ops.Loaded, host string, port, clientID int, account, stateDir, auditDSN string) {
	if host != "" {
		loaded.Options.Host = host
	}
	if port > 0 {
		loaded.Options.Port = port
	}
	if clientID >= 0 {
		loaded.Options.ClientID = clientID
	}
	if account != "" {
		loaded.Options.Account = account
	}
	if stateDir != "" {
		loaded.StateDir = stateDir
	}
	if auditDSN != "" {
		loaded.AuditDSN = auditDSN
	}
}

// runArtifacts collects everything a run persists at shutdown.
type runArtifacts struct {
	transitions []lifecycle.TransitionRow
	reconciled  *reconcile.Result
	gateFailed  bool
}

func run(ctx context.Context, loaded ops.Loaded, runFor time.Duration) (code int) {
	opts := loaded.Options
	runID := uuid.NewString()
	logs.Infof("run %s starting: mode=%s gateway=%s:%d clientId=%d", runID, opts.Mode, opts.Host, opts.Port, opts.ClientID)

	store := statestore.NewStore(loaded.StateDir)
	if prior, warning := store.TryLoadLatest(); warning != "" {
		logs.Warnf("checkpoint load: %s", warning)
	} else if prior != nil {
		logs.Infof("prior checkpoint: mode=%s state=%s stage=%s checkpointed=%s",
			prior.Mode, prior.LastConnState, prior.Stage, prior.CheckpointUTC.Format(time.RFC3339))
	}

	reg := registry.New()
	recorder := audit.NewRecorder()
	metrics := obs.NewMetrics()
	errQueue := bus.NewQueue[schema.APIError](1024)
	eventQueue := bus.NewQueue[schema.CanonicalOrderEvent](4096)
	openCh := make(chan []schema.OpenOrderRow, 1)
	completedCh := make(chan []schema.CompletedOrderRow, 1)
	execCh := make(chan []schema.ExecutionRow, 1)

	stages := newStageLog()

	runCtx, halt := context.WithCancelCause(ctx)
	defer halt(nil)

	var sess *session.Session
	bridge := transport.NewBridge(runCtx, transport.Handlers{
		OnCurrentTime: func(serverTimeUTC time.Time) {
			metrics.IncFrame()
			sess.HandleCurrentTime(serverTimeUTC)
		},
		OnNextValidID: func(orderID int) {
			metrics.IncFrame()
			sess.HandleNextValidID(orderID)
		},
		OnManagedAccounts: func(accounts []string) {
			metrics.IncFrame()
			sess.HandleManagedAccounts(accounts)
		},
		OnError: func(apiErr schema.APIError) {
			metrics.IncFrame()
			classification := errpolicy.ClassifyAPIError(apiErr, opts)
			recorder.Record(errpolicy.Normalize(apiErr, classification))
			metrics.IncError(classification.PolicyAction)
			if err := errQueue.TryPublish(apiErr); err != nil {
				notePublishFailure(metrics, "error", err)
			}
		},
		OnOrderEvent: func(event schema.CanonicalOrderEvent) {
			metrics.IncFrame()
			if err := eventQueue.TryPublish(event); err != nil {
				notePublishFailure(metrics, "order event", err)
			}
		},
		OnOpenOrders:      func(rows []schema.OpenOrderRow) { trySend(openCh, rows) },
		OnCompletedOrders: func(rows []schema.CompletedOrderRow) { trySend(completedCh, rows) },
		OnExecutions:      func(rows []schema.ExecutionRow) { trySend(execCh, rows) },
		OnDisconnect: func(err error) {
			logs.Warnf("gateway stream dropped, err: %+v", err)
		},
	})
	sess = session.New(bridge)

	timeout := loaded.Timeout()
	retry := session.FixedDelay{Interval: time.Duration(opts.ReconnectBackoffSecs) * time.Second}
	monitor := heartbeat.New(heartbeat.Config{
		Interval:     time.Duration(opts.HeartbeatIntervalSecs) * time.Second,
		ProbeTimeout: time.Duration(opts.HeartbeatProbeTimeoutSecs) * time.Second,
		Mode:         opts.Mode,
		Options:      opts,
		Conn:         connAdapter{Session: sess, metrics: metrics},
		DrainErrors:  errQueue.Drain,
		Probe: func(probeCtx context.Context) error {
			started := time.Now()
			err := bridge.RequestCurrentTime(probeCtx)
			metrics.ObserveProbe(time.Since(started))
			return err
		},
		Reconnect: func(reconnectCtx context.Context) bool {
			metrics.IncReconnect()
			return sess.TryReconnect(reconnectCtx, opts.Host, opts.Port, opts.ClientID, timeout, opts.ReconnectMaxAttempts, retry)
		},
		Halt: func() {
			halt(session.ErrConnectivityHalt)
		},
	})

	defer func() {
		if r := recover(); r != nil {
			logs.Errorf("run crashed: %v", r)
			code = exitCrash
		}
	}()

	artifacts := runArtifacts{}
	runErr := func() error {
		if err := sess.Connect(runCtx, opts.Host, opts.Port, opts.ClientID, timeout); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		stages.advance(statestore.StageSteadyState, "handshake complete")

		go monitor.Run(runCtx)

		return executeMode(runCtx, executeDeps{
			opts:        opts,
			timeout:     timeout,
			runFor:      runFor,
			bridge:      bridge,
			registry:    reg,
			metrics:     metrics,
			eventQueue:  eventQueue,
			openCh:      openCh,
			completedCh: completedCh,
			execCh:      execCh,
		}, &artifacts)
	}()

	if monitor.HaltTriggered() {
		stages.advance(statestore.StageHalted, "connectivity halt")
	} else {
		stages.advance(statestore.StageShutdown, "run complete")
	}

	halt(nil)
	sess.Disconnect()
	errQueue.Close()
	eventQueue.Close()
	recorder.Flush()

	for _, line := range reg.Describe() {
		logs.Infof("request %s", line)
	}
	snap := metrics.Snapshot()
	logs.Infof("metrics: frames=%d errors=%d reconnects=%d degrades=%d drops=%d probeAvg=%s",
		snap.FramesReceived, snap.ErrorsObserved, snap.Reconnects, snap.Degrades, snap.QueueDrops, snap.ProbeLatency.Avg)

	code = exitCodeFor(runErr, monitor.HaltTriggered(), recorder.BlockingObserved(), artifacts.gateFailed)

	persistArtifacts(runID, loaded.AuditDSN, recorder, artifacts)
	saveCheckpoint(store, opts, sess, stages, reg, recorder, monitor.HaltTriggered(), artifacts.gateFailed, code)

	if runErr != nil {
		logs.Errorf("run %s finished with error (exit=%d), err: %+v", runID, code, runErr)
	} else {
		logs.Infof("run %s finished (exit=%d)", runID, code)
	}
	return code
}

type executeDeps struct {
	opts        schema.RuntimeOptions
	timeout     time.Duration
	runFor      time.Duration
	bridge      *transport.Bridge
	registry    *registry.Registry
	metrics     *obs.Metrics
	eventQueue  *bus.Queue[schema.CanonicalOrderEvent]
	openCh      chan []schema.OpenOrderRow
	completedCh chan []schema.CompletedOrderRow
	execCh      chan []schema.ExecutionRow
}

// executeMode runs the workflow body for the selected mode. Most workflows
// only need the connection held open while their classifier overrides are
// exercised; the snapshot and lifecycle workflows pull data through the
// transport.
func executeMode(ctx context.Context, deps executeDeps, artifacts *runArtifacts) error {
	switch deps.opts.Mode {
	case schema.RunModeOrders, schema.RunModeSnapshotAll, schema.RunModeReconcile:
		return executeReconcile(ctx, deps, artifacts)
	case schema.RunModeOrderLifecycle:
		return executeOrderLifecycle(ctx, deps, artifacts)
	case schema.RunModeOrdersCancelSim:
		return executeCancelSim(ctx, deps)
	default:
		observe(ctx, deps.runFor)
		return nil
	}
}

func executeReconcile(ctx context.Context, deps executeDeps, artifacts *runArtifacts) error {
	open, err := requestRows(ctx, deps, "reqOpenOrders", deps.bridge.RequestOpenOrders, deps.openCh)
	if err != nil {
		return err
	}
	completed, err := requestRows(ctx, deps, "reqCompletedOrders", deps.bridge.RequestCompletedOrders, deps.completedCh)
	if err != nil {
		return err
	}
	execs, err := requestRows(ctx, deps, "reqExecutions", deps.bridge.RequestExecutions, deps.execCh)
	if err != nil {
		return err
	}

	result := reconcile.Reconcile(open, completed, execs)
	logs.Infof("reconciled ledger rows=%d diagnostics=%d", len(result.Ledger), len(result.Diagnostics))
	for _, diag := range result.Diagnostics {
		logs.Warnf("reconcile %s key=%s: %s", diag.Kind, diag.CanonicalKey, diag.Message)
		if diag.Kind == reconcile.DiagExecutionWithoutOrder || diag.Kind == reconcile.DiagCompletedWithoutOpen {
			artifacts.gateFailed = true
		}
	}
	artifacts.reconciled = &result
	return nil
}

func executeOrderLifecycle(ctx context.Context, deps executeDeps, artifacts *runArtifacts) error {
	observe(ctx, deps.runFor)

	events := deps.eventQueue.Drain()
	transitions := lifecycle.BuildTransitions(events)
	summary := lifecycle.BuildSummary(deps.opts.Mode.String(), transitions)
	logs.Infof("order lifecycle: orders=%d transitions=%d invalid=%d active=%d",
		summary.OrdersObserved, summary.TransitionCount, summary.InvalidTransitionCount, summary.ActiveOrderCount)

	artifacts.transitions = transitions
	return nil
}

func executeCancelSim(ctx context.Context, deps executeDeps) error {
	orderID := deps.opts.CancelOrderID
	corrID := deps.registry.Register(&orderID, "cancelOrder", "cancel-sim", time.Now().UTC().Add(deps.timeout))

	cancelCtx, cancel := context.WithTimeout(ctx, deps.timeout)
	defer cancel()
	if err := deps.bridge.CancelOrder(cancelCtx, orderID); err != nil {
		deps.registry.Fail(corrID, err.Error())
		return fmt.Errorf("cancel order %d: %w", orderID, err)
	}
	deps.registry.Complete(corrID, "cancel submitted")

	// The cancel outcome arrives as error-channel confirmations (202 or the
	// idempotent not-found) which the classifier reinterprets.
	observe(ctx, deps.runFor)
	return nil
}

// requestRows issues one snapshot request and waits for its rows, tracked in
// the registry end to end.
func requestRows[T any](ctx context.Context, deps executeDeps, reqType string, send func(context.Context) error, ch chan T) (T, error) {
	var zero T
	corrID := deps.registry.Register(nil, reqType, "snapshot", time.Now().UTC().Add(deps.timeout))
	started := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, deps.timeout)
	defer cancel()
	if err := send(reqCtx); err != nil {
		deps.registry.Fail(corrID, err.Error())
		return zero, fmt.Errorf("%s: %w", reqType, err)
	}

	select {
	case rows := <-ch:
		deps.registry.Complete(corrID, "snapshot received")
		deps.metrics.ObserveRequest(time.Since(started))
		return rows, nil
	case <-reqCtx.Done():
		cause := context.Cause(reqCtx)
		if errors.Is(cause, session.ErrConnectivityHalt) {
			deps.registry.Cancel(corrID, "run halted")
		} else {
			deps.registry.Timeout(corrID, "no snapshot before deadline")
		}
		return zero, fmt.Errorf("%s: %w", reqType, cause)
	}
}

func observe(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// connAdapter counts degradations on their way to the session.
type connAdapter struct {
	*session.Session
	metrics *obs.Metrics
}

func (c connAdapter) MarkDegraded(reason string) {
	c.metrics.IncDegrade()
	c.Session.MarkDegraded(reason)
}

func notePublishFailure(metrics *obs.Metrics, queueName string, err error) {
	if errors.Is(err, bus.ErrQueueClosed) {
		metrics.IncQueueClosed()
		return
	}
	metrics.IncQueueDrop()
	logs.Warnf("%s queue publish failed, err: %+v", queueName, err)
}

func trySend[T any](ch chan T, rows T) {
	select {
	case ch <- rows:
	default:
	}
}

func exitCodeFor(runErr error, haltTriggered, blockingObserved, gateFailed bool) int {
	if runErr != nil {
		if errors.Is(runErr, session.ErrConnectivityHalt) {
			return exitBlocking
		}
		if errors.Is(runErr, context.DeadlineExceeded) {
			return exitCrash
		}
		return exitBlocking
	}
	if haltTriggered || blockingObserved || gateFailed {
		return exitBlocking
	}
	return exitOK
}

func persistArtifacts(runID, dsn string, recorder *audit.Recorder, artifacts runArtifacts) {
	if dsn == "" {
		return
	}
	pg, err := audit.NewPGStore(dsn)
	if err != nil {
		logs.Errorf("audit store unavailable, err: %+v", err)
		return
	}
	defer func() { _ = pg.Close() }()

	if err := pg.SaveErrorRows(runID, recorder.Rows()); err != nil {
		logs.Errorf("persist error rows, err: %+v", err)
	}
	if err := pg.SaveTransitions(runID, artifacts.transitions); err != nil {
		logs.Errorf("persist transitions, err: %+v", err)
	}
	if artifacts.reconciled != nil {
		if err := pg.SaveReconciliation(runID, *artifacts.reconciled); err != nil {
			logs.Errorf("persist reconciliation, err: %+v", err)
		}
	}
}

func saveCheckpoint(store *statestore.Store, opts schema.RuntimeOptions, sess *session.Session, stages *stageLog, reg *registry.Registry, recorder *audit.Recorder, haltTriggered, gateFailed bool, code int) {
	blocking := 0
	for _, row := range recorder.Rows() {
		if row.Blocking {
			blocking++
		}
	}
	snap := statestore.RuntimeSnapshot{
		Mode:             opts.Mode,
		Host:             opts.Host,
		Port:             opts.Port,
		ClientID:         opts.ClientID,
		Account:          opts.Account,
		LastConnState:    sess.State(),
		ConnTransitions:  sess.Transitions(),
		Stage:            stages.current(),
		StageTransitions: stages.rows(),
		Requests: statestore.RequestCounters{
			Started:   reg.Started(),
			Completed: reg.CountByStatus(registry.StatusCompleted),
			TimedOut:  reg.CountByStatus(registry.StatusTimedOut),
			Failed:    reg.CountByStatus(registry.StatusFailed),
			Cancelled: reg.CountByStatus(registry.StatusCancelled),
		},
		Errors: statestore.ErrorCounters{
			Observed: len(recorder.Rows()),
			Blocking: blocking,
		},
		ConnectivityHaltTriggered: haltTriggered,
		ReconciliationGateFailed:  gateFailed,
		ExitCode:                  code,
	}
	if err := store.Save(snap); err != nil {
		logs.Errorf("checkpoint save failed, err: %+v", err)
	}
}

// stageLog tracks the coarse run stage with its transition history.
type stageLog struct {
	stage       statestore.LifecycleStage
	transitions []statestore.StageTransition
}

func newStageLog() *stageLog {
	return &stageLog{stage: statestore.StageStartup}
}

func (s *stageLog) advance(to statestore.LifecycleStage, reason string) {
	if s.stage == to {
		return
	}
	s.transitions = append(s.transitions, statestore.StageTransition{
		TimestampUTC: time.Now().UTC(),
		From:         s.stage,
		To:           to,
		Reason:       reason,
	})
	s.stage = to
}

func (s *stageLog) current() statestore.LifecycleStage {
	return s.stage
}

func (s *stageLog) rows() []statestore.StageTransition {
	return s.transitions
}

type emptyLogger struct{}

func (emptyLogger) Infof(_ string, _ ...interface{})  {}
func (emptyLogger) Debugf(_ string, _ ...interface{}) {}
func (emptyLogger) Errorf(_ string, _ ...interface{}) {}
