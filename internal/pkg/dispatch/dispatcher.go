package dispatch

import (
	"context"
	"io"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jake-scott/iotctl/internal/pkg/apperror"
	"github.com/jake-scott/iotctl/internal/pkg/config"
	"github.com/jake-scott/iotctl/internal/pkg/logging"
	"github.com/jake-scott/iotctl/internal/pkg/policy"
	"github.com/jake-scott/iotctl/internal/pkg/resilience"
)

// Workflow is one action.  Validate runs before any policy check or remote
// call; Execute composes the remote calls.
type Workflow interface {
	Validate(req Request, now time.Time) error
	Execute(ctx context.Context, rt *Runtime) (*Result, error)
}

var registry = map[Action]func() Workflow{
	ActionDiscover:      func() Workflow { return &discover{} },
	ActionResolveIntent: func() Workflow { return &resolveIntent{} },
	ActionListWritable:  func() Workflow { return &listWritable{} },
	ActionListDevices:   func() Workflow { return &listDevices{} },
	ActionDeviceStatus:  func() Workflow { return &deviceStatus{} },
	ActionQueryHistory:  func() Workflow { return &queryHistory{} },
	ActionQueryProp:     func() Workflow { return &queryProp{} },
	ActionQueryProps:    func() Workflow { return &queryProps{} },
	ActionSetProps:      func() Workflow { return &setProps{} },
	ActionCallService:   func() Workflow { return &callService{} },
	ActionQueryEvents:   func() Workflow { return &queryEvents{} },
	ActionAlarms:        func() Workflow { return &alarms{} },
	ActionListProducts:  func() Workflow { return &listProducts{} },
}

// Dispatcher runs exactly one action and renders its envelope
type Dispatcher struct {
	settings    config.Settings
	out         io.Writer
	now         func() time.Time
	sleep       resilience.SleepFunc
	newPlatform PlatformFactory
	newStore    StoreFactory
	usage       string
}

func New(s config.Settings, out io.Writer) *Dispatcher {
	return &Dispatcher{
		settings:    s,
		out:         out,
		now:         time.Now,
		newPlatform: LivePlatform,
		newStore:    OpenStore,
	}
}

func (d *Dispatcher) WithPlatform(f PlatformFactory) *Dispatcher {
	nd := *d
	nd.newPlatform = f
	return &nd
}

func (d *Dispatcher) WithStore(f StoreFactory) *Dispatcher {
	nd := *d
	nd.newStore = f
	return &nd
}

func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	nd := *d
	nd.now = now
	return &nd
}

// WithSleep replaces the retry backoff wait
func (d *Dispatcher) WithSleep(fn resilience.SleepFunc) *Dispatcher {
	nd := *d
	nd.sleep = fn
	return &nd
}

// WithUsage sets the help text attached to MISSING_ACTION
func (d *Dispatcher) WithUsage(usage string) *Dispatcher {
	nd := *d
	nd.usage = usage
	return &nd
}

// Run executes req, writes the envelope and one audit line, and returns
// the process exit code
func (d *Dispatcher) Run(ctx context.Context, req Request) int {
	requestID := uuid.New().String()
	ctx = logging.WithTxnID(ctx, requestID)
	logger := logging.Logger(ctx)

	env := NewEnvelope(requestID, d.now)
	env.SetAction(strings.ToLower(strings.TrimSpace(req.Action)))

	var exec *resilience.Executor
	func() {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorf("caught panic: %v : %s", err, debug.Stack())
				env.Fail(apperror.New(apperror.CodeUnexpected, "internal error: %v", err), nil)
			}
		}()

		exec = d.run(ctx, req, env, logger)
	}()

	code := env.Write(d.out)
	d.audit(ctx, env, req, exec)
	return code
}

func (d *Dispatcher) run(ctx context.Context, req Request, env *Envelope, logger *logrus.Entry) *resilience.Executor {
	action, err := ParseAction(req.Action)
	if err != nil {
		var extra map[string]interface{}
		if apperror.Normalize(err).Code == apperror.CodeMissingAction && d.usage != "" {
			extra = map[string]interface{}{"usage": d.usage}
		}
		env.Fail(err, extra)
		return nil
	}
	env.SetAction(action.String())

	wf := registry[action]()
	if err := wf.Validate(req, d.now()); err != nil {
		env.Fail(err, nil)
		return nil
	}

	engine := policy.NewEngine(d.settings.Policy, logger).WithClock(d.now)
	if err := engine.Enforce(action.String(), action.IsWrite(), req.Confirm); err != nil {
		env.Fail(err, nil)
		return nil
	}

	exec := resilience.NewExecutor(action.String(), d.settings.Resilience, logger)
	if d.sleep != nil {
		exec = exec.WithSleep(d.sleep)
	}

	rt := &Runtime{
		Settings:    d.settings,
		Exec:        exec,
		Guard:       policy.NewGuard(d.settings.WritableIdentifiers),
		Now:         d.now,
		Logger:      logger,
		newPlatform: d.newPlatform,
		newStore:    d.newStore,
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.WithError(err).Warn("closing thing model cache")
		}
	}()

	logger.Debugf("executing %s", action)
	res, err := wf.Execute(ctx, rt)
	if err != nil {
		env.Fail(err, nil)
		return exec
	}

	env.Succeed(res)
	return exec
}

func (d *Dispatcher) audit(ctx context.Context, env *Envelope, req Request, exec *resilience.Executor) {
	retries := []resilience.RetryRecord{}
	if exec != nil {
		retries = exec.Retries()
	}

	fields := logrus.Fields{
		"requestId":  logging.TxnID(ctx),
		"action":     env.action,
		"ok":         env.OK(),
		"elapsedMs":  env.ElapsedMs(),
		"dryRun":     req.DryRun,
		"retryCount": len(retries),
		"retries":    retries,
	}
	if !env.OK() {
		fields["errorCode"] = env.Detail().Code
		fields["errorType"] = env.Detail().Type
	}

	logging.Audit(ctx).WithFields(fields).Info("action finished")
}
