// Package coordinator wires together interface resolution, ring sizing,
// socket provisioning, and the worker/stats goroutines into one capture
// run.
package coordinator

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hardaker/mercury/internal/barrier"
	"github.com/hardaker/mercury/internal/capture"
	"github.com/hardaker/mercury/internal/config"
	"github.com/hardaker/mercury/internal/fanout"
	"github.com/hardaker/mercury/internal/frame"
	"github.com/hardaker/mercury/internal/iface"
	"github.com/hardaker/mercury/internal/ringsizer"
	"github.com/hardaker/mercury/internal/stats"
)

// PrivilegeDropper drops root privileges to an unprivileged user once all
// privileged setup (socket provisioning, ring mmap) is complete. The
// Coordinator treats a refusal as fatal; the real implementation is an
// external collaborator, not part of this module.
type PrivilegeDropper interface {
	DropTo(user string) error
}

// NoopPrivilegeDropper performs no privilege drop; it is the default when
// WithPrivilegeDropper is not given. No PrivilegeDropper is called when
// Config.User is empty.
type NoopPrivilegeDropper struct{}

// DropTo implements PrivilegeDropper.
func (NoopPrivilegeDropper) DropTo(user string) error { return nil }

// SubdirectoryCreator creates the per-run output subdirectory when more
// than one worker writes files, mirroring the original's
// create_subdirectory role. The real implementation is an external
// collaborator.
type SubdirectoryCreator interface {
	CreateSubdirectory(base string) (string, error)
}

// NoopSubdirectoryCreator returns base unchanged; it is the default when
// WithSubdirectoryCreator is not given. No SubdirectoryCreator is called
// when Output.Directory is empty.
type NoopSubdirectoryCreator struct{}

// CreateSubdirectory implements SubdirectoryCreator.
func (NoopSubdirectoryCreator) CreateSubdirectory(base string) (string, error) { return base, nil }

type options struct {
	Log          *zap.SugaredLogger
	Privilege    PrivilegeDropper
	Subdirectory SubdirectoryCreator
	Handlers     frame.Factory
	RingLimits   ringsizer.Limits
}

func newOptions() *options {
	return &options{
		Log:          zap.NewNop().Sugar(),
		Privilege:    NoopPrivilegeDropper{},
		Subdirectory: NoopSubdirectoryCreator{},
		RingLimits:   ringsizer.DefaultLimits(),
	}
}

// Option configures a Coordinator.
type Option func(*options)

// WithLog sets the logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) { o.Log = log }
}

// WithPrivilegeDropper overrides the default no-op privilege dropper.
func WithPrivilegeDropper(p PrivilegeDropper) Option {
	return func(o *options) { o.Privilege = p }
}

// WithSubdirectoryCreator sets the collaborator used to create a
// per-run output subdirectory when more than one worker writes files.
func WithSubdirectoryCreator(s SubdirectoryCreator) Option {
	return func(o *options) { o.Subdirectory = s }
}

// WithFrameHandlerFactory sets the per-worker frame handler factory.
// Defaults to a Factory that returns a no-op handler if never set.
func WithFrameHandlerFactory(f frame.Factory) Option {
	return func(o *options) { o.Handlers = f }
}

// WithRingLimits overrides the default ring-sizing limits.
func WithRingLimits(limits ringsizer.Limits) Option {
	return func(o *options) { o.RingLimits = limits }
}

// Coordinator owns one capture run's full lifecycle.
type Coordinator struct {
	cfg      *config.Config
	log      *zap.SugaredLogger
	opts     *options
	counters *stats.Counters
	sockets  []*fanout.Socket
}

// New builds a Coordinator from a loaded Config.
func New(cfg *config.Config, opts ...Option) (*Coordinator, error) {
	o := newOptions()
	for _, apply := range opts {
		apply(o)
	}
	if o.Handlers == nil {
		o.Handlers = frame.FactoryFunc(func(int, string) (frame.Handler, error) {
			return frame.HandlerFunc(func(frame.Info, []byte) {}), nil
		})
	}

	return &Coordinator{
		cfg:      cfg,
		log:      o.Log,
		opts:     o,
		counters: &stats.Counters{},
	}, nil
}

// Run provisions every worker, runs the capture until ctx is canceled
// (which makes Run set CloseStats), and tears everything down in the
// ordering the freeze-avoidance invariant requires: Stats Aggregator before
// Drainers. It returns any startup error, or else the Stats Aggregator and
// Drainer errors combined with the teardown error, if any.
func (c *Coordinator) Run(ctx context.Context) (err error) {
	c.log.Infow("starting capture run", "interface", c.cfg.Capture.Interface, "workers", c.cfg.Capture.Workers)
	defer c.log.Info("capture run finished")

	targets, rerr := iface.Resolve(c.cfg.Capture.Interface)
	if rerr != nil {
		return fmt.Errorf("coordinator: resolve interface %q: %w", c.cfg.Capture.Interface, rerr)
	}

	budget := ringsizer.BudgetFromFraction(totalSystemMemory(), c.cfg.Capture.MemoryFraction)
	params, perr := ringsizer.Compute(budget, c.cfg.Capture.Workers, c.opts.RingLimits, c.log)
	if perr != nil {
		return fmt.Errorf("coordinator: compute ring params: %w", perr)
	}

	handlers := make([]frame.Handler, c.cfg.Capture.Workers)
	if err := c.provisionSockets(targets, params, handlers); err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, c.teardownSockets())
	}()

	if c.cfg.Capture.User != "" {
		if dropErr := c.opts.Privilege.DropTo(c.cfg.Capture.User); dropErr != nil {
			return fmt.Errorf("coordinator: drop privileges to %q: %w", c.cfg.Capture.User, dropErr)
		}
	}

	if c.cfg.Capture.Workers > 1 && c.cfg.Output.Directory != "" {
		runDir, direrr := c.opts.Subdirectory.CreateSubdirectory(c.cfg.Output.Directory)
		if direrr != nil {
			return fmt.Errorf("coordinator: create output subdirectory under %s: %w", c.cfg.Output.Directory, direrr)
		}
		c.cfg.Output.Directory = runDir
	}

	b := barrier.NewStart()
	sd := &barrier.Shutdown{}

	// The Stats Aggregator and the Drainers are deliberately NOT run under
	// ctx: the only normal exit signal they obey is the Shutdown flags
	// below, set by the Coordinator in strict order. If either goroutine
	// group instead derived its context from ctx, the signal that cancels
	// ctx would cancel both groups at once and the two-phase ordering
	// (§4.7 step 11-13, §5) would collapse into a race. Each group still
	// gets its own errgroup-derived context so a genuine internal error
	// fails fast within that group alone.
	statsGroup, statsCtx := errgroup.WithContext(context.Background())
	agg := stats.New(c.counters, c.socketStatters(), b, sd, c.log)
	statsGroup.Go(func() error {
		return agg.Run(statsCtx)
	})

	drainerGroup, drainerCtx := errgroup.WithContext(context.Background())
	for i, sock := range c.sockets {
		i, sock := i, sock
		drainer := capture.NewDrainer(i, sock, handlers[i], c.counters, b, sd, c.log)
		drainerGroup.Go(func() error {
			return drainer.Run(drainerCtx)
		})
	}

	b.Release()

	<-ctx.Done()
	sd.SetCloseStats()

	if statsErr := statsGroup.Wait(); statsErr != nil {
		err = multierr.Append(err, statsErr)
	}

	sd.SetCloseWorkers()

	if drainErr := drainerGroup.Wait(); drainErr != nil {
		err = multierr.Append(err, drainErr)
	}

	snap := c.counters.Snapshot()
	c.log.Infow("cumulative totals",
		"received_packets", snap.ReceivedPackets,
		"received_bytes", snap.ReceivedBytes,
		"socket_packets", snap.SocketPackets,
		"socket_drops", snap.SocketDrops,
		"socket_freezes", snap.SocketFreezes,
	)

	return err
}

func (c *Coordinator) provisionSockets(targets []iface.Target, params ringsizer.Params, handlers []frame.Handler) error {
	for i := 0; i < c.cfg.Capture.Workers; i++ {
		target := iface.Assign(targets, i)

		sock, err := fanout.Provision(target.Name, target.Index, params, fanout.FanoutID(target.Index))
		if err != nil {
			c.teardownSockets()
			return fmt.Errorf("coordinator: provision worker %d on %s: %w", i, target.Name, err)
		}
		c.sockets = append(c.sockets, sock)

		handler, herr := c.opts.Handlers.NewHandler(i, fmt.Sprintf("%04x", i))
		if herr != nil {
			c.teardownSockets()
			return fmt.Errorf("coordinator: init frame handler for worker %d: %w", i, herr)
		}
		handlers[i] = handler
	}
	return nil
}

func (c *Coordinator) teardownSockets() error {
	var err error
	for _, sock := range c.sockets {
		if cerr := sock.Close(); cerr != nil {
			err = multierr.Append(err, cerr)
		}
	}
	return err
}

func (c *Coordinator) socketStatters() []stats.SocketStatter {
	statters := make([]stats.SocketStatter, len(c.sockets))
	for i, sock := range c.sockets {
		statters[i] = sock
	}
	return statters
}
