// Copyright (c) 2018 cloud-spin
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cloud-spin/chili/logging"
)

const (
	// DefaultGracePeriod holds how long the controller waits between the
	// termination signal and teardown, so load balancers observe the failing
	// readiness probe before connections are drained.
	DefaultGracePeriod = 5 * time.Second

	// DefaultShutdownTimeout bounds each drain hook.
	DefaultShutdownTimeout = 10 * time.Second

	// ExitCodeClean is the exit status used once the drain sequence completes,
	// even though the process is reacting to a termination signal.
	ExitCodeClean = 0
)

var (
	// ErrDisconnected is returned by CheckLive when the database cannot be reached.
	ErrDisconnected = errors.New("database has disconnected")

	// ErrDraining is returned by CheckReady once the termination signal was received.
	ErrDraining = errors.New("server is shutting down")
)

// State is a stage of the process lifecycle.
type State int32

const (
	// Starting is the initial state, before the listener is bound.
	Starting State = iota
	// Serving means the listener is bound and traffic is welcome.
	Serving
	// Draining means the termination signal was received.
	Draining
	// Stopped is terminal: resources were released.
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Serving:
		return "serving"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Pool is the database connection pool owned by the process.
type Pool interface {
	// AuthenticateAsync starts a reachability check. A returned error means
	// the pool failed synchronously; otherwise the check result arrives on the channel.
	AuthenticateAsync(ctx context.Context) (<-chan error, error)
	Close() error
}

// DrainHook runs after the grace period and before the pool is released.
type DrainHook func(ctx context.Context) error

// Option configures a Controller.
type Option func(*Controller)

// WithGracePeriod sets the delay between the signal and teardown.
func WithGracePeriod(d time.Duration) Option {
	return func(c *Controller) {
		c.gracePeriod = d
	}
}

// WithShutdownTimeout bounds each drain hook.
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.shutdownTimeout = d
	}
}

// WithAwaitPing makes CheckLive wait for the database ping instead of only
// failing on synchronous pool errors.
func WithAwaitPing(await bool) Option {
	return func(c *Controller) {
		c.awaitPing = await
	}
}

// WithExitFunc replaces os.Exit.
func WithExitFunc(exit func(code int)) Option {
	return func(c *Controller) {
		c.exit = exit
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// Controller moves the process through Starting, Serving, Draining and
// Stopped and answers the liveness and readiness probes.
type Controller struct {
	pool            Pool
	logger          *zap.Logger
	gracePeriod     time.Duration
	shutdownTimeout time.Duration
	awaitPing       bool
	exit            func(code int)

	state atomic.Int32

	mu        sync.Mutex
	hooks     []DrainHook
	observers []func(State)

	drainOnce sync.Once
	drainErr  error
	closeOnce sync.Once
	closeErr  error
}

// New creates a Controller in the Starting state that owns pool.
func New(pool Pool, opts ...Option) *Controller {
	c := &Controller{
		pool:            pool,
		gracePeriod:     DefaultGracePeriod,
		shutdownTimeout: DefaultShutdownTimeout,
		exit:            os.Exit,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrNop(c.logger)

	return c
}

// State returns the current state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// OnStateChange registers fn to be called after every transition.
func (c *Controller) OnStateChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.observers = append(c.observers, fn)
}

// OnDrain registers a hook run, in registration order, once the grace period elapsed.
func (c *Controller) OnDrain(hook DrainHook) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.hooks = append(c.hooks, hook)
}

// MarkServing moves Starting to Serving. It has no effect in any other state.
func (c *Controller) MarkServing() {
	if c.transition(Serving, Starting) {
		c.logger.Info("Server is serving")
	}
}

// OnSignal moves the controller to Draining. It reports whether this call
// performed the transition; repeated signals are ignored.
func (c *Controller) OnSignal() bool {
	if !c.transition(Draining, Starting, Serving) {
		return false
	}

	c.logger.Info("Termination signal received, failing readiness checks",
		zap.Duration("grace_period", c.gracePeriod))

	return true
}

// CheckReady reports whether the process should receive new traffic.
func (c *Controller) CheckReady() error {
	if c.State() >= Draining {
		return ErrDraining
	}
	return nil
}

// CheckLive reports whether the database is reachable.
//
// Unless the controller was built WithAwaitPing(true), only a synchronous pool
// failure fails the check: the ping runs in the background and its outcome is
// logged but does not change the result.
func (c *Controller) CheckLive(ctx context.Context) error {
	done, err := c.pool.AuthenticateAsync(context.WithoutCancel(ctx))
	if err != nil {
		c.logger.Error("Unable to connect to the database", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}

	if !c.awaitPing {
		go c.logPingResult(done)
		return nil
	}

	select {
	case err := <-done:
		if err != nil {
			c.logger.Error("Unable to connect to the database", zap.Error(err))
			return fmt.Errorf("%w: %v", ErrDisconnected, err)
		}
		c.logger.Info("DB Connected")
		return nil
	case <-ctx.Done():
		c.logger.Error("Database check abandoned", zap.Error(ctx.Err()))
		return fmt.Errorf("%w: %v", ErrDisconnected, ctx.Err())
	}
}

func (c *Controller) logPingResult(done <-chan error) {
	if err := <-done; err != nil {
		c.logger.Error("Unable to connect to the database", zap.Error(err))
		return
	}
	c.logger.Info("DB Connected")
}

// DrainAndExit runs the shutdown sequence: wait the grace period, run the
// drain hooks, release the pool, enter Stopped and exit with ExitCodeClean.
// Only the first call runs the sequence. Teardown errors are logged and
// returned but never prevent the exit. ctx cancellation cuts the grace period short.
func (c *Controller) DrainAndExit(ctx context.Context) error {
	c.drainOnce.Do(func() {
		c.OnSignal()

		c.waitGracePeriod(ctx)

		c.logger.Info("Server is starting cleanup")

		var errs []error
		for _, hook := range c.drainHooks() {
			if err := c.runHook(ctx, hook); err != nil {
				errs = append(errs, err)
			}
		}

		if err := c.releasePool(); err != nil {
			errs = append(errs, err)
		}

		c.transition(Stopped, Draining)

		c.drainErr = errors.Join(errs...)
		if c.drainErr != nil {
			c.logger.Error("Error happened during shutdown", zap.Error(c.drainErr))
		}

		c.logger.Info("Shutdown completed", zap.Int("exit_code", ExitCodeClean))
		_ = c.logger.Sync()

		c.exit(ExitCodeClean)
	})

	return c.drainErr
}

func (c *Controller) waitGracePeriod(ctx context.Context) {
	if c.gracePeriod <= 0 {
		return
	}

	timer := time.NewTimer(c.gracePeriod)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		c.logger.Warn("Grace period interrupted", zap.Error(ctx.Err()))
	}
}

func (c *Controller) runHook(ctx context.Context, hook DrainHook) error {
	hookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.shutdownTimeout)
	defer cancel()

	return hook(hookCtx)
}

// releasePool closes the pool at most once per controller.
func (c *Controller) releasePool() error {
	c.closeOnce.Do(func() {
		if err := c.pool.Close(); err != nil {
			c.closeErr = fmt.Errorf("failed to close database pool: %w", err)
			return
		}
		c.logger.Info("Database pool has disconnected")
	})
	return c.closeErr
}

func (c *Controller) drainHooks() []DrainHook {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]DrainHook(nil), c.hooks...)
}

// transition moves to next if the current state is one of from.
func (c *Controller) transition(next State, from ...State) bool {
	for _, f := range from {
		if c.state.CompareAndSwap(int32(f), int32(next)) {
			c.notify(next)
			return true
		}
	}
	return false
}

func (c *Controller) notify(s State) {
	c.mu.Lock()
	observers := append(([]func(State))(nil), c.observers...)
	c.mu.Unlock()

	for _, fn := range observers {
		fn(s)
	}
}
