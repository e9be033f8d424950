package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/letskickk/fact/internal/factcheck"
	"github.com/letskickk/fact/internal/metrics"
	"github.com/letskickk/fact/internal/pipeline"
	"github.com/letskickk/fact/internal/protocol"
)

// ErrClosed is returned by Start after the controller has been closed
var ErrClosed = errors.New("session closed")

// Runner executes one pipeline run for streamSource until ctx is done
type Runner interface {
	Run(ctx context.Context, sessionID, streamSource string, emit pipeline.Emitter) int
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context, sessionID, streamSource string, emit pipeline.Emitter) int

func (f RunnerFunc) Run(ctx context.Context, sessionID, streamSource string, emit pipeline.Emitter) int {
	return f(ctx, sessionID, streamSource, emit)
}

// Controller drives the session of one client connection
type Controller struct {
	id           string
	registry     *Registry
	runner       Runner
	emit         pipeline.Emitter
	pingInterval time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	startMu sync.Mutex // serializes Start and Close
	stateMu sync.Mutex // guards current
	current *run

	lastPong      atomic.Int64 // unix milliseconds
	keepaliveDone chan struct{}
	closeOnce     sync.Once
}

// NewController creates the controller for a new connection and starts its
// keepalive loop. The session id is fixed for the life of the connection.
func NewController(registry *Registry, runner Runner, emit pipeline.Emitter, pingInterval time.Duration, m *metrics.Metrics, logger *slog.Logger) *Controller {
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	id := factcheck.ShortID()
	ctx, cancel := context.WithCancel(context.Background())

	c := &Controller{
		id:            id,
		registry:      registry,
		runner:        runner,
		emit:          emit,
		pingInterval:  pingInterval,
		metrics:       m,
		logger:        logger.With(slog.String("session_id", id)),
		ctx:           ctx,
		cancel:        cancel,
		keepaliveDone: make(chan struct{}),
	}

	go c.keepalive()
	return c
}

// ID returns the session id
func (c *Controller) ID() string {
	return c.id
}

// Done is closed once the connection is torn down or its transport has failed
func (c *Controller) Done() <-chan struct{} {
	return c.ctx.Done()
}

// LastPong returns when the client last acknowledged a ping, zero if never
func (c *Controller) LastPong() time.Time {
	ms := c.lastPong.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// HandleMessage dispatches one client frame
func (c *Controller) HandleMessage(data []byte) {
	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		c.logger.Warn("Invalid client message", slog.String("error", err.Error()))
		c.send(protocol.NewError(err.Error()))
		return
	}

	switch msg.Action {
	case protocol.ActionStart:
		if msg.StreamSource == "" {
			c.send(protocol.NewError("streamSource is required"))
			return
		}
		if err := c.Start(msg.StreamSource); err != nil {
			c.logger.Warn("Start rejected", slog.String("error", err.Error()))
		}
	case protocol.ActionStop:
		c.Stop()
	case protocol.ActionPong:
		c.lastPong.Store(time.Now().UnixMilli())
	default:
		c.send(protocol.NewError(fmt.Sprintf("unknown action: %s", msg.Action)))
	}
}

// Start launches a pipeline run for streamSource. A run already in progress is
// cancelled and awaited first, so the two never deliver interleaved events.
func (c *Controller) Start(streamSource string) error {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	if c.ctx.Err() != nil {
		return ErrClosed
	}

	c.stateMu.Lock()
	prev := c.current
	c.stateMu.Unlock()

	if prev != nil {
		c.logger.Info("Superseding running session")
		prev.cancel()
		<-prev.done
	}

	if c.ctx.Err() != nil {
		return ErrClosed
	}

	runCtx, cancel := context.WithCancel(c.ctx)
	rn := &run{
		sessionID: c.id,
		source:    streamSource,
		startTime: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	c.stateMu.Lock()
	c.current = rn
	c.stateMu.Unlock()
	c.registry.put(rn)

	c.logger.Info("Session started", slog.String("source", streamSource))

	go func() {
		defer close(rn.done)
		defer cancel()
		defer c.registry.remove(rn)

		chunks := c.runner.Run(runCtx, c.id, streamSource, c.emit)
		c.logger.Info("Session finished",
			slog.Int("chunks_processed", chunks),
			slog.Duration("duration", time.Since(rn.startTime)))
	}()

	return nil
}

// Stop cancels the running pipeline without waiting for it to finish
func (c *Controller) Stop() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.current != nil {
		c.logger.Info("Session stop requested")
		c.current.cancel()
	}
}

// Close tears the session down: it cancels the pipeline and the keepalive loop
// and waits for both. Safe to call more than once.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.cancel()

		c.startMu.Lock()
		c.stateMu.Lock()
		rn := c.current
		c.stateMu.Unlock()
		c.startMu.Unlock()

		if rn != nil {
			<-rn.done
		}
		<-c.keepaliveDone

		c.logger.Info("Session closed")
	})
}

// keepalive pings the client at a fixed interval, independent of pipeline progress
func (c *Controller) keepalive() {
	defer close(c.keepaliveDone)

	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case now := <-ticker.C:
			if err := c.emit.Emit(protocol.NewPing(now)); err != nil {
				c.logger.Warn("Keepalive failed, closing session", slog.String("error", err.Error()))
				c.cancel()
				return
			}
			c.metrics.RecordKeepalive()
		}
	}
}

// send delivers a controller-originated event; failure means the transport is gone
func (c *Controller) send(event protocol.Event) {
	if err := c.emit.Emit(event); err != nil {
		c.logger.Warn("Transport failed", slog.String("error", err.Error()))
		c.cancel()
	}
}
