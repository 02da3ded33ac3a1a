package axdma

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/slackhq/axdma/descpool"
)

// Control is the handle Main returns to whoever embeds the engine.
type Control struct {
	e          *Engine
	pool       *descpool.Pool
	l          *logrus.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	statsStart func()
	runDone    chan error
}

// Start runs the deferred completion workers and the stats exporter, this is a nonblocking call.
// To block use Control.ShutdownBlock()
func (c *Control) Start() {
	if c.statsStart != nil {
		go c.statsStart()
	}

	c.runDone = make(chan error, 1)
	go func() {
		c.runDone <- c.e.Run(c.ctx)
	}()
	c.l.Info("dma engine started")
}

// Engine returns the engine transfers are submitted to.
func (c *Control) Engine() *Engine {
	return c.e
}

// Stop shuts the engine down and unmaps the descriptor pool, returns after the shutdown is complete
func (c *Control) Stop() {
	c.cancel()

	if err := c.e.Close(); err != nil {
		c.l.WithError(err).Error("Close engine failed")
	}
	if c.runDone != nil {
		if err := <-c.runDone; err != nil && err != context.Canceled {
			c.l.WithError(err).Error("Deferred workers failed")
		}
	}
	if err := c.pool.Close(); err != nil {
		c.l.WithError(err).Error("Close descriptor pool failed")
	}
	c.l.Info("Goodbye")
}

// ShutdownBlock will listen for and block on term and interrupt signals, calling Control.Stop() once signalled
func (c *Control) ShutdownBlock() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM)
	signal.Notify(sigChan, syscall.SIGINT)

	rawSig := <-sigChan
	sig := rawSig.String()
	c.l.WithField("signal", sig).Info("Caught signal, shutting down")
	c.Stop()
}
