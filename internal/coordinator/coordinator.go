// Package coordinator turns the unordered, at-least-once stream of
// version-control requests of a node's partitions into a serialized
// sequence of repository operations per tenant. It tracks at most one
// staged transaction per tenant and aborts it on supersede or failure.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"gitlab.com/gitlab-org/vccoord/internal/dontpanic"
	"gitlab.com/gitlab-org/vccoord/internal/queue"
	"gitlab.com/gitlab-org/vccoord/internal/vcproto"
	"gitlab.com/gitlab-org/vccoord/internal/vcs"
)

const (
	defaultPollInterval          = 25 * time.Millisecond
	defaultPackProcessingTimeout = time.Minute
)

// Config tunes the coordinator's consumer loop and protocol behavior.
type Config struct {
	// PollInterval bounds a single queue poll and paces retries after
	// transport errors.
	PollInterval time.Duration

	// PackProcessingTimeout is the deadline for the repository gateway
	// calls of one message.
	PackProcessingTimeout time.Duration

	// AbortPendingOnAdmin makes init and clear requests abort an in-flight
	// staged transaction of the tenant instead of changing the repository
	// underneath it.
	AbortPendingOnAdmin bool
}

// Coordinator consumes the version-control request partitions assigned to
// this node and drives the per-tenant commit protocol.
type Coordinator struct {
	gateway  vcs.Gateway
	codec    vcs.SettingsCodec
	consumer queue.Consumer
	producer queue.Producer
	logger   *logrus.Entry

	pollInterval        time.Duration
	packTimeout         time.Duration
	abortPendingOnAdmin bool

	locks   *lockTable
	pending *pendingCommits

	loop     *dontpanic.Forever
	stopOnce sync.Once
	stopped  chan struct{}
}

// New wires a coordinator from its collaborators. Zero config values fall
// back to the defaults.
func New(cfg Config, gateway vcs.Gateway, codec vcs.SettingsCodec, consumer queue.Consumer, producer queue.Producer, logger *logrus.Entry) *Coordinator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.PackProcessingTimeout <= 0 {
		cfg.PackProcessingTimeout = defaultPackProcessingTimeout
	}

	return &Coordinator{
		gateway:             gateway,
		codec:               codec,
		consumer:            consumer,
		producer:            producer,
		logger:              logger,
		pollInterval:        cfg.PollInterval,
		packTimeout:         cfg.PackProcessingTimeout,
		abortPendingOnAdmin: cfg.AbortPendingOnAdmin,
		locks:               newLockTable(),
		pending:             newPendingCommits(),
		stopped:             make(chan struct{}),
	}
}

// RegisterPartitionListener subscribes the coordinator to cluster partition
// reassignments for its service role. Each event replaces the consumer's
// partition set.
func (c *Coordinator) RegisterPartitionListener(notifier *queue.PartitionNotifier) {
	notifier.Listen(func(event queue.PartitionChangeEvent) {
		if event.Service != queue.ServiceVersionControl {
			return
		}

		// TODO: drop the locks and pending commits of tenants whose
		// partitions were revoked from this node.
		if err := c.consumer.Subscribe(event.Partitions); err != nil {
			c.logger.WithError(err).Warn("failed to re-subscribe after partition change")
			return
		}

		c.logger.WithField("partitions", event.Partitions).Info("subscribed to partitions")
	})
}

// Start runs the consumer loop on a dedicated supervised worker.
func (c *Coordinator) Start() {
	c.loop = dontpanic.NewForever(c.pollInterval)
	c.loop.Go(c.consumerLoop)
}

// Stop terminates the consumer loop and unsubscribes the consumer. It
// blocks until the in-flight batch, if any, is drained.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopped)
		c.consumer.Unsubscribe()
		if c.loop != nil {
			c.loop.Cancel()
		}
	})
}

func (c *Coordinator) isStopped() bool {
	select {
	case <-c.stopped:
		return true
	default:
		return false
	}
}

// consumerLoop is the single worker draining inbound batches. Offsets are
// committed only after the whole batch was handled, so redelivery after a
// crash is expected and absorbed by the stale-transaction checks.
func (c *Coordinator) consumerLoop() {
	for !c.isStopped() && !c.consumer.IsStopped() {
		batch, err := c.consumer.Poll(c.pollInterval)
		if err != nil {
			if c.isStopped() {
				break
			}

			c.logger.WithError(err).Warn("failed to obtain version control requests from queue")

			select {
			case <-c.stopped:
			case <-time.After(c.pollInterval):
			}
			continue
		}

		if len(batch) == 0 {
			continue
		}

		batchSizes.Observe(float64(len(batch)))

		for _, msg := range batch {
			c.handleMessage(msg)
		}

		if err := c.consumer.Commit(); err != nil {
			c.logger.WithError(err).Warn("failed to commit queue offsets")
		}
	}

	c.logger.Info("version control request consumer stopped")
}

// handleMessage processes one queue entry under the tenant's lock. Any
// error is routed back to the originating node; it never stops the worker.
func (c *Coordinator) handleMessage(raw *queue.Message) {
	msg, err := vcproto.UnmarshalRequest(raw.Value)
	if err != nil {
		c.logger.WithError(err).
			WithField("partition", raw.Partition).
			WithField("offset", raw.Offset).
			Warn("discarding undecodable message")
		return
	}

	kind := requestKind(msg.Request)
	messagesProcessed.WithLabelValues(kind).Inc()

	ctx, err := c.buildRequestContext(msg)
	if err != nil {
		messageErrors.WithLabelValues(kind).Inc()
		c.replyError(ctx, err)
		return
	}

	lock := c.locks.get(ctx.tenantID)
	lock.Lock()
	defer lock.Unlock()

	if err := c.dispatch(ctx, msg.Request); err != nil {
		messageErrors.WithLabelValues(kind).Inc()
		c.replyError(ctx, err)
	}
}

// dispatch matches the request sum type exhaustively and applies the
// per-message gateway deadline.
func (c *Coordinator) dispatch(ctx *requestContext, request vcproto.Request) error {
	opCtx, cancel := context.WithTimeout(context.Background(), c.packTimeout)
	defer cancel()

	switch req := request.(type) {
	case vcproto.ClearRepositoryRequest:
		return c.handleClearRepository(opCtx, ctx)
	case vcproto.TestRepositoryRequest:
		return c.handleTestRepository(opCtx, ctx)
	case vcproto.InitRepositoryRequest:
		return c.handleInitRepository(opCtx, ctx)
	case vcproto.CommitRequest:
		if err := c.ensureRepository(opCtx, ctx); err != nil {
			return err
		}
		return c.handleCommitRequest(opCtx, ctx, req)
	default:
		c.logger.WithField("ctx", ctx).Warnf("unhandled request %T", req)
		return nil
	}
}

func requestKind(request vcproto.Request) string {
	switch req := request.(type) {
	case vcproto.ClearRepositoryRequest:
		return "clear"
	case vcproto.TestRepositoryRequest:
		return "test"
	case vcproto.InitRepositoryRequest:
		return "init"
	case vcproto.CommitRequest:
		switch req.Op.(type) {
		case vcproto.PrepareOp:
			return "prepare"
		case vcproto.AddOp:
			return "add"
		case vcproto.DeleteOp:
			return "delete"
		case vcproto.PushOp:
			return "push"
		case vcproto.AbortOp:
			return "abort"
		}
	}
	return "unknown"
}
