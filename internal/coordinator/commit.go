package coordinator

import (
	"context"

	"github.com/google/uuid"

	"gitlab.com/gitlab-org/vccoord/internal/vcproto"
	"gitlab.com/gitlab-org/vccoord/internal/vcs"
)

// handleTestRepository, handleInitRepository and handleClearRepository are
// handled unconditionally regardless of staging state. Unless
// AbortPendingOnAdmin is set, they neither consult nor alter the pending
// commit even though init/clear can change the repository underneath a
// staged transaction.

func (c *Coordinator) handleTestRepository(opCtx context.Context, ctx *requestContext) error {
	if err := c.gateway.TestRepository(opCtx, ctx.tenantID, *ctx.settings); err != nil {
		c.logger.WithError(err).WithField("ctx", ctx).Debug("failed to connect to the repository")
		return err
	}

	c.replyGeneric(ctx)
	return nil
}

func (c *Coordinator) handleInitRepository(opCtx context.Context, ctx *requestContext) error {
	c.maybeAbortPendingOnAdmin(ctx)

	if err := c.gateway.InitRepository(opCtx, ctx.tenantID, *ctx.settings); err != nil {
		c.logger.WithError(err).WithField("ctx", ctx).Debug("failed to connect to the repository")
		return err
	}

	c.replyGeneric(ctx)
	return nil
}

func (c *Coordinator) handleClearRepository(opCtx context.Context, ctx *requestContext) error {
	c.maybeAbortPendingOnAdmin(ctx)

	if err := c.gateway.ClearRepository(opCtx, ctx.tenantID); err != nil {
		c.logger.WithError(err).WithField("ctx", ctx).Debug("failed to clear the repository")
		return err
	}

	c.replyGeneric(ctx)
	return nil
}

func (c *Coordinator) maybeAbortPendingOnAdmin(ctx *requestContext) {
	if !c.abortPendingOnAdmin {
		return
	}

	if current := c.pending.get(ctx.tenantID); current != nil {
		c.logger.WithField("ctx", ctx).WithField("tx_id", current.TxID).
			Info("aborting pending commit superseded by admin request")
		c.abortCommit(current)
	}
}

// ensureRepository lazily re-initializes the repository when the settings
// carried by a commit-family message differ from the currently active ones.
func (c *Coordinator) ensureRepository(opCtx context.Context, ctx *requestContext) error {
	current, ok := c.gateway.CurrentSettings(ctx.tenantID)
	if ok && current == *ctx.settings {
		return nil
	}

	return c.gateway.InitRepository(opCtx, ctx.tenantID, *ctx.settings)
}

// handleCommitRequest advances the tenant's staged transaction. Prepare and
// abort are fire-and-forget; add, delete and push reply only on error or,
// for push, with the commit result. Messages whose transaction token does
// not match the tracked pending commit are stale retries and are discarded
// silently.
func (c *Coordinator) handleCommitRequest(opCtx context.Context, ctx *requestContext, req vcproto.CommitRequest) error {
	switch op := req.Op.(type) {
	case vcproto.PrepareOp:
		return c.prepareCommit(opCtx, ctx, req.TxID, op)

	case vcproto.AbortOp:
		current := c.pending.get(ctx.tenantID)
		if current == nil || current.TxID != req.TxID {
			c.discardStale(ctx, req.TxID)
			return nil
		}
		c.abortCommit(current)
		return nil

	case vcproto.AddOp:
		return c.stagedOp(ctx, req.TxID, func(current *vcs.PendingCommit) error {
			if err := c.gateway.Add(opCtx, current, op.RelativePath, op.Content); err != nil {
				return err
			}
			current.Ops = append(current.Ops, vcs.StagedOp{Kind: vcs.StagedAdd, Path: op.RelativePath, Content: op.Content})
			return nil
		})

	case vcproto.DeleteOp:
		return c.stagedOp(ctx, req.TxID, func(current *vcs.PendingCommit) error {
			if err := c.gateway.DeleteFolderContent(opCtx, current, op.RelativePath); err != nil {
				return err
			}
			current.Ops = append(current.Ops, vcs.StagedOp{Kind: vcs.StagedDelete, Path: op.RelativePath})
			return nil
		})

	case vcproto.PushOp:
		return c.stagedOp(ctx, req.TxID, func(current *vcs.PendingCommit) error {
			result, err := c.gateway.Push(opCtx, current)
			if err != nil {
				return err
			}

			c.pending.remove(current.TenantID)
			c.replyCommit(ctx, result)
			return nil
		})

	default:
		c.logger.WithField("ctx", ctx).Warnf("unhandled commit op %T", op)
		return nil
	}
}

// prepareCommit starts a new transaction. A still-pending older transaction
// of the tenant is aborted first: last prepare wins.
func (c *Coordinator) prepareCommit(opCtx context.Context, ctx *requestContext, txID uuid.UUID, op vcproto.PrepareOp) error {
	if old := c.pending.get(ctx.tenantID); old != nil {
		c.abortCommit(old)
	}

	commit := vcs.NewPendingCommit(ctx.tenantID, ctx.nodeID, txID, op.BranchName, op.CommitMsg)
	c.pending.put(commit)

	return c.gateway.PrepareCommit(opCtx, commit)
}

// stagedOp runs fn against the tenant's pending commit if the transaction
// token matches, aborting the commit when fn fails so the error reply and
// the rollback stay in lockstep.
func (c *Coordinator) stagedOp(ctx *requestContext, txID uuid.UUID, fn func(*vcs.PendingCommit) error) error {
	current := c.pending.get(ctx.tenantID)
	if current == nil || current.TxID != txID {
		c.discardStale(ctx, txID)
		return nil
	}

	if err := fn(current); err != nil {
		c.abortCommit(current)
		return err
	}

	return nil
}

// abortCommit instructs the gateway to discard staged state and drops the
// pending commit. Best-effort: it never fails.
func (c *Coordinator) abortCommit(commit *vcs.PendingCommit) {
	c.gateway.Abort(commit)
	c.pending.remove(commit.TenantID)
	commitAborts.Inc()
	// TODO: notify commit.NodeID that its transaction was cancelled so the
	// caller can stop processing it.
}

func (c *Coordinator) discardStale(ctx *requestContext, txID uuid.UUID) {
	staleMessages.Inc()
	c.logger.WithField("ctx", ctx).WithField("tx_id", txID).
		Debug("ignoring request for a stale transaction")
}
