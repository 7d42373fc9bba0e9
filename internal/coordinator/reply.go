package coordinator

import (
	"gitlab.com/gitlab-org/vccoord/internal/queue"
	"gitlab.com/gitlab-org/vccoord/internal/vcproto"
	"gitlab.com/gitlab-org/vccoord/internal/vcs"
)

// replyGeneric acknowledges the request with an empty success payload.
func (c *Coordinator) replyGeneric(ctx *requestContext) {
	c.reply(ctx, &vcproto.ResponseMsg{RequestID: ctx.requestID})
}

// replyError responds with the textual message of the failure. The current
// protocol carries no structured error classification.
func (c *Coordinator) replyError(ctx *requestContext, err error) {
	c.reply(ctx, &vcproto.ResponseMsg{RequestID: ctx.requestID, Error: err.Error()})
}

// replyCommit responds to a successful push with the created version and
// the change counts.
func (c *Coordinator) replyCommit(ctx *requestContext, result vcs.CommitResult) {
	c.reply(ctx, &vcproto.ResponseMsg{
		RequestID: ctx.requestID,
		Commit: &vcproto.CommitResponse{
			CommitID: result.VersionID,
			Name:     result.VersionName,
			Added:    result.Added,
			Modified: result.Modified,
			Removed:  result.Removed,
		},
	})
}

// reply routes the correlated response to the notification topic of the
// originating node. Sending is fire-and-forget: delivery failures are
// logged, not retried.
func (c *Coordinator) reply(ctx *requestContext, msg *vcproto.ResponseMsg) {
	topic := queue.NotificationsTopic(queue.ServiceCore, ctx.nodeID)

	payload, err := vcproto.MarshalResponse(msg)
	if err != nil {
		c.logger.WithError(err).WithField("ctx", ctx).Error("marshal response")
		return
	}

	c.logger.WithField("ctx", ctx).WithField("topic", topic).Trace("pushing response")

	if err := c.producer.Send(topic, []byte(ctx.tenantID), payload); err != nil {
		c.logger.WithError(err).WithField("ctx", ctx).Warn("failed to send response")
	}
}
