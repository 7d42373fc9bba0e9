package coordinator

import (
	"fmt"

	"github.com/google/uuid"

	"gitlab.com/gitlab-org/vccoord/internal/vcproto"
	"gitlab.com/gitlab-org/vccoord/internal/vcs"
)

// requestContext is built once per inbound message and read-only
// afterwards. It carries everything the handlers and the reply emitter need
// about the message's origin.
type requestContext struct {
	tenantID  vcs.TenantID
	nodeID    string
	requestID uuid.UUID

	// settings is nil for clear-repository requests, which are handled
	// without settings resolution.
	settings *vcs.RepositorySettings
}

func (ctx *requestContext) String() string {
	return fmt.Sprintf("[%s][%s][%s]", ctx.tenantID, ctx.nodeID, ctx.requestID)
}

// buildRequestContext decodes the message into a typed context. On settings
// decode failure the returned context is still valid for replying the error
// to the originating node.
func (c *Coordinator) buildRequestContext(msg *vcproto.CoordinatorMsg) (*requestContext, error) {
	ctx := &requestContext{
		tenantID:  msg.TenantID,
		nodeID:    msg.NodeID,
		requestID: msg.RequestID,
	}

	if _, ok := msg.Request.(vcproto.ClearRepositoryRequest); ok {
		return ctx, nil
	}

	settings, ok := c.codec.Decode(msg.Settings)
	if !ok {
		c.logger.WithField("ctx", ctx).Warn("failed to parse repository settings")
		return ctx, fmt.Errorf("failed to parse repository settings")
	}

	ctx.settings = &settings
	return ctx, nil
}
