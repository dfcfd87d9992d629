package user

import (
	"context"
	"encoding/json"
	"time"

	"github.com/TreeSnap/Export-Service/internal/services/command"
	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const purgeTimeout = 30 * time.Second

type UserDeletedPayload struct {
	UserID int64 `json:"user_id"`
}

// DeletedHandler removes the export artifacts of deleted accounts.
type DeletedHandler struct {
	Records command.ArtifactRecords
	Objects command.ObjectRemover
}

// Handle consumes users.deleted. Failures are nak'ed so JetStream redelivers.
func (h *DeletedHandler) Handle(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
	defer cancel()

	if err := h.process(ctx, msg.Data); err != nil {
		zap.L().Error("[NATS] users.deleted failed", zap.Error(err))
		nak(msg)
		return
	}
	ack(msg)
}

func (h *DeletedHandler) process(ctx context.Context, data []byte) error {
	var payload UserDeletedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return eris.Wrap(err, "users.deleted: invalid JSON")
	}
	if payload.UserID <= 0 {
		return eris.New("users.deleted: missing user_id")
	}

	zap.L().Info("[NATS] processing users.deleted", zap.Int64("user_id", payload.UserID))
	n, err := command.PurgeUserArtifacts(ctx, h.Records, h.Objects, payload.UserID)
	if err != nil {
		return err
	}
	zap.L().Info("[NATS] cleaned up user", zap.Int64("user_id", payload.UserID), zap.Int64("files", n))
	return nil
}

func ack(msg *nats.Msg) {
	if err := msg.Ack(); err != nil {
		zap.L().Warn("[NATS] failed to ack message", zap.Error(err))
	}
}

// nak asks for redelivery.
func nak(msg *nats.Msg) {
	if err := msg.Nak(); err != nil {
		zap.L().Warn("[NATS] failed to nak message", zap.Error(err))
	}
}
