// Package notifier consumes status-changed events and emails customers.
// It is a best-effort collaborator: nothing here can roll back or block
// the order core.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/arrow3/storefront/internal/kafka"
	"github.com/arrow3/storefront/internal/orders"
	"github.com/arrow3/storefront/internal/redisx"
)

type Service struct {
	Redis  *redis.Client
	Sender *EmailSender
	Log    *zap.Logger
}

// HandleStatusChanged is installed as the consumer handler.
func (s *Service) HandleStatusChanged(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != orders.EventStatusChanged {
		return nil
	}

	// dedup by event id; a replayed event must not mail twice
	dkey := fmt.Sprintf(redisx.KeyDedup, "notifier", env.EventID)
	if exists, _ := redisx.Exists(ctx, s.Redis, dkey); exists {
		return nil
	}
	_ = s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()

	p, err := kafkax.UnwrapPayload[orders.StatusChangedPayload](env.Payload)
	if err != nil {
		return err
	}
	if p.CustomerEmail == "" {
		return nil
	}

	if err := s.Sender.SendStatusUpdate(p); err != nil {
		// commit anyway; email is fire-and-forget
		s.Log.Error("send status email",
			zap.String("order_id", p.OrderID),
			zap.String("to", p.CustomerEmail),
			zap.Error(err))
		return nil
	}
	s.Log.Info("status email sent",
		zap.String("order_id", p.OrderID),
		zap.String("status", string(p.To)))
	return nil
}
