package patternstore

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// AttachBus subscribes the batcher to observation messages on the
// given subject. Malformed payloads are dropped with a warning.
func AttachBus(conn *nats.Conn, subject string, b *Batcher, logger *zap.Logger) (*nats.Subscription, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return conn.Subscribe(subject, func(msg *nats.Msg) {
		var obs Observation
		if err := json.Unmarshal(msg.Data, &obs); err != nil {
			logger.Warn("dropping malformed pattern observation",
				zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		b.Enqueue(obs)
	})
}
