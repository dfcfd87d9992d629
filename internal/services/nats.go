package services

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const eventStream = "export-events"

// EventBus publishes and consumes durable JetStream events.
type EventBus struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

// ConnectNATS connects to NATS and initializes JetStream and streams.
func ConnectNATS(url string) (*EventBus, error) {
	opts := []nats.Option{
		nats.Name("export-service"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			zap.L().Warn("[NATS] disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			zap.L().Info("[NATS] reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			zap.L().Info("[NATS] connection closed")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "nats: connect")
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, eris.Wrap(err, "nats: jetstream context")
	}

	bus := &EventBus{nc: nc, js: js}
	if err := bus.ensureStreams(); err != nil {
		// publishing still works against an existing stream configured elsewhere
		zap.L().Warn("[NATS] failed to ensure streams", zap.Error(err))
	}

	zap.L().Info("[NATS] connected and JetStream initialized")
	return bus, nil
}

func (b *EventBus) ensureStreams() error {
	if _, err := b.js.StreamInfo(eventStream); err == nil {
		return nil
	}
	_, err := b.js.AddStream(&nats.StreamConfig{
		Name:     eventStream,
		Subjects: []string{"exports.*", "users.*"},
		Storage:  nats.FileStorage,
		MaxAge:   30 * 24 * time.Hour,
	})
	return err
}

// PublishEvent publishes payload as JSON with a message id for deduplication.
func (b *EventBus) PublishEvent(subject string, payload interface{}) error {
	if b == nil || b.js == nil {
		return eris.New("nats: jetstream not initialized")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "nats: encode payload")
	}

	if _, err := b.js.Publish(subject, data, nats.MsgId(uuid.NewString())); err != nil {
		zap.L().Error("[NATS] publish failed", zap.String("subject", subject), zap.Error(err))
		return eris.Wrapf(err, "nats: publish %s", subject)
	}
	return nil
}

// SubscribeEvent creates a durable, manual-ack consumer. handler must Ack or
// Nak every message.
func (b *EventBus) SubscribeEvent(subject, durableName string, handler nats.MsgHandler) (*nats.Subscription, error) {
	if b == nil || b.js == nil {
		return nil, eris.New("nats: jetstream not initialized")
	}
	sub, err := b.js.Subscribe(subject, handler, nats.Durable(durableName), nats.ManualAck())
	if err != nil {
		return nil, eris.Wrapf(err, "nats: subscribe %s", subject)
	}
	zap.L().Info("[NATS] subscribed", zap.String("subject", subject), zap.String("durable", durableName))
	return sub, nil
}

func (b *EventBus) Connected() bool {
	return b != nil && b.nc != nil && b.nc.IsConnected()
}

func (b *EventBus) Close() {
	if b != nil && b.nc != nil {
		if err := b.nc.Drain(); err != nil {
			b.nc.Close()
		}
	}
}
