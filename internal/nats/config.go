package nats

import (
	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Subscriber creates durable consumers.
type Subscriber interface {
	SubscribeEvent(subject, durableName string, handler nats.MsgHandler) (*nats.Subscription, error)
}

// SubscribeAll loads all routes once during startup
func SubscribeAll(s Subscriber, routes map[string]Route) ([]*nats.Subscription, error) {
	subs := make([]*nats.Subscription, 0, len(routes))
	for subject, route := range routes {
		sub, err := s.SubscribeEvent(subject, route.Durable, route.Handler)
		if err != nil {
			for _, done := range subs {
				_ = done.Unsubscribe()
			}
			return nil, eris.Wrapf(err, "nats: route %s", subject)
		}
		subs = append(subs, sub)
	}
	zap.L().Info("[NATS] routes subscribed", zap.Int("count", len(subs)))
	return subs, nil
}
