package events

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// CoreTopics lists every topic the server publishes.
var CoreTopics = []string{
	TopicRelayConnected,
	TopicRelayLost,
	TopicRotationSwitched,
	TopicRotationUnavailable,
}

// LogAll attaches a logging handler to every core topic so domain events
// land in the log stream and the admin ring buffer. It returns a function
// that detaches all handlers.
func LogAll(sub Subscriber) func() {
	unsubs := make([]func(), 0, len(CoreTopics))
	for _, topic := range CoreTopics {
		unsubs = append(unsubs, sub.Subscribe(topic, logEvent))
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

func logEvent(_ context.Context, evt Event) {
	entry := log.WithField("topic", evt.Topic)
	if evt.Payload != nil {
		entry = entry.WithField("payload", evt.Payload)
	}
	switch evt.Topic {
	case TopicRelayLost, TopicRotationUnavailable:
		entry.Warn("Domain event")
	default:
		entry.Info("Domain event")
	}
}
