package republish

import (
	"encoding/json"
	"time"

	"github.com/opencardata/cardata-bridge/pkg/log"
	"github.com/opencardata/cardata-bridge/pkg/mqtt/topic"
)

// statusPayload is the retained connectivity document. Field order matters
// for readers that diff the retained message textually.
type statusPayload struct {
	Connected bool  `json:"connected"`
	Timestamp int64 `json:"timestamp"`
}

// StatusPublisher maintains the retained status topic on the local broker.
// Publishes are queued, so upstream callbacks may call it freely.
type StatusPublisher struct {
	local LocalPublisher
	topic string
}

func NewStatusPublisher(local LocalPublisher, prefix string) *StatusPublisher {
	return &StatusPublisher{local: local, topic: topic.NewBuilder(prefix).Status()}
}

// Publish replaces the retained status document.
func (p *StatusPublisher) Publish(connected bool) {
	payload, _ := json.Marshal(statusPayload{
		Connected: connected,
		Timestamp: time.Now().Unix(),
	})
	if err := p.local.PublishQueued(p.topic, 0, true, payload); err != nil {
		log.Warn("Status publish failed", "topic", p.topic, "error", err)
		return
	}
	log.Debug("Published bridge status", "topic", p.topic, "connected", connected)
}

// WillPayload is the last-will document primed on the local broker so the
// status topic flips to disconnected when the bridge dies uncleanly.
func WillPayload() []byte {
	return []byte(`{"connected":false}`)
}
