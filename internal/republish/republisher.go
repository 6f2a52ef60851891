// Package republish rewrites vendor stream messages into the local broker's
// namespace: a verbatim raw mirror first, then one message per telemetry
// property, plus the retained connectivity status document.
package republish

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/opencardata/cardata-bridge/internal/pkg/metrics"
	"github.com/opencardata/cardata-bridge/pkg/log"
	"github.com/opencardata/cardata-bridge/pkg/mqtt/topic"
)

// LocalPublisher is the slice of the local MQTT client the republisher
// needs: fire-and-forget queued publishes that never block the caller.
type LocalPublisher interface {
	PublishQueued(topic string, qos int, retain bool, payload []byte) error
}

const vinLength = 17

// Republisher fans vendor messages out onto the local namespace. Safe for
// use from the upstream client's inbound path.
type Republisher struct {
	local  LocalPublisher
	topics *topic.Builder
}

func NewRepublisher(local LocalPublisher, prefix string) *Republisher {
	return &Republisher{local: local, topics: topic.NewBuilder(prefix)}
}

// Handle mirrors one vendor message. The raw copy always goes out first and
// is never taken back by a fan-out failure.
func (r *Republisher) Handle(topic string, payload []byte) {
	r.publishRaw(topic, payload)
	r.fanOut(topic, payload)
}

// publishRaw mirrors the message verbatim. The vendor topic's first level is
// the account id; everything after it is kept.
func (r *Republisher) publishRaw(topic string, payload []byte) {
	rest := ""
	if i := strings.IndexByte(topic, '/'); i >= 0 {
		rest = topic[i:]
	}
	outTopic := r.topics.Raw(rest)

	if err := r.local.PublishQueued(outTopic, 0, false, payload); err != nil {
		metrics.RepublishSkippedTotal.WithLabelValues("publish_error").Inc()
		log.Warn("Raw mirror publish failed", "topic", outTopic, "error", err)
		return
	}
	metrics.RawRepublishedTotal.Inc()
	log.Debug("Forwarded raw message", "in", topic, "out", outTopic, "bytes", len(payload))
}

func (r *Republisher) fanOut(topic string, payload []byte) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(payload, &root); err != nil {
		metrics.RepublishSkippedTotal.WithLabelValues("bad_json").Inc()
		log.Warn("Stream payload is not a JSON object", "topic", topic, "error", err)
		return
	}

	vin := payloadVIN(root)
	if vin == "" {
		var err error
		vin, err = topicVIN(topic)
		if err != nil {
			metrics.RepublishSkippedTotal.WithLabelValues("bad_vin").Inc()
			log.Warn("Unusable vehicle id", "topic", topic, "error", err)
			return
		}
		if vin == "" {
			metrics.RepublishSkippedTotal.WithLabelValues("bad_vin").Inc()
			log.Warn("No vehicle id in payload or topic", "topic", topic)
			return
		}
	}

	dataRaw, ok := root["data"]
	if !ok {
		metrics.RepublishSkippedTotal.WithLabelValues("no_data").Inc()
		log.Warn("Stream payload has no data object", "topic", topic)
		return
	}
	var data map[string]json.RawMessage
	if err := json.Unmarshal(dataRaw, &data); err != nil {
		metrics.RepublishSkippedTotal.WithLabelValues("no_data").Inc()
		log.Warn("Stream payload data is not an object", "topic", topic, "error", err)
		return
	}

	// Lexical order keeps the local publish sequence stable for identical
	// payloads.
	props := make([]string, 0, len(data))
	for prop := range data {
		props = append(props, prop)
	}
	sort.Strings(props)

	for _, prop := range props {
		entry := data[prop]

		var obj map[string]json.RawMessage
		if err := json.Unmarshal(entry, &obj); err != nil {
			continue // scalar entries carry no value object
		}
		if _, ok := obj["value"]; !ok {
			continue
		}

		outTopic := r.topics.VehicleProperty(vin, prop)
		if err := r.local.PublishQueued(outTopic, 0, false, entry); err != nil {
			metrics.RepublishSkippedTotal.WithLabelValues("publish_error").Inc()
			log.Warn("Telemetry publish failed", "topic", outTopic, "error", err)
			continue
		}
		metrics.TelemetryRepublishedTotal.Inc()
		log.Debug("Forwarded property", "in", topic, "out", outTopic, "bytes", len(entry))
	}
}

// payloadVIN returns the payload's vin field when it is a string of the
// canonical length. Anything else falls through to topic extraction.
func payloadVIN(root map[string]json.RawMessage) string {
	raw, ok := root["vin"]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	if len(s) != vinLength {
		return ""
	}
	return s
}

// topicVIN extracts the second level of an <account>/<vin>/... topic. A
// topic without any separator yields no id; a malformed id is an error.
func topicVIN(topic string) (string, error) {
	i := strings.IndexByte(topic, '/')
	if i < 0 {
		return "", nil
	}
	vin := topic[i+1:]
	if j := strings.IndexByte(vin, '/'); j >= 0 {
		vin = vin[:j]
	}
	if len(vin) != vinLength {
		return "", fmt.Errorf("vehicle id %q from topic is not %d characters", vin, vinLength)
	}
	return vin, nil
}
