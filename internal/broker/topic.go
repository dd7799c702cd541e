// Package broker subscribes to the fleet's telemetry topics over MQTT and
// hands validated frames to the ingest pipeline via a bounded queue.
package broker

import (
	"fmt"
	"strings"
)

// Topic is a parsed tenant/<tenant_id>/device/<device_id>/<msg_type> path.
type Topic struct {
	TenantID string
	DeviceID string
	MsgType  string
}

// ParseTopic validates and decomposes an inbound publish topic (spec.md
// §3 ingest pipeline step 4: topic-vs-payload tenant consistency).
func ParseTopic(topic string) (Topic, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 5 || parts[0] != "tenant" || parts[2] != "device" {
		return Topic{}, fmt.Errorf("malformed topic %q", topic)
	}
	tenantID, deviceID, msgType := parts[1], parts[3], parts[4]
	if tenantID == "" || deviceID == "" || msgType == "" {
		return Topic{}, fmt.Errorf("malformed topic %q: empty segment", topic)
	}
	if msgType != "telemetry" && msgType != "heartbeat" {
		return Topic{}, fmt.Errorf("unknown msg_type %q in topic %q", msgType, topic)
	}
	return Topic{TenantID: tenantID, DeviceID: deviceID, MsgType: msgType}, nil
}

// SubscriptionFilter is the wildcard topic Pulse subscribes every
// ingest instance to.
const SubscriptionFilter = "tenant/+/device/+/+"
