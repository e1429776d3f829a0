package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// Topic prefixes for the hub's MQTT namespace.
//
// Inbound (bus -> hub):
//
//	graylogic/hub/notify/{group}           notification for a group
//	graylogic/hub/device/{id}/command      raw payload for a device queue
//
// Outbound (hub -> bus):
//
//	graylogic/hub/device/{id}/inbound      frame received from a device stream
//	graylogic/hub/presence/device/{id}     retained online/offline
//	graylogic/hub/presence/user/{id}       retained online/offline
//	graylogic/hub/status                   retained hub status (LWT)
const (
	TopicPrefixHub      = "graylogic/hub"
	TopicPrefixNotify   = TopicPrefixHub + "/notify"
	TopicPrefixDevice   = TopicPrefixHub + "/device"
	TopicPrefixPresence = TopicPrefixHub + "/presence"
)

// Topics provides builders for hub MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.DeviceCommand(42) // "graylogic/hub/device/42/command"
type Topics struct{}

// =============================================================================
// Hub Topics
// =============================================================================

// HubStatus returns the retained hub status topic.
//
// Example: graylogic/hub/status
func (Topics) HubStatus() string {
	return TopicPrefixHub + "/status"
}

// Notify returns the topic on which notifications for group are accepted.
//
// Example: graylogic/hub/notify/user-7
func (Topics) Notify(group string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixNotify, group)
}

// DeviceCommand returns the topic carrying payloads for a device's queue.
//
// Example: graylogic/hub/device/42/command
func (Topics) DeviceCommand(deviceID int64) string {
	return fmt.Sprintf("%s/%d/command", TopicPrefixDevice, deviceID)
}

// DeviceInbound returns the topic on which frames read from a device
// stream are published.
//
// Example: graylogic/hub/device/42/inbound
func (Topics) DeviceInbound(deviceID int64) string {
	return fmt.Sprintf("%s/%d/inbound", TopicPrefixDevice, deviceID)
}

// DevicePresence returns the retained presence topic for a device.
//
// Example: graylogic/hub/presence/device/42
func (Topics) DevicePresence(deviceID int64) string {
	return fmt.Sprintf("%s/device/%d", TopicPrefixPresence, deviceID)
}

// UserPresence returns the retained presence topic for a user.
//
// Example: graylogic/hub/presence/user/7
func (Topics) UserPresence(userID int64) string {
	return fmt.Sprintf("%s/user/%d", TopicPrefixPresence, userID)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllNotify matches notifications for every group.
//
// Pattern: graylogic/hub/notify/+
func (Topics) AllNotify() string {
	return TopicPrefixNotify + "/+"
}

// AllDeviceCommands matches command payloads for every device.
//
// Pattern: graylogic/hub/device/+/command
func (Topics) AllDeviceCommands() string {
	return TopicPrefixDevice + "/+/command"
}

// AllTopics matches the whole hub namespace.
//
// Pattern: graylogic/hub/#
func (Topics) AllTopics() string {
	return TopicPrefixHub + "/#"
}

// =============================================================================
// Topic Parsing
// =============================================================================

// GroupFromNotifyTopic extracts the group name from a notify topic.
func GroupFromNotifyTopic(topic string) (string, error) {
	group, ok := strings.CutPrefix(topic, TopicPrefixNotify+"/")
	if !ok || group == "" || strings.Contains(group, "/") {
		return "", fmt.Errorf("%w: %q is not a notify topic", ErrInvalidTopic, topic)
	}
	return group, nil
}

// DeviceIDFromCommandTopic extracts the device ID from a device command topic.
func DeviceIDFromCommandTopic(topic string) (int64, error) {
	rest, ok := strings.CutPrefix(topic, TopicPrefixDevice+"/")
	if !ok {
		return 0, fmt.Errorf("%w: %q is not a device topic", ErrInvalidTopic, topic)
	}
	idPart, ok := strings.CutSuffix(rest, "/command")
	if !ok {
		return 0, fmt.Errorf("%w: %q is not a device command topic", ErrInvalidTopic, topic)
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: bad device id %q", ErrInvalidTopic, idPart)
	}
	return id, nil
}
