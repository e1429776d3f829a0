package notify

import "fmt"

// Entity kinds with well-known group names.
const (
	KindUser   = "user"
	KindDevice = "device"
)

// Entity is anything clients can follow: a device, a sensor, a monitor.
// Its group is "<kind>-<id>"; sub-topics use "<kind>-<id>-<topic>".
type Entity interface {
	EntityKind() string
	EntityID() int64
}

// EntityRef is a plain Entity value.
type EntityRef struct {
	Kind string `json:"kind"`
	ID   int64  `json:"id"`
}

// EntityKind implements Entity.
func (e EntityRef) EntityKind() string { return e.Kind }

// EntityID implements Entity.
func (e EntityRef) EntityID() int64 { return e.ID }

// EntityGroup returns the group name of an entity.
//
// Example: EntityGroup("sensor", 9) = "sensor-9"
func EntityGroup(kind string, id int64) string {
	return fmt.Sprintf("%s-%d", kind, id)
}

// EntityTemplate returns the template matching every sub-topic group of an
// entity.
//
// Example: EntityTemplate("device", 42) = "device-42-*"
func EntityTemplate(kind string, id int64) string {
	return EntityGroup(kind, id) + "-*"
}

// EntityTopic returns a sub-topic group of an entity.
//
// Example: EntityTopic("device", 42, "telemetry") = "device-42-telemetry"
func EntityTopic(kind string, id int64, topic string) string {
	return EntityGroup(kind, id) + "-" + topic
}

// UserGroup returns the personal group every connection of a user joins.
func UserGroup(userID int64) string {
	return EntityGroup(KindUser, userID)
}

// DeviceGroup returns the group of clients following a device.
func DeviceGroup(deviceID int64) string {
	return EntityGroup(KindDevice, deviceID)
}
