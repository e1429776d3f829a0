// Package presence provides the connection registry for Gray Logic Hub.
//
// The registry is the authoritative answer to "who is online and through
// which connections". Every live client session (a browser tab, a wall panel,
// a mobile app instance) is held as a Connection record keyed by its
// connection ID. Records are indexed three ways:
//
//   - by connection ID (primary key)
//   - by owning user ID (a user may have any number of live connections)
//   - by group name (the reverse index used to fan out notifications)
//
// # Groups and Templates
//
// A group is a named topic such as "user-5" or "device-42-telemetry".
// Connections subscribe to groups; the notifier resolves a group name to its
// subscribers. Templates are glob patterns over group names:
//
//	"device-42-*"  matches "device-42-telemetry", "device-42-alarms"
//	"sensor-?"     matches "sensor-1" but not "sensor-12"
//
// # Consistency
//
// All mutations of a record and of the reverse index happen under the same
// lock, so a reader never observes a record whose group set disagrees with
// the index. Readers always receive copies.
//
// Presence is inherently racy: a connection may close between a query and its
// use. Operations on unknown IDs are therefore no-ops, never errors.
//
// # Usage
//
//	reg := presence.NewRegistry()
//	reg.Register(5, "c1", "10.0.0.7:51234")
//	reg.AddToGroups("c1", "device-42-telemetry")
//
//	for _, conn := range reg.ConnectionsByTemplates("device-42-*") {
//	    fmt.Println(conn.ConnectionID)
//	}
//
//	reg.Unregister("c1")
package presence
