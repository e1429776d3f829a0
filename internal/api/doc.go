// Package api provides the HTTP and WebSocket surface of the hub.
//
// Clients hold a session on the /api/v1/ws WebSocket. Each session is a
// connection in the presence registry, joins its user's personal group and
// may subscribe to further groups. Notifications reach sessions through the
// SessionHub, which is installed as the communicator's pusher.
//
// Devices open /api/v1/devices/{id}/stream. The stream registers the
// device's message channel and runs its delivery loop: each queued producer
// is built and written as one binary frame.
//
// Backend services use the REST endpoints to query presence, manage group
// memberships, send notifications and queue device messages.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
