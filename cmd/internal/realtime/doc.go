// Package realtime owns live connections: the Registry that binds authenticated
// websocket connections to identities and group subscriptions, the Router that fans
// events out to them, and the WSGateway transport.
package realtime
