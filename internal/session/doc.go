// Package session provides live session management and lifecycle handling.
// A Controller owns one client connection: it starts, supersedes and stops the
// connection's pipeline run, relays its events, and sends keepalive pings on its
// own schedule. The Registry tracks every running session of the server.
package session
