// Package server exposes the service over HTTP: the /ws websocket endpoint that
// carries live fact-check sessions, plus health, statistics, reference file and
// Prometheus metrics endpoints for monitoring.
package server
