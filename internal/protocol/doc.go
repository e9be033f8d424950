// Package protocol implements the JSON message protocol spoken over the live websocket.
// It decodes client actions (start, stop, pong) and builds the typed server events
// (status, transcription, classification, fact_check, error, ping) in delivery form.
package protocol
