// Package pipeline runs the per-session fact-check loop.
//
// Each audio segment from a Source is transcribed, refined, classified and, when
// the statement needs checking, grounded on the knowledge cache and verified. Every
// step is a bounded call with its own timeout. Results are delivered in order as
// protocol events; a run always ends with exactly one stopped status event.
package pipeline
