// Package factcheck holds the fact-check domain model and the language model
// backed stages that produce it.
//
// Statements are refined, classified and verified through chat completions.
// Service responses are parsed into strict types; anything that cannot be parsed
// collapses to a safe Fallback value (not needing a check, or unverifiable with
// zero confidence) instead of an error.
package factcheck
