// Package transcription implements the speech-to-text client used by the live pipeline.
// It uploads recorded segments to the OpenAI transcription endpoint, limits concurrent
// requests with a semaphore, retries transient failures with exponential backoff bounded
// by the caller's deadline, and keeps request statistics.
package transcription
