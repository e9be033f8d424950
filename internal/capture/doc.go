// Package capture turns a live stream locator into a sequence of bounded audio segments.
//
// A Source resolves the locator to a short-lived media URL with an external resolver,
// then records fixed-length WAV segments with an external recorder, one per call to
// Next. The media URL is refreshed periodically, and only the two newest segment files
// are kept on disk.
package capture
