// Package audio inspects and synthesizes the PCM WAV segments produced by the
// capture recorder. Probe walks the RIFF chunk list so headers with extra
// chunks (ffmpeg writes LIST/INFO) are handled.
package audio
