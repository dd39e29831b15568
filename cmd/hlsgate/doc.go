// Command hlsgate serves on-demand HLS conversions of remote media.
//
// `hlsgate serve` runs the HTTP API; `hlsgate jobs` and `hlsgate fingerprint`
// inspect the job journal and the job directory layout without a running
// server.
package main
