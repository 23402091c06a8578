// Package metrics defines the Prometheus instrumentation for the splitter:
// upstream input, re-framing and pre-roll, mode state, per-output lifecycle,
// control channel and HTTP API.
package metrics
