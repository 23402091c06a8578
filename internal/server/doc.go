// Package server implements the control collaborators of the splitter: the
// UDP control channel that decodes one-byte mode commands, the signal adapter
// (SIGUSR1, SIGUSR2, shutdown signals) and the HTTP API for status, mode
// changes and Prometheus metrics.
package server
