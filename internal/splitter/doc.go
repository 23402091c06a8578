// Package splitter implements the stream splitter core.
//
// A Splitter receives raw audio bytes in arbitrarily sized chunks. Stream
// outputs get every chunk verbatim. Everything else sees whole samples only:
// bytes are re-framed by their cumulative position, so a sample split across
// two reads is identical to one that arrived whole.
//
// Routing depends on two flags:
//
//	recording=false  samples fill the bounded pre-roll ring
//	recording=true   samples go to record outputs; outputs started by the
//	                 transition first receive the pre-roll, which is cleared
//	monitoring=true  samples go to monitor outputs
//
// A record output that is also a monitor output is skipped for record
// delivery while monitoring, so it never receives a sample twice.
//
// ProcessInput, SetMode and Status share one mutex. Outputs are expected to
// accept writes without blocking.
package splitter
