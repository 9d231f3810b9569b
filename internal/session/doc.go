// Package session owns one live WebSocket connection to the gateway.
//
// A session moves through opening, open, closing and closed, once. It
// never reconnects; when the connection fails, Run returns the error and
// the caller decides what happens next.
//
// # Goroutines
//
// Each session runs three goroutines:
//   - the reader, which pushes text frames into a bounded queue
//   - the writer, the only code that writes to the socket (acks, pongs,
//     keepalive pings and the close frame)
//   - the caller of Run, which decodes, applies and acks frames one at a
//     time in receipt order
//
// The reader keeps receiving while a batch is being applied, so the next
// frames wait in the queue rather than on the network.
//
// # Liveness
//
// The writer sends a WebSocket ping every PingInterval. Any inbound
// message or pong pushes the read deadline LivenessTimeout into the
// future; when it expires Run fails with a *LivenessError.
//
// # Shutdown
//
// When the context passed to Run is canceled, the session stops taking
// frames. A batch already being applied runs to completion on a context
// detached from the cancellation, bounded by ShutdownGrace, and its ack
// is still sent. Then the socket is closed with a normal-closure frame.
package session
