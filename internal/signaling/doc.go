// Package signaling defines the relay wire protocol and the handshake payloads
// peers tunnel through it.
//
// Every WebSocket frame is a JSON text message with a "type" discriminator.
// The relay parses client frames strictly and never looks inside the signal
// payload; clients parse server events leniently so the relay can grow new
// event types.
package signaling
