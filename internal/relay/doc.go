// Package relay is the signaling relay: it tracks connected participants,
// tells each newcomer who is already present, announces arrivals and
// departures, and forwards addressed handshake payloads between exactly two
// participants without looking inside them.
//
// The relay keeps no application state. A restart drops every registration
// and clients rediscover each other by reconnecting.
package relay
