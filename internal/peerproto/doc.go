// Package peerproto implements the typed application messages exchanged over
// an open peer data channel: profile announcements, likes and chat lines.
//
// Messages are tagged records. The tag is always the "type" field; receivers
// ignore tags they do not know so newer peers can add message kinds without
// breaking older ones.
package peerproto
