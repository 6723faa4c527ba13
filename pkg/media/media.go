// Package media owns the devices and the WebRTC transport of a voice session.
//
// A Manager acquires the microphone, negotiates a peer connection carrying a
// bidirectional Opus audio track and a JSON control data channel, plays the
// single live remote audio stream, and tears everything down through one
// path on Disconnect or failure.
//
// The transport is reached through the PeerConnection, DataChannel and
// RemoteTrack interfaces. NewPionPeer provides the pion/webrtc
// implementation; mock.go provides in-memory doubles for tests.
package media

import (
	"context"

	"github.com/teslashibe/kontext-voice/pkg/audioio"
)

// State is the Manager connection state.
type State int

const (
	// StateDisconnected indicates no session.
	StateDisconnected State = iota
	// StateConnecting indicates Connect is in progress.
	StateConnecting
	// StateConnected indicates negotiation completed.
	StateConnected
	// StateError indicates the last attempt or session failed.
	StateError
)

// String returns a human-readable state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// PeerState mirrors the WebRTC peer connection state.
type PeerState int

const (
	PeerStateNew PeerState = iota
	PeerStateConnecting
	PeerStateConnected
	PeerStateDisconnected
	PeerStateFailed
	PeerStateClosed
)

// String returns the WebRTC name of the state.
func (s PeerState) String() string {
	switch s {
	case PeerStateNew:
		return "new"
	case PeerStateConnecting:
		return "connecting"
	case PeerStateConnected:
		return "connected"
	case PeerStateDisconnected:
		return "disconnected"
	case PeerStateFailed:
		return "failed"
	case PeerStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Fatal reports whether the state ends the session.
// "disconnected" can recover on its own, so only failed and closed count.
func (s PeerState) Fatal() bool {
	return s == PeerStateFailed || s == PeerStateClosed
}

// PeerConnection is the negotiated transport.
type PeerConnection interface {
	// CreateDataChannel opens a named control channel.
	CreateDataChannel(label string) (DataChannel, error)

	// CreateOffer creates the local offer, applies it, waits for candidate
	// gathering and returns the complete SDP.
	CreateOffer(ctx context.Context) (string, error)

	// SetAnswer applies the remote answer.
	SetAnswer(sdp string) error

	// WriteAudio sends one captured frame on the outbound audio track.
	WriteAudio(chunk audioio.AudioChunk) error

	// OnTrack registers the inbound audio callback.
	OnTrack(fn func(RemoteTrack))

	// OnStateChange registers the connection state callback.
	OnStateChange(fn func(PeerState))

	// Close shuts the connection down.
	Close() error
}

// DataChannel is the ordered, reliable control channel.
type DataChannel interface {
	OnOpen(fn func())
	OnMessage(fn func(data []byte))
	SendText(text string) error
	IsOpen() bool
	Close() error
}

// RemoteTrack is one inbound audio stream.
type RemoteTrack interface {
	// ID identifies the stream.
	ID() string

	// ReadAudio blocks for the next decoded frame. It returns an error once
	// the track is stopped or the connection closes.
	ReadAudio() (audioio.AudioChunk, error)

	// Stop stops the track and releases its receiver.
	Stop() error
}

// PeerConfig configures new peer connections.
type PeerConfig struct {
	// ICEServers are STUN/TURN URLs.
	ICEServers []string

	// SampleRate is the Opus clock rate.
	SampleRate int

	// Channels is the number of decoded output channels.
	Channels int
}

// PeerFactory creates peer connections.
type PeerFactory func(cfg PeerConfig) (PeerConnection, error)

// Signaler exchanges an offer for an answer.
type Signaler interface {
	Exchange(ctx context.Context, offer string) (string, error)
}

// SignalerFunc adapts a function to Signaler.
type SignalerFunc func(ctx context.Context, offer string) (string, error)

// Exchange implements Signaler.
func (f SignalerFunc) Exchange(ctx context.Context, offer string) (string, error) {
	return f(ctx, offer)
}
