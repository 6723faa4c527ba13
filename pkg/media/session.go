package media

import (
	"context"
	"sync"

	"github.com/teslashibe/kontext-voice/pkg/audioio"
)

// session holds everything one Connect acquires. close is the single
// teardown path; resources handed to a closed session are released on the
// spot so a racing Disconnect never leaks them.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	capture audioio.Source
	peer    PeerConnection
	channel DataChannel
	remote  *remoteStream

	// Serializes the open signal with inbound messages. Messages that
	// arrive before the channel reports open wait in pending.
	inbound sync.Mutex
	opened  bool
	pending [][]byte
}

// maxPending bounds messages held before the channel reports open.
const maxPending = 256

func newSession() *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{ctx: ctx, cancel: cancel}
}

func (s *session) setCapture(src audioio.Source) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		src.Close()
		return false
	}
	s.capture = src
	return true
}

func (s *session) setPeer(p PeerConnection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		p.Close()
		return false
	}
	s.peer = p
	return true
}

func (s *session) setChannel(dc DataChannel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		dc.Close()
		return false
	}
	s.channel = dc
	return true
}

func (s *session) dataChannel() DataChannel {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.channel
}

// adopt makes t the live remote stream. The previous stream, if any, is
// stopped before t takes its place. ok is false when the session is closed.
func (s *session) adopt(t RemoteTrack) (rs *remoteStream, replaced bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, false
	}
	if s.remote != nil {
		s.remote.stop()
		replaced = true
	}
	s.remote = &remoteStream{track: t}
	return s.remote, replaced, true
}

// close releases all resources once. It reports whether this call did the work.
func (s *session) close() bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	capture, peer, channel, remote := s.capture, s.peer, s.channel, s.remote
	s.capture, s.peer, s.channel, s.remote = nil, nil, nil, nil
	s.mu.Unlock()

	s.cancel()
	if remote != nil {
		remote.stop()
	}
	if channel != nil {
		channel.Close()
	}
	if peer != nil {
		peer.Close()
	}
	if capture != nil {
		capture.Close()
	}
	return true
}

// remoteStream is the one live inbound audio stream.
type remoteStream struct {
	track RemoteTrack
	once  sync.Once
}

func (r *remoteStream) stop() {
	r.once.Do(func() { r.track.Stop() })
}
