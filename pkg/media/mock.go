package media

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/teslashibe/kontext-voice/pkg/audioio"
)

// MockPeer is an in-memory PeerConnection for testing.
type MockPeer struct {
	// Offer is returned by CreateOffer.
	Offer string

	// OfferErr, AnswerErr and ChannelErr force failures.
	OfferErr   error
	AnswerErr  error
	ChannelErr error

	mu      sync.Mutex
	channel *MockChannel
	answer  string
	onTrack func(RemoteTrack)
	onState func(PeerState)
	writes  int
	closes  int
}

// NewMockPeer creates a MockPeer.
func NewMockPeer() *MockPeer {
	return &MockPeer{Offer: "v=0 mock-offer"}
}

func (p *MockPeer) CreateDataChannel(label string) (DataChannel, error) {
	if p.ChannelErr != nil {
		return nil, p.ChannelErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channel = NewMockChannel(label)
	return p.channel, nil
}

func (p *MockPeer) CreateOffer(ctx context.Context) (string, error) {
	if p.OfferErr != nil {
		return "", p.OfferErr
	}
	return p.Offer, ctx.Err()
}

func (p *MockPeer) SetAnswer(sdp string) error {
	if p.AnswerErr != nil {
		return p.AnswerErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answer = sdp
	return nil
}

func (p *MockPeer) WriteAudio(chunk audioio.AudioChunk) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes++
	return nil
}

func (p *MockPeer) OnTrack(fn func(RemoteTrack)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = fn
}

func (p *MockPeer) OnStateChange(fn func(PeerState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = fn
}

func (p *MockPeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}

// Channel returns the last created channel.
func (p *MockPeer) Channel() *MockChannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel
}

// Answer returns the applied answer SDP.
func (p *MockPeer) Answer() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.answer
}

// Writes returns how many audio frames were written.
func (p *MockPeer) Writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

// Closes returns how many times Close was called.
func (p *MockPeer) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

// SimulateTrack delivers an inbound track.
func (p *MockPeer) SimulateTrack(t RemoteTrack) {
	p.mu.Lock()
	fn := p.onTrack
	p.mu.Unlock()
	if fn != nil {
		fn(t)
	}
}

// SimulateState delivers a connection state change.
func (p *MockPeer) SimulateState(s PeerState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// MockChannel is an in-memory DataChannel.
type MockChannel struct {
	Label string

	mu        sync.Mutex
	open      bool
	closed    bool
	sent      []string
	onOpen    func()
	onMessage func([]byte)
}

// NewMockChannel creates a closed MockChannel.
func NewMockChannel(label string) *MockChannel {
	return &MockChannel{Label: label}
}

func (c *MockChannel) OnOpen(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onOpen = fn
}

func (c *MockChannel) OnMessage(fn func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

func (c *MockChannel) SendText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return ErrChannelNotOpen
	}
	c.sent = append(c.sent, text)
	return nil
}

func (c *MockChannel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *MockChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	c.closed = true
	return nil
}

// Open marks the channel open and fires the open callback.
func (c *MockChannel) Open() {
	c.mu.Lock()
	c.open = true
	fn := c.onOpen
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Receive delivers an inbound message.
func (c *MockChannel) Receive(data []byte) {
	c.mu.Lock()
	fn := c.onMessage
	c.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

// Sent returns the messages sent so far.
func (c *MockChannel) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

// Closed reports whether Close was called.
func (c *MockChannel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// MockTrack is an in-memory RemoteTrack fed through Push.
type MockTrack struct {
	id     string
	frames chan audioio.AudioChunk
	done   chan struct{}

	mu    sync.Mutex
	stops int
}

// NewMockTrack creates a MockTrack.
func NewMockTrack(id string) *MockTrack {
	return &MockTrack{
		id:     id,
		frames: make(chan audioio.AudioChunk, 16),
		done:   make(chan struct{}),
	}
}

func (t *MockTrack) ID() string { return t.id }

func (t *MockTrack) ReadAudio() (audioio.AudioChunk, error) {
	select {
	case chunk := <-t.frames:
		return chunk, nil
	case <-t.done:
		return audioio.AudioChunk{}, io.EOF
	}
}

func (t *MockTrack) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stops++
	if t.stops == 1 {
		close(t.done)
	}
	return nil
}

// Push queues a decoded frame.
func (t *MockTrack) Push(chunk audioio.AudioChunk) {
	t.frames <- chunk
}

// Stops returns how many times Stop was called.
func (t *MockTrack) Stops() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

// MockPeerFactory hands out MockPeers and remembers them.
type MockPeerFactory struct {
	// Err makes New fail.
	Err error

	mu    sync.Mutex
	peers []*MockPeer
}

// New implements PeerFactory.
func (f *MockPeerFactory) New(cfg PeerConfig) (PeerConnection, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	p := NewMockPeer()
	f.mu.Lock()
	f.peers = append(f.peers, p)
	f.mu.Unlock()
	return p, nil
}

// Last returns the most recently created peer.
func (f *MockPeerFactory) Last() *MockPeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.peers) == 0 {
		return nil
	}
	return f.peers[len(f.peers)-1]
}

// Count returns how many peers were created.
func (f *MockPeerFactory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}

// StaticSignaler answers every offer with Answer, or fails with Err.
func StaticSignaler(answer string, err error) Signaler {
	return SignalerFunc(func(ctx context.Context, offer string) (string, error) {
		if err != nil {
			return "", err
		}
		if offer == "" {
			return "", errors.New("empty offer")
		}
		return answer, nil
	})
}

var (
	_ PeerConnection = (*MockPeer)(nil)
	_ DataChannel    = (*MockChannel)(nil)
	_ RemoteTrack    = (*MockTrack)(nil)
)
