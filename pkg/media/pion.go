package media

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
	"gopkg.in/hraban/opus.v2"

	"github.com/teslashibe/kontext-voice/pkg/audioio"
)

// maxOpusFrame is 120ms at 48kHz, the longest Opus frame.
const maxOpusFrame = 5760

// pionPeer implements PeerConnection on pion/webrtc.
type pionPeer struct {
	pc      *webrtc.PeerConnection
	track   *webrtc.TrackLocalStaticSample
	cfg     PeerConfig
	logger  *slog.Logger
	encMu   sync.Mutex
	encoder *opus.Encoder
	encBuf  []byte
}

// NewPionPeer creates a peer connection with one sendrecv Opus transceiver.
func NewPionPeer(cfg PeerConfig, logger *slog.Logger) (PeerConnection, error) {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 48000
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	config := webrtc.Configuration{}
	if len(cfg.ICEServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}

	pc, err := webrtc.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: uint32(cfg.SampleRate), Channels: 2},
		"audio", "kontext-voice",
	)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create audio track: %w", err)
	}

	if _, err := pc.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	}); err != nil {
		pc.Close()
		return nil, fmt.Errorf("add audio transceiver: %w", err)
	}

	encoder, err := opus.NewEncoder(cfg.SampleRate, cfg.Channels, opus.AppVoIP)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}

	return &pionPeer{
		pc:      pc,
		track:   track,
		cfg:     cfg,
		logger:  logger,
		encoder: encoder,
		encBuf:  make([]byte, 4000),
	}, nil
}

func (p *pionPeer) CreateDataChannel(label string) (DataChannel, error) {
	dc, err := p.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, err
	}
	return &pionChannel{dc: dc}, nil
}

func (p *pionPeer) CreateOffer(ctx context.Context) (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}

	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return p.pc.LocalDescription().SDP, nil
}

func (p *pionPeer) SetAnswer(sdp string) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
}

func (p *pionPeer) WriteAudio(chunk audioio.AudioChunk) error {
	samples := chunk.Samples
	if chunk.Channels == 2 && p.cfg.Channels == 1 {
		samples = audioio.Downmix(samples)
	}
	samples = audioio.Resample(samples, chunk.SampleRate, p.cfg.SampleRate)
	if len(samples) == 0 {
		return nil
	}

	p.encMu.Lock()
	n, err := p.encoder.Encode(samples, p.encBuf)
	if err != nil {
		p.encMu.Unlock()
		return fmt.Errorf("opus encode: %w", err)
	}
	data := append([]byte(nil), p.encBuf[:n]...)
	p.encMu.Unlock()

	return p.track.WriteSample(pionmedia.Sample{Data: data, Duration: chunk.Duration()})
}

func (p *pionPeer) OnTrack(fn func(RemoteTrack)) {
	p.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		decoder, err := opus.NewDecoder(p.cfg.SampleRate, p.cfg.Channels)
		if err != nil {
			p.logger.Error("opus decoder", "error", err)
			receiver.Stop()
			return
		}
		fn(&pionTrack{
			track:    track,
			receiver: receiver,
			decoder:  decoder,
			channels: p.cfg.Channels,
			rate:     p.cfg.SampleRate,
			buf:      make([]int16, maxOpusFrame*p.cfg.Channels),
		})
	})
}

func (p *pionPeer) OnStateChange(fn func(PeerState)) {
	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		fn(peerState(s))
	})
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}

func peerState(s webrtc.PeerConnectionState) PeerState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return PeerStateConnecting
	case webrtc.PeerConnectionStateConnected:
		return PeerStateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return PeerStateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return PeerStateFailed
	case webrtc.PeerConnectionStateClosed:
		return PeerStateClosed
	default:
		return PeerStateNew
	}
}

type pionChannel struct {
	dc *webrtc.DataChannel
}

func (c *pionChannel) OnOpen(fn func()) { c.dc.OnOpen(fn) }

func (c *pionChannel) OnMessage(fn func([]byte)) {
	c.dc.OnMessage(func(msg webrtc.DataChannelMessage) { fn(msg.Data) })
}

func (c *pionChannel) SendText(text string) error { return c.dc.SendText(text) }

func (c *pionChannel) IsOpen() bool { return c.dc.ReadyState() == webrtc.DataChannelStateOpen }

func (c *pionChannel) Close() error { return c.dc.Close() }

// pionTrack decodes inbound Opus RTP into PCM.
type pionTrack struct {
	track    *webrtc.TrackRemote
	receiver *webrtc.RTPReceiver
	decoder  *opus.Decoder
	channels int
	rate     int
	buf      []int16
}

func (t *pionTrack) ID() string { return t.track.StreamID() + "/" + t.track.ID() }

func (t *pionTrack) ReadAudio() (audioio.AudioChunk, error) {
	for {
		var (
			pkt *rtp.Packet
			err error
		)
		pkt, _, err = t.track.ReadRTP()
		if err != nil {
			return audioio.AudioChunk{}, err
		}
		if len(pkt.Payload) == 0 {
			continue
		}

		n, err := t.decoder.Decode(pkt.Payload, t.buf)
		if err != nil {
			continue
		}
		samples := make([]int16, n*t.channels)
		copy(samples, t.buf)
		return audioio.AudioChunk{Samples: samples, SampleRate: t.rate, Channels: t.channels}, nil
	}
}

func (t *pionTrack) Stop() error { return t.receiver.Stop() }

var (
	_ PeerConnection = (*pionPeer)(nil)
	_ DataChannel    = (*pionChannel)(nil)
	_ RemoteTrack    = (*pionTrack)(nil)
)
