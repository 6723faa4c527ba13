package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "REALTIME_MODEL", "SIGNALING_TIMEOUT", "TOOL_TIMEOUT", "AUDIO_BACKEND"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Port != DefaultPort {
		t.Errorf("Port = %q, want %q", cfg.Port, DefaultPort)
	}
	if cfg.RealtimeModel != DefaultRealtimeModel {
		t.Errorf("RealtimeModel = %q", cfg.RealtimeModel)
	}
	if cfg.SignalingTimeout != DefaultSignalingTimeout {
		t.Errorf("SignalingTimeout = %v", cfg.SignalingTimeout)
	}
	if cfg.AudioBackend != "mock" {
		t.Errorf("AudioBackend = %q", cfg.AudioBackend)
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		name string
		val  string
		want time.Duration
	}{
		{"empty", "", time.Minute},
		{"duration string", "250ms", 250 * time.Millisecond},
		{"seconds", "20", 20 * time.Second},
		{"garbage", "soon", time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_DURATION", tt.val)
			if got := Duration("TEST_DURATION", time.Minute); got != tt.want {
				t.Errorf("Duration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLocalURL(t *testing.T) {
	cfg := Config{Port: "9000"}
	if got := cfg.LocalURL("/api/rtc-connect"); got != "http://127.0.0.1:9000/api/rtc-connect" {
		t.Errorf("LocalURL() = %q", got)
	}
}
