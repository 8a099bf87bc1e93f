package middleware

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewIPAllowList_Invalid(t *testing.T) {
	for _, entry := range []string{"not-an-ip", "10.0.0.0/99"} {
		if _, err := NewIPAllowList([]string{entry}, nil); err == nil {
			t.Errorf("expected error for %q", entry)
		}
	}
}

func TestIPAllowList_Allows(t *testing.T) {
	l, err := NewIPAllowList([]string{"10.1.0.0/16", "192.168.1.7", "fd00::1"}, nil)
	if err != nil {
		t.Fatalf("NewIPAllowList: %v", err)
	}

	tests := []struct {
		ip   string
		want bool
	}{
		{"10.1.2.3", true},
		{"10.2.0.1", false},
		{"192.168.1.7", true},
		{"192.168.1.8", false},
		{"fd00::1", true},
		{"127.0.0.1", false},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			if got := l.Allows(net.ParseIP(tt.ip)); got != tt.want {
				t.Errorf("Allows(%s) = %v, want %v", tt.ip, got, tt.want)
			}
		})
	}
}

func TestIPAllowList_DefaultLoopback(t *testing.T) {
	l, err := NewIPAllowList(nil, nil)
	if err != nil {
		t.Fatalf("NewIPAllowList: %v", err)
	}
	if !l.Allows(net.ParseIP("127.0.0.1")) || !l.Allows(net.ParseIP("::1")) {
		t.Error("loopback should be allowed by default")
	}
	if l.Allows(net.ParseIP("10.0.0.1")) {
		t.Error("non-loopback should be rejected by default")
	}
}

func TestIPAllowList_Handler(t *testing.T) {
	l, _ := NewIPAllowList([]string{"10.0.0.0/8"}, nil)
	h := l.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	tests := []struct {
		name   string
		remote string
		xff    string
		want   int
	}{
		{"allowed", "10.0.0.5:4242", "", http.StatusAccepted},
		{"denied", "203.0.113.9:4242", "", http.StatusForbidden},
		{"forwarded header ignored", "203.0.113.9:4242", "10.0.0.5", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts/receiver", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
