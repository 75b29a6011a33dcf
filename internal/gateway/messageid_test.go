package gateway

import (
	"errors"
	"strings"
	"testing"
)

func TestMessageIDRoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		requestID string
		clientID  string
	}{
		{name: "plain ids", requestID: "req-123", clientID: "client-a"},
		{name: "ids with separator characters", requestID: "req~with~tildes", clientID: "client@domain"},
		{name: "uuid-like ids", requestID: "01890bdc-7e2a-7e67-b1c1-2f0cce6fd4e1", clientID: "pn-delivery"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := EncodeMessageID(tt.requestID, tt.clientID, "notifiche.example")
			if !strings.HasSuffix(id, "@notifiche.example") {
				t.Errorf("expected domain suffix, got %q", id)
			}

			gotReq, gotClient, err := DecodeMessageID(id)
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if gotReq != tt.requestID {
				t.Errorf("requestID = %q, want %q", gotReq, tt.requestID)
			}
			if gotClient != tt.clientID {
				t.Errorf("clientID = %q, want %q", gotClient, tt.clientID)
			}
		})
	}
}

func TestDecodeMessageIDMalformed(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{name: "missing domain", id: "abc~def"},
		{name: "missing separator", id: "abcdef@domain"},
		{name: "invalid base64", id: "!!!~###@domain"},
		{name: "empty", id: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeMessageID(tt.id)
			if !errors.Is(err, ErrMalformedMessageID) {
				t.Errorf("expected ErrMalformedMessageID, got %v", err)
			}
		})
	}
}
