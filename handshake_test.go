package main

import "testing"

func TestHandshakeAcceptedFullExchange(t *testing.T) {
	h := newHandshake(true, 1)

	c0 := []byte{rtmpVersion}
	out, n, err := h.FeedAccepted(c0)
	if err != nil {
		t.Fatalf("C0: %v", err)
	}
	if n != 1 || len(out) != 1 || out[0] != rtmpVersion {
		t.Fatalf("expected S0 reply to C0, got out=%v n=%d", out, n)
	}
	if h.state != handshakeVersionSent {
		t.Fatalf("expected state VERSION_SENT, got %s", h.state)
	}

	c1 := make([]byte, rtmpHandshakeSize)
	c1[8] = 0xAA
	out, n, err = h.FeedAccepted(c1)
	if err != nil {
		t.Fatalf("C1: %v", err)
	}
	if n != rtmpHandshakeSize {
		t.Fatalf("expected C1 to consume %d bytes, got %d", rtmpHandshakeSize, n)
	}
	if len(out) != 2*rtmpHandshakeSize {
		t.Fatalf("expected S1+S2 (%d bytes), got %d", 2*rtmpHandshakeSize, len(out))
	}
	s2 := out[rtmpHandshakeSize:]
	for i := range s2 {
		if s2[i] != c1[i] {
			t.Fatalf("expected S2 to echo C1 verbatim, diverged at byte %d", i)
		}
	}
	if h.state != handshakeAckSent {
		t.Fatalf("expected state ACK_SENT, got %s", h.state)
	}

	c2 := make([]byte, rtmpHandshakeSize)
	out, n, err = h.FeedAccepted(c2)
	if err != nil {
		t.Fatalf("C2: %v", err)
	}
	if n != rtmpHandshakeSize || out != nil {
		t.Fatalf("expected C2 to consume %d bytes with no reply, got out=%v n=%d", rtmpHandshakeSize, out, n)
	}
	if !h.Done() {
		t.Fatalf("expected handshake to be done after C2")
	}
}

func TestHandshakeAcceptedRejectsUnsupportedVersion(t *testing.T) {
	h := newHandshake(true, 1)
	_, _, err := h.FeedAccepted([]byte{rtmpVersion + 1})
	if err == nil {
		t.Fatalf("expected an unsupported C0 version to fail")
	}
	pe, ok := err.(*ProtocolError)
	if !ok || pe.Kind != ErrUnsupportedVersion {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestHandshakeAcceptedWaitsForFullC1(t *testing.T) {
	h := newHandshake(true, 1)
	if _, _, err := h.FeedAccepted([]byte{rtmpVersion}); err != nil {
		t.Fatalf("C0: %v", err)
	}

	out, n, err := h.FeedAccepted(make([]byte, rtmpHandshakeSize-1))
	if err != nil {
		t.Fatalf("partial C1: %v", err)
	}
	if n != 0 || out != nil {
		t.Fatalf("expected a partial C1 to consume nothing and produce nothing, got out=%v n=%d", out, n)
	}
	if h.state != handshakeVersionSent {
		t.Fatalf("expected state to remain VERSION_SENT on a partial C1, got %s", h.state)
	}
}

func TestHandshakeDialedFullExchange(t *testing.T) {
	h := newHandshake(false, 2)

	c0c1 := h.Start()
	if len(c0c1) != 1+rtmpHandshakeSize {
		t.Fatalf("expected Start to produce C0+C1 (%d bytes), got %d", 1+rtmpHandshakeSize, len(c0c1))
	}
	if c0c1[0] != rtmpVersion {
		t.Fatalf("expected C0 to carry rtmpVersion")
	}
	if h.state != handshakeVersionSent {
		t.Fatalf("expected state VERSION_SENT after Start, got %s", h.state)
	}

	s0 := []byte{rtmpVersion}
	s1 := make([]byte, rtmpHandshakeSize)
	s1[8] = 0x55
	s2 := make([]byte, rtmpHandshakeSize)
	copy(s2, h.ourC1)

	var in []byte
	in = append(in, s0...)
	in = append(in, s1...)
	in = append(in, s2...)

	out, n, err := h.FeedDialed(in)
	if err != nil {
		t.Fatalf("FeedDialed: %v", err)
	}
	if n != len(in) {
		t.Fatalf("expected FeedDialed to consume all %d bytes, got %d", len(in), n)
	}
	if len(out) != rtmpHandshakeSize {
		t.Fatalf("expected a C2 reply of %d bytes, got %d", rtmpHandshakeSize, len(out))
	}
	for i := range out {
		if out[i] != s1[i] {
			t.Fatalf("expected C2 to echo S1 verbatim, diverged at byte %d", i)
		}
	}
	if !h.Done() {
		t.Fatalf("expected handshake to be done after consuming S0/S1/S2")
	}
}

func TestHandshakeDialedRejectsUnsupportedVersion(t *testing.T) {
	h := newHandshake(false, 2)
	h.Start()

	in := make([]byte, 1+2*rtmpHandshakeSize)
	in[0] = rtmpVersion + 1
	_, _, err := h.FeedDialed(in)
	if err == nil {
		t.Fatalf("expected an unsupported S0 version to fail")
	}
	pe, ok := err.(*ProtocolError)
	if !ok || pe.Kind != ErrUnsupportedVersion {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestHandshakeDialedWaitsForFullReply(t *testing.T) {
	h := newHandshake(false, 2)
	h.Start()

	out, n, err := h.FeedDialed(make([]byte, 1+rtmpHandshakeSize))
	if err != nil {
		t.Fatalf("partial S0/S1/S2: %v", err)
	}
	if n != 0 || out != nil {
		t.Fatalf("expected a partial S0/S1/S2 to consume nothing and produce nothing, got out=%v n=%d", out, n)
	}
	if h.Done() {
		t.Fatalf("expected handshake to not be done on a partial reply")
	}
}
