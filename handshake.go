// RTMP handshake: the simple three-phase C0/S0 .. C2/S2 exchange (no
// Adobe HMAC digest scheme — this relay never needs to interoperate
// with the licensing check that handshake variant exists for).

package main

import (
	"math/rand"
)

type handshakeState int

const (
	handshakeUninitialized handshakeState = iota
	handshakeVersionReceived
	handshakeVersionSent
	handshakeAckSent
	handshakeDone
)

func (s handshakeState) String() string {
	switch s {
	case handshakeUninitialized:
		return "UNINITIALIZED"
	case handshakeVersionReceived:
		return "VERSION_RECEIVED"
	case handshakeVersionSent:
		return "VERSION_SENT"
	case handshakeAckSent:
		return "ACK_SENT"
	case handshakeDone:
		return "HANDSHAKE_DONE"
	default:
		return "?"
	}
}

// handshake drives one side of the 1 + 1536 + 1536 byte exchange. It
// never blocks: FeedAccepted/FeedDialed is called with whatever bytes are currently
// available and returns how many of them it consumed, plus any bytes
// that must be written back. The caller is responsible for buffering
// partial reads across ticks — per spec, the driver must not advance
// state until the exact byte count for the current phase is available.
type handshake struct {
	state      handshakeState
	accepted   bool // true = we are the receiver (accepted), false = dialing out
	rng        *rand.Rand
	ourC1      []byte // dialing side: remember our C1 to validate S2 isn't required, but keep for parity with a real client
	peerC1     []byte // receiver side: remembered to echo verbatim in S2
}

// newHandshake seeds a per-connection PRNG rather than a process-wide
// one, so handshake byte generation can be replayed deterministically
// in tests given the same seed.
func newHandshake(accepted bool, seed int64) *handshake {
	return &handshake{
		state:    handshakeUninitialized,
		accepted: accepted,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

func (h *handshake) Done() bool {
	return h.state == handshakeDone
}

// FeedAccepted advances the receiver-side handshake. Returns bytes to
// write (S0/S1/S2, possibly combined) and the number of input bytes
// consumed. A zero-length write with zero consumed means "need more
// bytes before anything can happen."
func (h *handshake) FeedAccepted(in []byte) (out []byte, consumed int, err error) {
	switch h.state {
	case handshakeUninitialized:
		if len(in) < 1 {
			return nil, 0, nil
		}
		c0 := in[0]
		if c0 != rtmpVersion {
			return nil, 0, newProtocolError(ErrUnsupportedVersion, "unsupported C0 version")
		}
		h.state = handshakeVersionReceived
		s0 := []byte{rtmpVersion}
		h.state = handshakeVersionSent
		return s0, 1, nil

	case handshakeVersionSent:
		if len(in) < rtmpHandshakeSize {
			return nil, 0, nil
		}
		c1 := make([]byte, rtmpHandshakeSize)
		copy(c1, in[:rtmpHandshakeSize])
		h.peerC1 = c1

		s1 := h.generateS1()
		s2 := make([]byte, rtmpHandshakeSize)
		copy(s2, c1) // S2 echoes C1 verbatim per the simple handshake
		h.state = handshakeAckSent
		return append(s1, s2...), rtmpHandshakeSize, nil

	case handshakeAckSent:
		if len(in) < rtmpHandshakeSize {
			return nil, 0, nil
		}
		// C2 content is unverified by design.
		h.state = handshakeDone
		return nil, rtmpHandshakeSize, nil

	default:
		return nil, 0, nil
	}
}

// Start begins the dialing-side handshake and returns C0/C1 to send.
func (h *handshake) Start() []byte {
	c0 := []byte{rtmpVersion}
	c1 := h.generateS1() // same shape: time=0 + random bytes
	h.ourC1 = c1
	h.state = handshakeVersionSent
	return append(c0, c1...)
}

// FeedDialed advances the dialing-side handshake after Start: it
// consumes S0/S1/S2 once all of them are available and replies with C2.
func (h *handshake) FeedDialed(in []byte) (out []byte, consumed int, err error) {
	switch h.state {
	case handshakeVersionSent:
		need := 1 + rtmpHandshakeSize + rtmpHandshakeSize
		if len(in) < need {
			return nil, 0, nil
		}
		s0 := in[0]
		if s0 != rtmpVersion {
			return nil, 0, newProtocolError(ErrUnsupportedVersion, "unsupported S0 version")
		}
		s1 := in[1 : 1+rtmpHandshakeSize]
		c2 := make([]byte, rtmpHandshakeSize)
		copy(c2, s1) // C2 echoes S1 verbatim, symmetric to the receiver side
		h.state = handshakeDone
		return c2, need, nil
	default:
		return nil, 0, nil
	}
}

// generateS1 builds a 1536-byte block: 4-byte time (always 0 for the
// simple handshake), 4-byte version tag, then PRNG random bytes.
func (h *handshake) generateS1() []byte {
	b := make([]byte, rtmpHandshakeSize)
	// b[0:4] time = 0, left zeroed
	b[4], b[5], b[6], b[7] = 0, 0, 0, 0 // version tag, kept zero like the peer's own C1
	h.rng.Read(b[8:])
	return b
}
