// Chunk framer: splits/reassembles RTMP messages across fixed-size
// chunks per channel, preserving header compression (fmt 0..3).

package main

import (
	"encoding/binary"
)

// Message is a fully reassembled RTMP message: header plus complete
// body, handed up to the connection's dispatch once every byte of
// message_length has been accumulated.
type Message struct {
	Channel   uint32
	Timestamp uint32
	TypeID    byte
	StreamID  uint32
	Body      []byte
}

// channelHeader is the "last header" a chunk stream remembers, used to
// decompress fmt 1/2/3 headers that omit fields.
type channelHeader struct {
	timestamp uint32 // absolute timestamp of the most recently parsed/sent message
	delta     uint32
	length    uint32
	typeID    byte
	streamID  uint32
	extended  bool // whether the ts/delta field needed the 4-byte extension
}

type channelRecvState struct {
	hasHeader bool
	header    channelHeader

	inProgress bool
	bodyHeader channelHeader
	bodyAccum  []byte
}

// chunkDecoder reassembles one direction's inbound byte stream into
// complete Messages. At most one incomplete message per channel may be
// in flight, per the framer's invariant.
type chunkDecoder struct {
	inChunkSize uint32
	channels    map[uint32]*channelRecvState
	buf         []byte
}

func newChunkDecoder() *chunkDecoder {
	return &chunkDecoder{
		inChunkSize: defaultChunkSize,
		channels:    make(map[uint32]*channelRecvState),
	}
}

func (d *chunkDecoder) SetChunkSize(size uint32) error {
	if size < 1 || size > 16_777_215 {
		return newProtocolError(ErrBadChunkSize, "chunk size out of range")
	}
	d.inChunkSize = size
	return nil
}

func (d *chunkDecoder) channelState(id uint32) *channelRecvState {
	cs, ok := d.channels[id]
	if !ok {
		cs = &channelRecvState{}
		d.channels[id] = cs
	}
	return cs
}

// Push appends newly read bytes and returns every Message that became
// complete as a result. Left-over partial bytes remain buffered for
// the next Push call.
func (d *chunkDecoder) Push(data []byte) ([]Message, error) {
	d.buf = append(d.buf, data...)
	if len(d.buf) > maxConnectionBuffer {
		return nil, newProtocolError(ErrBufferTooLarge, "receive buffer exceeded cap")
	}

	var messages []Message
	for {
		consumed, msg, ok, err := d.tryParseOne(d.buf)
		if err != nil {
			return messages, err
		}
		if !ok {
			break
		}
		d.buf = d.buf[consumed:]
		if msg != nil {
			messages = append(messages, *msg)
		}
	}
	return messages, nil
}

// readBasicHeader parses the 1-3 byte basic header: fmt (top 2 bits of
// the first byte) and the channel id (bottom 6 bits, extended by 1 or
// 2 more bytes when those 6 bits are 0 or 1).
func readBasicHeader(buf []byte) (fmtID uint32, channel uint32, size int, ok bool) {
	if len(buf) < 1 {
		return 0, 0, 0, false
	}
	fmtID = uint32(buf[0] >> 6)
	low := uint32(buf[0] & 0x3f)

	switch low {
	case 0:
		if len(buf) < 2 {
			return 0, 0, 0, false
		}
		channel = 64 + uint32(buf[1])
		size = 2
	case 1:
		if len(buf) < 3 {
			return 0, 0, 0, false
		}
		channel = 64 + uint32(buf[1]) + uint32(buf[2])*256
		size = 3
	default:
		channel = low
		size = 1
	}
	return fmtID, channel, size, true
}

func readUint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func (d *chunkDecoder) tryParseOne(buf []byte) (consumed int, msg *Message, ok bool, err error) {
	fmtID, channel, basicLen, haveBasic := readBasicHeader(buf)
	if !haveBasic {
		return 0, nil, false, nil
	}

	cs := d.channelState(channel)

	if cs.inProgress {
		if fmtID != chunkFmt3 {
			return 0, nil, false, newProtocolError(ErrInterleavedMessage, "channel reused before current message completed")
		}
		headerLen := basicLen
		extra := 0
		if cs.bodyHeader.extended {
			extra = 4
		}
		remaining := cs.bodyHeader.length - uint32(len(cs.bodyAccum))
		bodyChunk := remaining
		if bodyChunk > d.inChunkSize {
			bodyChunk = d.inChunkSize
		}
		total := headerLen + extra + int(bodyChunk)
		if len(buf) < total {
			return 0, nil, false, nil
		}
		cs.bodyAccum = append(cs.bodyAccum, buf[headerLen+extra:total]...)
		if uint32(len(cs.bodyAccum)) == cs.bodyHeader.length {
			cs.inProgress = false
			cs.hasHeader = true
			cs.header = cs.bodyHeader
			m := Message{
				Channel:   channel,
				Timestamp: cs.bodyHeader.timestamp,
				TypeID:    cs.bodyHeader.typeID,
				StreamID:  cs.bodyHeader.streamID,
				Body:      cs.bodyAccum,
			}
			cs.bodyAccum = nil
			return total, &m, true, nil
		}
		return total, nil, true, nil
	}

	msgHdrLen := int(chunkMessageHeaderSize[fmtID])
	if len(buf) < basicLen+msgHdrLen {
		return 0, nil, false, nil
	}

	var hdr channelHeader
	var tsField uint32

	switch fmtID {
	case chunkFmt0:
		off := basicLen
		tsField = readUint24(buf[off:])
		hdr.length = readUint24(buf[off+3:])
		hdr.typeID = buf[off+6]
		hdr.streamID = binary.LittleEndian.Uint32(buf[off+7 : off+11])
	case chunkFmt1:
		if !cs.hasHeader {
			return 0, nil, false, newProtocolError(ErrBadChunkHeader, "fmt1 with no prior header on channel")
		}
		off := basicLen
		tsField = readUint24(buf[off:])
		hdr.length = readUint24(buf[off+3:])
		hdr.typeID = buf[off+6]
		hdr.streamID = cs.header.streamID
	case chunkFmt2:
		if !cs.hasHeader {
			return 0, nil, false, newProtocolError(ErrBadChunkHeader, "fmt2 with no prior header on channel")
		}
		off := basicLen
		tsField = readUint24(buf[off:])
		hdr.length = cs.header.length
		hdr.typeID = cs.header.typeID
		hdr.streamID = cs.header.streamID
	case chunkFmt3:
		if !cs.hasHeader {
			return 0, nil, false, newProtocolError(ErrBadChunkHeader, "fmt3 with no prior header on channel")
		}
		hdr.length = cs.header.length
		hdr.typeID = cs.header.typeID
		hdr.streamID = cs.header.streamID
		hdr.delta = cs.header.delta
		hdr.extended = cs.header.extended
	}

	extended := fmtID != chunkFmt3 && tsField == 0xFFFFFF
	extra := 0
	if extended {
		extra = 4
	} else if fmtID == chunkFmt3 && hdr.extended {
		extra = 4
	}

	headerTotal := basicLen + msgHdrLen + extra
	if len(buf) < headerTotal {
		return 0, nil, false, nil
	}

	if fmtID != chunkFmt3 {
		if extended {
			tsField = binary.BigEndian.Uint32(buf[basicLen+msgHdrLen : basicLen+msgHdrLen+4])
		}
		hdr.extended = extended
		switch fmtID {
		case chunkFmt0:
			hdr.timestamp = tsField
			hdr.delta = 0
		case chunkFmt1, chunkFmt2:
			hdr.delta = tsField
			hdr.timestamp = cs.header.timestamp + tsField
		}
	} else {
		// Repeat message reusing the previous header entirely; the
		// timestamp advances by the same delta again.
		hdr.timestamp = cs.header.timestamp + hdr.delta
	}

	bodyChunk := hdr.length
	if bodyChunk > d.inChunkSize {
		bodyChunk = d.inChunkSize
	}
	total := headerTotal + int(bodyChunk)
	if len(buf) < total {
		return 0, nil, false, nil
	}

	body := append([]byte(nil), buf[headerTotal:total]...)

	if uint32(len(body)) == hdr.length {
		cs.hasHeader = true
		cs.header = hdr
		m := Message{Channel: channel, Timestamp: hdr.timestamp, TypeID: hdr.typeID, StreamID: hdr.streamID, Body: body}
		return total, &m, true, nil
	}

	cs.inProgress = true
	cs.bodyHeader = hdr
	cs.bodyAccum = body
	return total, nil, true, nil
}

// chunkEncoder serializes outbound Messages, picking the smallest fmt
// given what was last sent on that channel.
type chunkEncoder struct {
	outChunkSize uint32
	channels     map[uint32]*channelHeader
}

func newChunkEncoder() *chunkEncoder {
	return &chunkEncoder{
		outChunkSize: defaultChunkSize,
		channels:     make(map[uint32]*channelHeader),
	}
}

func (e *chunkEncoder) SetChunkSize(size uint32) error {
	if size < 1 || size > 16_777_215 {
		return newProtocolError(ErrBadChunkSize, "chunk size out of range")
	}
	e.outChunkSize = size
	return nil
}

func writeBasicHeader(fmtID uint32, channel uint32) []byte {
	switch {
	case channel >= 64+256:
		return []byte{byte(fmtID<<6) | 1, byte((channel - 64) & 0xff), byte((channel - 64) >> 8 & 0xff)}
	case channel >= 64:
		return []byte{byte(fmtID << 6), byte((channel - 64) & 0xff)}
	default:
		return []byte{byte(fmtID<<6) | byte(channel)}
	}
}

func writeUint24(v uint32) []byte {
	return []byte{byte(v >> 16), byte(v >> 8), byte(v)}
}

// Encode serializes msg as one or more chunks, appending to out.
func (e *chunkEncoder) Encode(msg Message, out []byte) []byte {
	prev, hadPrev := e.channels[msg.Channel]

	var fmtID uint32
	var delta uint32

	switch {
	case !hadPrev:
		fmtID = chunkFmt0
	case prev.streamID != msg.StreamID:
		fmtID = chunkFmt0
	case prev.typeID != msg.TypeID || prev.length != uint32(len(msg.Body)):
		fmtID = chunkFmt1
		delta = msg.Timestamp - prev.timestamp
	default:
		delta = msg.Timestamp - prev.timestamp
		if delta == prev.delta {
			fmtID = chunkFmt3
		} else {
			fmtID = chunkFmt2
		}
	}

	tsField := msg.Timestamp
	if fmtID == chunkFmt1 || fmtID == chunkFmt2 {
		tsField = delta
	}
	extended := fmtID != chunkFmt3 && tsField >= 0xFFFFFF

	basic := writeBasicHeader(fmtID, msg.Channel)
	out = append(out, basic...)

	switch fmtID {
	case chunkFmt0:
		if extended {
			out = append(out, writeUint24(0xFFFFFF)...)
		} else {
			out = append(out, writeUint24(tsField)...)
		}
		out = append(out, writeUint24(uint32(len(msg.Body)))...)
		out = append(out, msg.TypeID)
		sid := make([]byte, 4)
		binary.LittleEndian.PutUint32(sid, msg.StreamID)
		out = append(out, sid...)
	case chunkFmt1:
		if extended {
			out = append(out, writeUint24(0xFFFFFF)...)
		} else {
			out = append(out, writeUint24(tsField)...)
		}
		out = append(out, writeUint24(uint32(len(msg.Body)))...)
		out = append(out, msg.TypeID)
	case chunkFmt2:
		if extended {
			out = append(out, writeUint24(0xFFFFFF)...)
		} else {
			out = append(out, writeUint24(tsField)...)
		}
	case chunkFmt3:
		// No header fields; extended timestamp (if the established
		// state for this channel uses one) is repeated below.
		if hadPrev && prev.extended {
			extended = true
		}
	}

	if extended {
		ext := make([]byte, 4)
		binary.BigEndian.PutUint32(ext, tsField)
		out = append(out, ext...)
	}

	basic3 := writeBasicHeader(chunkFmt3, msg.Channel)
	body := msg.Body
	for len(body) > 0 {
		n := len(body)
		if uint32(n) > e.outChunkSize {
			n = int(e.outChunkSize)
		}
		out = append(out, body[:n]...)
		body = body[n:]
		if len(body) > 0 {
			out = append(out, basic3...)
			if extended {
				ext := make([]byte, 4)
				binary.BigEndian.PutUint32(ext, tsField)
				out = append(out, ext...)
			}
		}
	}

	e.channels[msg.Channel] = &channelHeader{
		timestamp: msg.Timestamp,
		delta:     delta,
		length:    uint32(len(msg.Body)),
		typeID:    msg.TypeID,
		streamID:  msg.StreamID,
		extended:  extended,
	}

	return out
}
