// Command dispatch: AMF0 invoke (type 20) and notify (type 18) framing
// plus the connect/createStream/publish/play dialogue, for both roles.
//
// Grounded on the teacher's rtmp_session_utils.go (SendInvokeMessage,
// SendDataMessage, RespondConnect, RespondCreateStream, RespondPlay,
// SetChunkSize/SendACK/SendWindowACK/SetPeerBandwidth/SendPingRequest)
// and rtmp_session.go's command switch, generalized to the relay's
// role/mode semantics instead of the teacher's fixed publish-or-play
// split (original_source/PushReceiver.cpp supplies the PUSH/PULL
// invoke chains a receiver-only server never needed).

package main

import "fmt"

// dispatchMessage routes one fully reassembled chunk-stream message by
// its RTMP message type id.
func (c *Connection) dispatchMessage(m Message) error {
	switch m.TypeID {
	case typeSetChunkSize:
		return c.onSetChunkSize(m)
	case typeAbort:
		// Discard the partially received message on the named chunk stream.
		if len(m.Body) < 4 {
			return newProtocolError(ErrTruncated, "short ABORT")
		}
		id := uint32(m.Body[0])<<24 | readUint24(m.Body[1:4])
		if cs, ok := c.dec.channels[id]; ok {
			cs.inProgress = false
			cs.bodyAccum = nil
		}
		return nil
	case typeAcknowledgement:
		return nil // we do not throttle on peer acks
	case typeUserControl:
		return nil // ping requests/responses: no action required of a relay
	case typeWindowAckSize:
		return nil
	case typeSetPeerBandwidth:
		return nil
	case typeAudio:
		return c.onAudio(m)
	case typeVideo:
		return c.onVideo(m)
	case typeData:
		return c.onDataMessage(m)
	case typeInvoke:
		return c.onInvoke(m)
	case typeFlexMessage:
		// AMF3 command: first byte is a version marker, rest is AMF0-compatible.
		if len(m.Body) < 1 {
			return newProtocolError(ErrTruncated, "empty AMF3 command")
		}
		return c.onInvoke(Message{Channel: m.Channel, Timestamp: m.Timestamp, TypeID: typeInvoke, StreamID: m.StreamID, Body: m.Body[1:]})
	default:
		return nil // aggregate, shared object, flex data/object: not produced by any supported peer
	}
}

func (c *Connection) onSetChunkSize(m Message) error {
	if len(m.Body) < 4 {
		return newProtocolError(ErrTruncated, "short SET_CHUNK_SIZE")
	}
	size := readUint24(m.Body[1:4]) | uint32(m.Body[0])<<24
	return c.dec.SetChunkSize(size)
}

// userControlEventPingRequest is event type 6, not one of the stream
// lifecycle events constants.go names — it carries a 4-byte timestamp
// instead of a stream id.
const userControlEventPingRequest = 6

func (c *Connection) sendPing() {
	ts := uint32(c.relay.now().Sub(c.connectTime).Milliseconds())
	body := []byte{0, userControlEventPingRequest, byte(ts >> 24), byte(ts >> 16), byte(ts >> 8), byte(ts)}
	c.sendControl(typeUserControl, body)
}

func (c *Connection) sendControl(typeID byte, body []byte) {
	msg := Message{Channel: channelProtocol, StreamID: reservedStreamIDControl, TypeID: typeID, Body: body}
	c.send(c.enc.Encode(msg, nil))
}

func (c *Connection) sendSetChunkSize(size uint32) {
	body := []byte{byte(size >> 24 & 0x7f), byte(size >> 16), byte(size >> 8), byte(size)}
	c.enc.SetChunkSize(size)
	c.sendControl(typeSetChunkSize, body)
}

func (c *Connection) sendWindowAckSize(size uint32) {
	body := []byte{byte(size >> 24), byte(size >> 16), byte(size >> 8), byte(size)}
	c.sendControl(typeWindowAckSize, body)
}

func (c *Connection) sendPeerBandwidth(size uint32, limitType byte) {
	body := append(writeUint24(size), limitType)
	c.sendControl(typeSetPeerBandwidth, body)
}

// sendInvoke encodes and transmits an AMF0 command (connect, invoke
// results, publish/play responses, ...) on the invoke channel.
func (c *Connection) sendInvoke(streamID uint32, values ...Amf0Value) {
	body := make([]byte, 0, 256)
	for _, v := range values {
		body = append(body, amf0Encode(v)...)
	}
	msg := Message{Channel: channelInvoke, StreamID: streamID, TypeID: typeInvoke, Body: body}
	c.send(c.enc.Encode(msg, nil))
}

func (c *Connection) sendData(streamID uint32, values ...Amf0Value) {
	body := make([]byte, 0, 128)
	for _, v := range values {
		body = append(body, amf0Encode(v)...)
	}
	msg := Message{Channel: channelData, StreamID: streamID, TypeID: typeData, Body: body}
	c.send(c.enc.Encode(msg, nil))
}

func decodeAmf0Sequence(body []byte) ([]Amf0Value, error) {
	var values []Amf0Value
	offset := 0
	for offset < len(body) {
		v, n, err := amf0Decode(body, offset)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		offset += n
	}
	return values, nil
}

// onInvoke handles a receiver-role command, or a response to one of
// our own outstanding sender-role invokes.
func (c *Connection) onInvoke(m Message) error {
	values, err := decodeAmf0Sequence(m.Body)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		return newProtocolError(ErrBadAmf0, "empty invoke")
	}
	name, err := values[0].AsString()
	if err != nil {
		return newProtocolError(ErrBadAmf0, "invoke command name must be a string")
	}

	if name == "_result" || name == "_error" {
		return c.onInvokeReply(name, values)
	}

	if c.role == RoleSender {
		// A dialed connection only ever receives replies to its own
		// invokes; an unsolicited command here is out of protocol.
		return newProtocolError(ErrUnexpectedCommand, "dialed connection received unsolicited command "+name)
	}

	var tid uint32
	if len(values) > 1 {
		if n, err := values[1].AsNumber(); err == nil {
			tid = uint32(n)
		}
	}

	switch name {
	case "connect":
		return c.handleConnect(tid, values)
	case "_checkbw":
		return nil
	case "createStream":
		return c.handleCreateStream(tid)
	case "releaseStream", "FCPublish", "FCUnpublish":
		return nil // bookkeeping-only commands some encoders send; no relay-visible effect
	case "publish":
		return c.handlePublish(m.StreamID, values)
	case "play", "getStreamLength":
		return newProtocolError(ErrUnexpectedCommand, "accepted connections may not "+name)
	case "deleteStream":
		return c.handleDeleteStream()
	default:
		return nil
	}
}

func (c *Connection) onInvokeReply(name string, values []Amf0Value) error {
	if len(values) < 2 {
		return newProtocolError(ErrBadAmf0, "reply missing transaction id")
	}
	tidNum, err := values[1].AsNumber()
	if err != nil {
		return newProtocolError(ErrBadAmf0, "reply transaction id must be a number")
	}
	tid := uint32(tidNum)
	pending, ok := c.outstanding[tid]
	if !ok {
		return nil // reply to an invoke we no longer track; ignore
	}
	delete(c.outstanding, tid)

	if name == "_error" {
		return newProtocolError(ErrUnexpectedCommand, "peer rejected "+pending.command)
	}

	switch pending.command {
	case "connect":
		return c.afterConnectAccepted()
	case "createStream":
		if len(values) >= 4 {
			if n, err := values[3].AsNumber(); err == nil {
				c.createdStreamID = uint32(n)
			}
		}
		return c.afterCreateStreamAccepted()
	case "releaseStream", "FCPublish", "publish", "play":
		return nil
	}
	return nil
}

// handleConnect: first command every accepted connection must send.
func (c *Connection) handleConnect(tid uint32, values []Amf0Value) error {
	if len(values) < 3 {
		return newProtocolError(ErrBadAmf0, "connect missing command object")
	}
	appName := ""
	if props, ok := values[2].Get("app"); ok {
		if s, err := props.AsString(); err == nil {
			appName = s
		}
	}
	c.appName = appName

	c.sendWindowAckSize(defaultServerBandwidth)
	c.sendPeerBandwidth(defaultServerBandwidth, 2)
	c.sendSetChunkSize(defaultChunkSize)

	result := Amf0NewObject()
	result.Set("fmsVer", Amf0NewString("FMS/3,0,1,123"))
	result.Set("capabilities", Amf0NewNumber(31))

	info := Amf0NewObject()
	info.Set("level", Amf0NewString("status"))
	info.Set("code", Amf0NewString("NetConnection.Connect.Success"))
	info.Set("description", Amf0NewString("Connection succeeded."))

	c.sendInvoke(0, Amf0NewString("_result"), Amf0NewNumber(float64(tid)), result, info)
	return nil
}

// nextCreateStreamID hands out strictly increasing stream ids, skipping
// the reserved control (0) and protocol (2) ids (spec.md §8).
func (c *Connection) nextCreateStreamID() uint32 {
	c.nextStreamID++
	for c.nextStreamID == reservedStreamIDControl || c.nextStreamID == reservedStreamIDProtocol {
		c.nextStreamID++
	}
	return c.nextStreamID
}

func (c *Connection) handleCreateStream(tid uint32) error {
	streamID := c.nextCreateStreamID()
	c.sendInvoke(0, Amf0NewString("_result"), Amf0NewNumber(float64(tid)), Amf0NewNull(), Amf0NewNumber(float64(streamID)))
	return nil
}

func (c *Connection) handlePublish(streamID uint32, values []Amf0Value) error {
	if len(values) < 4 {
		return newProtocolError(ErrBadAmf0, "publish missing stream name")
	}
	name, err := values[3].AsString()
	if err != nil {
		return newProtocolError(ErrBadAmf0, "publish stream name must be a string")
	}
	c.streamName = name
	c.mode = ModePublisher

	status := Amf0NewObject()
	status.Set("level", Amf0NewString("status"))
	status.Set("code", Amf0NewString("NetStream.Publish.Start"))
	status.Set("description", Amf0NewString(fmt.Sprintf("%s is now published.", name)))
	c.sendInvoke(streamID, Amf0NewString("onStatus"), Amf0NewNumber(0), Amf0NewNull(), status)

	c.phase = phaseActive
	return c.relay.onPublisherReady(c)
}

func (c *Connection) handleDeleteStream() error {
	if c.hasServer {
		c.relay.onConnectionDetached(c)
		c.hasServer = false
	}
	return nil
}

// beginDialInvokeChain starts a dialed connection's invoke sequence
// once the handshake completes: PUSH egress connects then publishes,
// PULL ingress connects then plays.
func (c *Connection) beginDialInvokeChain() {
	tid := c.nextTID()
	c.outstanding[tid] = pendingInvoke{command: "connect"}

	cmdObj := Amf0NewObject()
	cmdObj.Set("app", Amf0NewString(c.outputApplicationName()))
	cmdObj.Set("type", Amf0NewString("nonprivate"))
	cmdObj.Set("flashVer", Amf0NewString("FMLE/3.0"))

	c.sendInvoke(0, Amf0NewString("connect"), Amf0NewNumber(float64(tid)), cmdObj)
}

func (c *Connection) afterConnectAccepted() error {
	tid := c.nextTID()
	c.outstanding[tid] = pendingInvoke{command: "createStream"}
	c.sendInvoke(0, Amf0NewString("createStream"), Amf0NewNumber(float64(tid)), Amf0NewNull())
	return nil
}

func (c *Connection) afterCreateStreamAccepted() error {
	streamID := c.createdStreamID
	if streamID == 0 {
		streamID = 1
	}

	if c.mode == ModeSubscriber {
		// PUSH: we publish the local server's stream out to the peer.
		tid := c.nextTID()
		c.outstanding[tid] = pendingInvoke{command: "publish"}
		name := c.outputStreamName()
		c.sendInvoke(streamID, Amf0NewString("publish"), Amf0NewNumber(float64(tid)), Amf0NewNull(), Amf0NewString(name), Amf0NewString("live"))
		c.phase = phaseActive
		return c.relay.onSubscriberReady(c)
	}

	// PULL: we play a remote stream into the local server.
	tid := c.nextTID()
	c.outstanding[tid] = pendingInvoke{command: "play"}
	name := c.inputStreamName()
	c.sendInvoke(streamID, Amf0NewString("play"), Amf0NewNumber(float64(tid)), Amf0NewNull(), Amf0NewString(name))
	c.phase = phaseActive
	c.mode = ModePublisher
	return c.relay.onPublisherReady(c)
}

func (c *Connection) outputStreamName() string {
	if c.desc.OverrideStreamName != "" {
		return c.desc.OverrideStreamName
	}
	return c.streamName
}

func (c *Connection) outputApplicationName() string {
	if c.desc.OverrideApplicationName != "" {
		return c.desc.OverrideApplicationName
	}
	return c.appName
}

func (c *Connection) inputStreamName() string {
	if c.desc.StreamName != "" {
		return c.desc.StreamName
	}
	return c.streamName
}
