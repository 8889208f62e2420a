// Media: audio/video/data forwarding between a bound Server and its
// publisher/subscribers, plus the codec-header detection that decides
// what gets cached for late-joining subscribers.
//
// Grounded on the teacher's rtmp_session_utils.go (SendAudioCodecHeader,
// SendVideoCodecHeader, SendMetadata, BuildMetadata, SendCachePacket)
// and rtmp_publisher.go (SetMetaData's @setDataFrame handling).

package main

// isVideoHeader/isAudioHeader detect AVC/AAC sequence headers: for
// both codecs, the second payload byte is the packet type, and 0 means
// "sequence header" (codec configuration, not a frame).
func isVideoHeader(body []byte) bool {
	if len(body) < 2 {
		return false
	}
	codecID := body[0] & 0x0f
	return (codecID == 7 || codecID == 12) && body[1] == 0 // AVC or HEVC
}

func isAudioHeader(body []byte) bool {
	if len(body) < 2 {
		return false
	}
	format := body[0] >> 4
	return format == 10 && body[1] == 0 // AAC sequence header
}

func (c *Connection) onVideo(m Message) error {
	if c.role != RoleReceiver && c.mode != ModePublisher {
		return newProtocolError(ErrUnexpectedCommand, "video from a non-publishing connection")
	}
	c.videoBytesWindow += uint64(len(m.Body))
	if !c.hasServer {
		return nil
	}
	return c.relay.onVideoFrame(c, m)
}

func (c *Connection) onAudio(m Message) error {
	if c.role != RoleReceiver && c.mode != ModePublisher {
		return newProtocolError(ErrUnexpectedCommand, "audio from a non-publishing connection")
	}
	c.audioBytesWindow += uint64(len(m.Body))
	if !c.hasServer {
		return nil
	}
	return c.relay.onAudioFrame(c, m)
}

func (c *Connection) onDataMessage(m Message) error {
	values, err := decodeAmf0Sequence(m.Body)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}
	name, err := values[0].AsString()
	if err != nil {
		return nil
	}

	switch name {
	case "@setDataFrame":
		if len(values) < 3 {
			return nil
		}
		if !c.hasServer {
			return nil
		}
		return c.relay.onMetadata(c, values[2])
	case "onMetaData":
		if len(values) < 2 || !c.hasServer {
			return nil
		}
		return c.relay.onMetadata(c, values[1])
	default:
		if !c.hasServer {
			return nil
		}
		return c.relay.onTextData(c, values)
	}
}

// Sink-side methods: only ever called on a dialed, mode Subscriber
// connection (the only kind of connection that ever receives forwarded
// media in this relay — see connection.go's role/mode note).

func (c *Connection) SendVideoHeader(ts uint32, data []byte) {
	c.sendMediaMessage(channelVideo, typeVideo, ts, data)
}

func (c *Connection) SendAudioHeader(ts uint32, data []byte) {
	c.sendMediaMessage(channelAudio, typeAudio, ts, data)
}

func (c *Connection) SendVideo(ts uint32, data []byte) {
	c.sendMediaMessage(channelVideo, typeVideo, ts, data)
}

func (c *Connection) SendAudio(ts uint32, data []byte) {
	c.sendMediaMessage(channelAudio, typeAudio, ts, data)
}

func (c *Connection) sendMediaMessage(channel uint32, typeID byte, ts uint32, data []byte) {
	streamID := c.createdStreamID
	if streamID == 0 {
		streamID = 1
	}
	if channel == channelVideo {
		c.videoBytesWindow += uint64(len(data))
	} else if channel == channelAudio {
		c.audioBytesWindow += uint64(len(data))
	}
	msg := Message{Channel: channel, Timestamp: ts, TypeID: typeID, StreamID: streamID, Body: data}
	c.send(c.enc.Encode(msg, nil))
}

func (c *Connection) SendMetadata(meta *Amf0Value) {
	if meta == nil {
		return
	}
	streamID := c.createdStreamID
	if streamID == 0 {
		streamID = 1
	}
	c.sendData(streamID, Amf0NewString("onMetaData"), *meta)
}

func (c *Connection) SendTextData(values []Amf0Value) {
	streamID := c.createdStreamID
	if streamID == 0 {
		streamID = 1
	}
	c.sendData(streamID, values...)
}
