// RTMP protocol constants

package main

const rtmpVersion = 0x03

const rtmpHandshakeSize = 1536

const maxChunkHeaderSize = 18

const chunkFmt0 = 0 // 11 bytes: timestamp(3) + length(3) + type(1) + stream id(4)
const chunkFmt1 = 1 // 7 bytes: delta(3) + length(3) + type(1)
const chunkFmt2 = 2 // 3 bytes: delta(3)
const chunkFmt3 = 3 // 0 bytes

var chunkMessageHeaderSize = [4]uint32{11, 7, 3, 0}

const channelProtocol = 2
const channelInvoke = 3
const channelAudio = 4
const channelVideo = 5
const channelData = 6

// Protocol control messages
const typeSetChunkSize = 1
const typeAbort = 2
const typeAcknowledgement = 3
const typeUserControl = 4
const typeWindowAckSize = 5 // "server bandwidth"
const typeSetPeerBandwidth = 6 // "client bandwidth"

const typeAudio = 8
const typeVideo = 9

const typeFlexStream = 15 // AMF3, unsupported
const typeData = 18       // AMF0 notify
const typeFlexObject = 16 // AMF3, unsupported
const typeSharedObject = 19
const typeFlexMessage = 17 // AMF3 command; handled as AMF0 after its leading version byte
const typeInvoke = 20
const typeAggregate = 22

const userControlStreamBegin = 0x00
const userControlStreamEOF = 0x01
const userControlStreamDry = 0x02
const userControlStreamEmpty = 0x1f
const userControlStreamReady = 0x20

const defaultChunkSize = 128
const defaultServerBandwidth = 2_500_000

// Reserved stream ids that createStream must never hand out.
const reservedStreamIDControl = 0
const reservedStreamIDProtocol = 2

const maxConnectionBuffer = 16 * 1024 * 1024 // open question (a): cap receive buffer growth

const tickInterval = 10 // milliseconds
