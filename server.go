// Server: the routing unit spec.md §4.E describes — one per configured
// server block, binding at most one publisher to any number of
// subscribers and replaying cached codec headers/metadata to latecomers.
//
// Grounded on the teacher's rtmp_server.go (publisher/player bookkeeping,
// isPublishing/GetPublisher/SetPublisher/RemovePublisher, GetPlayers/
// AddPlayer/RemovePlayer) and rtmp_publisher.go (StartIdlePlayers,
// StartPlayer, EndPublish, SetMetaData) — the header-replay-before-
// live-frame order below is that file's StartPlayer sequence.

package main

// ServerID and ConnectionID are stable handles into the Relay's arenas;
// neither a Connection nor a Server holds the other directly, per
// spec.md §9's no-pointer-cycle design — only a Relay can resolve one
// from the other.
type ServerID uint64
type ConnectionID uint64

// Server is one configured routing point: a single publisher (an
// accepted connection or a dialed PULL connection) feeds zero or more
// subscriber connections (dialed PUSH egress connections).
type Server struct {
	id   ServerID
	desc *ServerDescription

	publisherID   ConnectionID
	hasPublisher  bool
	activeAppName string
	activeStream  string

	subscribers map[ConnectionID]struct{}

	cachedVideoHeader []byte
	cachedAudioHeader []byte
	cachedMetadata    *Amf0Value
}

func NewServer(id ServerID, desc *ServerDescription) *Server {
	return &Server{
		id:          id,
		desc:        desc,
		subscribers: make(map[ConnectionID]struct{}),
	}
}

// MatchesInput reports whether an accepted connection publishing to
// (appName, streamName) should bind to this server, per spec.md §4.E's
// matching rule: an empty configured name matches anything; both must
// agree when non-empty.
func (s *Server) MatchesInput(appName, streamName string) bool {
	for _, in := range s.desc.Inputs {
		if in.Kind != "host" {
			continue
		}
		if in.ApplicationName != "" && in.ApplicationName != appName {
			continue
		}
		if in.StreamName != "" && in.StreamName != streamName {
			continue
		}
		return true
	}
	return false
}

func (s *Server) HasPublisher() bool {
	return s.hasPublisher
}

func (s *Server) PublisherID() (ConnectionID, bool) {
	return s.publisherID, s.hasPublisher
}

// BindPublisher installs the publishing connection and clears any stale
// cached state from a previous publish cycle on this server.
func (s *Server) BindPublisher(id ConnectionID, appName, streamName string) {
	s.publisherID = id
	s.hasPublisher = true
	s.activeAppName = appName
	s.activeStream = streamName
	s.cachedVideoHeader = nil
	s.cachedAudioHeader = nil
	s.cachedMetadata = nil
}

// UnbindPublisher clears publisher state; subscribers remain attached
// (idle) so a reconnecting publisher resumes feeding them without churn.
func (s *Server) UnbindPublisher() {
	s.hasPublisher = false
	s.publisherID = 0
	s.cachedVideoHeader = nil
	s.cachedAudioHeader = nil
	s.cachedMetadata = nil
}

func (s *Server) AddSubscriber(id ConnectionID) {
	s.subscribers[id] = struct{}{}
}

func (s *Server) RemoveSubscriber(id ConnectionID) {
	delete(s.subscribers, id)
}

func (s *Server) Subscribers() []ConnectionID {
	out := make([]ConnectionID, 0, len(s.subscribers))
	for id := range s.subscribers {
		out = append(out, id)
	}
	return out
}

// OnVideoHeader/OnAudioHeader/OnMetadata latch the codec configuration
// a fresh subscriber must replay before any live frame (StartPlayer's
// "video header, then audio header, then metadata" order).
func (s *Server) OnVideoHeader(data []byte) {
	s.cachedVideoHeader = append([]byte(nil), data...)
}

func (s *Server) OnAudioHeader(data []byte) {
	s.cachedAudioHeader = append([]byte(nil), data...)
}

func (s *Server) OnMetadata(meta *Amf0Value) {
	s.cachedMetadata = meta
}

// ReplayState returns what a newly attached subscriber must be sent,
// in order, before it starts receiving live frames: video header, audio
// header, then metadata. Live frames after that carry their own
// timestamps; no historical frames are backfilled.
func (s *Server) ReplayState() (videoHeader, audioHeader []byte, metadata *Amf0Value) {
	return s.cachedVideoHeader, s.cachedAudioHeader, s.cachedMetadata
}

func (s *Server) StreamIdentity() (appName, streamName string) {
	return s.activeAppName, s.activeStream
}
