package main

import "testing"

func TestServerMatchesInputWildcard(t *testing.T) {
	desc := &ServerDescription{
		Inputs: []ConnDescription{
			{Kind: "host", ApplicationName: "", StreamName: ""},
		},
	}
	s := NewServer(1, desc)

	if !s.MatchesInput("anything", "whatever") {
		t.Fatalf("expected an empty-named input to match any app/stream")
	}
}

func TestServerMatchesInputExactNames(t *testing.T) {
	desc := &ServerDescription{
		Inputs: []ConnDescription{
			{Kind: "host", ApplicationName: "live", StreamName: "cam1"},
		},
	}
	s := NewServer(1, desc)

	if !s.MatchesInput("live", "cam1") {
		t.Fatalf("expected exact app/stream match to succeed")
	}
	if s.MatchesInput("live", "cam2") {
		t.Fatalf("expected a different stream name to not match")
	}
	if s.MatchesInput("vod", "cam1") {
		t.Fatalf("expected a different app name to not match")
	}
}

func TestServerMatchesInputIgnoresClientDescriptions(t *testing.T) {
	desc := &ServerDescription{
		Inputs: []ConnDescription{
			{Kind: "client", ApplicationName: "", StreamName: ""},
		},
	}
	s := NewServer(1, desc)

	if s.MatchesInput("live", "cam1") {
		t.Fatalf("a client-type input must never match an accepted publish")
	}
}

func TestServerReplayStateOrdering(t *testing.T) {
	s := NewServer(1, &ServerDescription{})
	s.BindPublisher(1, "live", "cam1")

	s.OnVideoHeader([]byte{0x17, 0})
	s.OnAudioHeader([]byte{0xAF, 0})
	meta := Amf0NewObject()
	s.OnMetadata(&meta)

	video, audio, gotMeta := s.ReplayState()
	if video == nil || audio == nil || gotMeta == nil {
		t.Fatalf("expected all three cached header slots to be populated")
	}
	if video[0] != 0x17 || audio[0] != 0xAF || gotMeta != &meta {
		t.Fatalf("expected ReplayState to return (video header, audio header, metadata) in that order")
	}
}

func TestServerUnbindPublisherClearsCacheButKeepsSubscribers(t *testing.T) {
	s := NewServer(1, &ServerDescription{})
	s.BindPublisher(1, "live", "cam1")
	s.OnVideoHeader([]byte{0x17, 0})
	s.AddSubscriber(42)

	s.UnbindPublisher()

	if s.HasPublisher() {
		t.Fatalf("expected HasPublisher to be false after UnbindPublisher")
	}
	video, _, _ := s.ReplayState()
	if video != nil {
		t.Fatalf("expected cached state to be cleared on unbind")
	}
	subs := s.Subscribers()
	if len(subs) != 1 || subs[0] != 42 {
		t.Fatalf("expected subscriber 42 to remain attached across a publisher cycle, got %v", subs)
	}
}
