package notify

import (
	"context"
	"testing"
)

func TestTopicHelpers(t *testing.T) {
	p := New(Config{TopicBase: "attache", DeviceName: "homelab"}, nil, nil)

	if got := p.baseTopic(); got != "attache/homelab" {
		t.Errorf("baseTopic = %q", got)
	}
	if got := p.availabilityTopic(); got != "attache/homelab/availability" {
		t.Errorf("availabilityTopic = %q", got)
	}
	if got := p.stateTopic("uptime"); got != "attache/homelab/uptime/state" {
		t.Errorf("stateTopic = %q", got)
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	p := New(Config{Broker: "mqtt://broker:1883"}, nil, nil)
	if got := p.baseTopic(); got != "attache/attache" {
		t.Errorf("baseTopic = %q, want defaults applied", got)
	}
}

func TestAnnounceOnNilPublisherIsNoOp(t *testing.T) {
	var p *Publisher
	// Must not panic.
	p.Announce(context.Background(), Announcement{Kind: "chat_turn"})
	if err := p.Stop(context.Background()); err != nil {
		t.Errorf("Stop on nil publisher = %v", err)
	}
}

func TestAnnounceBeforeConnectIsNoOp(t *testing.T) {
	p := New(Config{Broker: "mqtt://broker:1883"}, nil, nil)
	p.Announce(context.Background(), Announcement{Kind: "chat_turn", User: "alice"})
}

func TestStartRejectsBadBrokerURL(t *testing.T) {
	p := New(Config{Broker: "://not-a-url"}, nil, nil)
	if err := p.Start(context.Background()); err == nil {
		t.Fatal("Start should fail on an unparseable broker URL")
	}
}
