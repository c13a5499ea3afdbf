package queue

import (
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestNewNSQPublisher_EmptyAddr(t *testing.T) {
	t.Parallel()

	if _, err := NewNSQPublisher("", nil); err == nil {
		t.Fatalf("expected error for empty address")
	}
}

func TestNSQPublisher_PublishAndStop_NoNSQD(t *testing.T) {
	t.Parallel()

	// NewProducer does not connect eagerly; Publish and Ping should error if no nsqd is running.
	p, err := NewNSQPublisher("127.0.0.1:1", zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewNSQPublisher: %v", err)
	}
	if err := p.Publish("ad-changes", []byte("hello")); err == nil {
		t.Fatalf("expected publish error without nsqd")
	}
	if err := p.Ping(); err == nil {
		t.Fatalf("expected ping error without nsqd")
	}
	p.Stop()
}

func TestNSQPublisher_RejectsInvalidTopic(t *testing.T) {
	t.Parallel()

	p, err := NewNSQPublisher("127.0.0.1:1", nil)
	if err != nil {
		t.Fatalf("NewNSQPublisher: %v", err)
	}
	defer p.Stop()

	if err := p.Publish("bad topic!", []byte("x")); err == nil || !strings.Contains(err.Error(), "invalid nsq topic") {
		t.Fatalf("expected invalid topic error, got %v", err)
	}
	if err := p.MultiPublish("", [][]byte{[]byte("x")}); err == nil {
		t.Fatalf("expected invalid topic error for empty name")
	}
}
