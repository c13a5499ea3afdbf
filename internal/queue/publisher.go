package queue

// Publisher is the minimal interface the change ingest handler needs.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// BatchPublisher is optional; array submissions use it to publish in one
// nsqd round-trip.
type BatchPublisher interface {
	Publisher
	MultiPublish(topic string, bodies [][]byte) error
}

// Pinger is implemented by publishers that can report connectivity.
type Pinger interface {
	Ping() error
}
