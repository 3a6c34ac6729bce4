package pubsub

// Message defines a pubsub message.
type Message struct {
	Subject string
	Data    []byte
}

// Ack describes how far the broker took a published message.
// Persisted is only true for brokers that store the message before acknowledging.
type Ack struct {
	Stream    string
	Sequence  uint64
	Persisted bool
}
