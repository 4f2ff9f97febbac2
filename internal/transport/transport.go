// Package transport fans computed digests out to other consumers over
// NATS, the way cc-backend's pkg/nats client wraps nats.go with
// reconnect/error handling, with each message encoded as Avro binary
// via linkedin/goavro the way cc-backend's memorystore checkpoints do.
package transport

import (
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/linkedin/goavro/v2"
	"github.com/nats-io/nats.go"
)

const digestEventSchema = `{
	"type": "record",
	"name": "DigestEvent",
	"fields": [
		{"name": "digest",      "type": "string"},
		{"name": "source",      "type": "string"},
		{"name": "lines",       "type": "int"},
		{"name": "stats",       "type": "long"},
		{"name": "verdict",     "type": "string"},
		{"name": "computed_at", "type": "long"}
	]
}`

// DigestEvent is one computed digest as published over NATS.
type DigestEvent struct {
	Digest     string
	Source     string
	Lines      int
	Stats      uint32
	Verdict    string
	ComputedAt int64
}

// Codec encodes and decodes DigestEvents as Avro binary.
type Codec struct {
	codec *goavro.Codec
}

// NewCodec compiles the DigestEvent Avro schema.
func NewCodec() (*Codec, error) {
	c, err := goavro.NewCodec(digestEventSchema)
	if err != nil {
		return nil, fmt.Errorf("transport: compiling avro schema: %w", err)
	}
	return &Codec{codec: c}, nil
}

// Encode serializes ev to Avro binary.
func (c *Codec) Encode(ev DigestEvent) ([]byte, error) {
	native := map[string]interface{}{
		"digest":      ev.Digest,
		"source":      ev.Source,
		"lines":       int32(ev.Lines),
		"stats":       int64(ev.Stats),
		"verdict":     ev.Verdict,
		"computed_at": ev.ComputedAt,
	}
	return c.codec.BinaryFromNative(nil, native)
}

// Decode parses Avro binary back into a DigestEvent.
func (c *Codec) Decode(data []byte) (DigestEvent, error) {
	native, _, err := c.codec.NativeFromBinary(data)
	if err != nil {
		return DigestEvent{}, fmt.Errorf("transport: decoding avro: %w", err)
	}
	rec, ok := native.(map[string]interface{})
	if !ok {
		return DigestEvent{}, fmt.Errorf("transport: unexpected avro record shape")
	}
	return DigestEvent{
		Digest:     rec["digest"].(string),
		Source:     rec["source"].(string),
		Lines:      int(rec["lines"].(int32)),
		Stats:      uint32(rec["stats"].(int64)),
		Verdict:    rec["verdict"].(string),
		ComputedAt: rec["computed_at"].(int64),
	}, nil
}

// Publisher publishes DigestEvents to a NATS subject.
type Publisher struct {
	conn    *nats.Conn
	codec   *Codec
	subject string
	mu      sync.Mutex
}

// Connect dials addr and prepares a Publisher for subject.
func Connect(addr, subject string) (*Publisher, error) {
	codec, err := NewCodec()
	if err != nil {
		return nil, err
	}

	conn, err := nats.Connect(addr,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("transport: disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("transport: reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error("transport: error", "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("transport: connecting to %s: %w", addr, err)
	}

	return &Publisher{conn: conn, codec: codec, subject: subject}, nil
}

// Publish sends ev to the configured subject.
func (p *Publisher) Publish(ev DigestEvent) error {
	data, err := p.codec.Encode(ev)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("transport: publishing to %s: %w", p.subject, err)
	}
	return nil
}

// Close flushes and closes the underlying connection.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.Flush()
	p.conn.Close()
}

// Subscriber receives DigestEvents from a NATS subject.
type Subscriber struct {
	sub   *nats.Subscription
	codec *Codec
}

// Subscribe registers handler to be called with each decoded DigestEvent
// received on subject.
func Subscribe(conn *nats.Conn, subject string, handler func(DigestEvent)) (*Subscriber, error) {
	codec, err := NewCodec()
	if err != nil {
		return nil, err
	}

	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		ev, err := codec.Decode(msg.Data)
		if err != nil {
			log.Warn("transport: dropping malformed message", "error", err)
			return
		}
		handler(ev)
	})
	if err != nil {
		return nil, fmt.Errorf("transport: subscribing to %s: %w", subject, err)
	}

	return &Subscriber{sub: sub, codec: codec}, nil
}

// Unsubscribe cancels the subscription.
func (s *Subscriber) Unsubscribe() error {
	return s.sub.Unsubscribe()
}
