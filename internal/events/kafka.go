package events

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"virtual-store/internal/config"
)

const envelopeVersion = 1

// Envelope is the JSON document written to Kafka for every event.
type Envelope struct {
	EventID      string          `json:"event_id"`
	EventType    string          `json:"event_type"`
	EventVersion int             `json:"event_version"`
	OccurredAt   time.Time       `json:"occurred_at"`
	Producer     string          `json:"producer"`
	Payload      json.RawMessage `json:"payload"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaForwarder forwards bus events to a Kafka topic. Handle never blocks
// the posting goroutine: messages go through a buffered inbox and are dropped
// when it is full.
type KafkaForwarder struct {
	w        messageWriter
	producer string
	inbox    chan kafka.Message
	done     chan struct{}

	mu      sync.Mutex
	closed  bool
	started bool

	dropped atomic.Int64
}

// NewKafkaForwarder creates a forwarder writing to cfg.Topic.
func NewKafkaForwarder(cfg *config.KafkaConfig, producer string) *KafkaForwarder {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return newKafkaForwarder(w, producer, cfg.Buffer)
}

func newKafkaForwarder(w messageWriter, producer string, buf int) *KafkaForwarder {
	if buf <= 0 {
		buf = 1
	}
	return &KafkaForwarder{
		w:        w,
		producer: producer,
		inbox:    make(chan kafka.Message, buf),
		done:     make(chan struct{}),
	}
}

// Start launches the write loop and returns; the loop runs until ctx is
// cancelled or Close is called. Queued messages are flushed before the writer
// is closed. Start after Close does nothing.
func (f *KafkaForwarder) Start(ctx context.Context) {
	f.mu.Lock()
	if f.started || f.closed {
		f.mu.Unlock()
		return
	}
	f.started = true
	f.mu.Unlock()

	go func() {
		defer close(f.done)
		for {
			select {
			case <-ctx.Done():
				f.shutdown()
				for m := range f.inbox {
					f.write(m)
				}
				f.closeWriter()
				return
			case m, ok := <-f.inbox:
				if !ok {
					f.closeWriter()
					return
				}
				f.write(m)
			}
		}
	}()
}

// Handle is the bus handler.
func (f *KafkaForwarder) Handle(e Event) {
	msg, err := f.encode(e)
	if err != nil {
		log.Error().Err(err).Str("event", e.EventName()).Msg("Failed to encode event")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		f.dropped.Add(1)
		return
	}
	select {
	case f.inbox <- msg:
	default:
		f.dropped.Add(1)
		log.Warn().Str("event", e.EventName()).Msg("Kafka inbox full, dropping event")
	}
}

// Dropped returns how many events were not queued.
func (f *KafkaForwarder) Dropped() int64 {
	return f.dropped.Load()
}

// Close stops accepting events and waits until queued ones are written.
func (f *KafkaForwarder) Close() {
	f.shutdown()
	f.mu.Lock()
	started := f.started
	f.mu.Unlock()
	if started {
		<-f.done
	} else {
		f.closeWriter()
	}
}

func (f *KafkaForwarder) shutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.inbox)
	}
}

func (f *KafkaForwarder) encode(e Event) (kafka.Message, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, err
	}
	env := Envelope{
		EventID:      uuid.NewString(),
		EventType:    e.EventName(),
		EventVersion: envelopeVersion,
		OccurredAt:   time.Now().UTC(),
		Producer:     f.producer,
		Payload:      payload,
	}
	value, err := json.Marshal(env)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(e.EventName()),
		Value: value,
		Time:  env.OccurredAt,
		Headers: []kafka.Header{
			{Key: "x-event-type", Value: []byte(e.EventName())},
			{Key: "x-event-version", Value: []byte("1")},
		},
	}, nil
}

func (f *KafkaForwarder) write(m kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := f.w.WriteMessages(ctx, m); err != nil {
		log.Error().Err(err).Str("event", string(m.Key)).Msg("Failed to forward event to Kafka")
	}
}

func (f *KafkaForwarder) closeWriter() {
	if err := f.w.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close Kafka writer")
	}
}
