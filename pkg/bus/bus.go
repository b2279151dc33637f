package bus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	gochannel "github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
)

// Envelope frames every message on the bus: a type tag for dispatch plus the
// JSON encoding of the topic-specific wire struct.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DecodeEnvelope unwraps a bus message. Consumers check Type before decoding
// Payload into the matching wire struct.
func DecodeEnvelope(msg *message.Message) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		return Envelope{}, errors.Wrap(err, "unmarshal bus envelope")
	}
	return env, nil
}

// Bus is the in-process pub/sub fabric between the store and its consumers
// (CLI printer, TUI). Consumers subscribe to topics instead of polling the
// store, so a slow renderer never blocks the stream client.
type Bus struct {
	router *message.Router
	pubsub *gochannel.GoChannel

	runOnce sync.Once
}

func NewInMemoryBus() (*Bus, error) {
	logger := watermill.NopLogger{}
	r, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "new watermill router")
	}
	return &Bus{
		router: r,
		pubsub: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 1024}, logger),
	}, nil
}

// AddHandler registers a consumer on topic. All handlers must be registered
// before Run.
func (b *Bus) AddHandler(name, topic string, handler func(*message.Message) error) {
	b.router.AddConsumerHandler(name, topic, b.pubsub, handler)
}

// Subscribe returns a raw message channel for topic, bypassing the router.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, topic)
}

func (b *Bus) Run(ctx context.Context) error {
	var runErr error
	b.runOnce.Do(func() {
		go func() {
			<-ctx.Done()
			_ = b.router.Close()
		}()
		runErr = b.router.Run(ctx)
	})
	return runErr
}

// Publish wraps payload in an Envelope and publishes it on topic.
func (b *Bus) Publish(topic string, typ string, payload any) error {
	if typ == "" {
		return errors.New("empty envelope type")
	}
	env := Envelope{Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return errors.Wrapf(err, "marshal %s payload", typ)
		}
		env.Payload = raw
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return errors.Wrapf(err, "marshal %s envelope", typ)
	}
	return b.pubsub.Publish(topic, message.NewMessage(watermill.NewUUID(), raw))
}
