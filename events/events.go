// Package events carries view-model updates from the recall session to
// whoever renders them.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fabfab/recollect/logging"
)

const Topic = "recall.events"

type Type string

const (
	SearchStarted      Type = "search.started"
	SearchCompleted    Type = "search.completed"
	SearchEmpty        Type = "search.empty"
	SearchFailed       Type = "search.failed"
	Peeled             Type = "selection.peeled"
	Discarded          Type = "selection.discarded"
	StateChanged       Type = "synthesis.state"
	Enriched           Type = "synthesis.enriched"
	Fragment           Type = "synthesis.fragment"
	SynthesisCompleted Type = "synthesis.completed"
	SynthesisEmpty     Type = "synthesis.empty"
	SynthesisFailed    Type = "synthesis.failed"
	Persisted          Type = "artifact.persisted"
	PersistFailed      Type = "artifact.persist_failed"
)

type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	Generation uint64    `json:"generation,omitempty"`
	Query      string    `json:"query,omitempty"`
	DocID      string    `json:"doc_id,omitempty"`
	Count      int       `json:"count,omitempty"`
	Text       string    `json:"text,omitempty"`
	State      string    `json:"state,omitempty"`
	Error      string    `json:"error,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	ArtifactID string    `json:"artifact_id,omitempty"`
	At         time.Time `json:"at"`
}

// Bus is an in-process pub/sub over watermill's Go channel transport.
// Publish returns once every subscriber has taken the event, so subscribers
// see events in publish order. A nil *Bus drops everything.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger *zap.Logger
}

func NewBus(logger *zap.Logger) *Bus {
	logger = logging.OrNop(logger).Named("events")
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            256,
			BlockPublishUntilSubscriberAck: true,
		}, NewWatermillLogger(logger)),
		logger: logger,
	}
}

// Publish stamps and sends evt. Events published with no subscriber are dropped.
func (b *Bus) Publish(evt Event) error {
	if b == nil {
		return nil
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := message.NewMessage(evt.ID, payload)
	msg.Metadata.Set("type", string(evt.Type))
	if err := b.pubsub.Publish(Topic, msg); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe streams decoded events until ctx is done or the bus closes.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, error) {
	if b == nil {
		return nil, fmt.Errorf("subscribe: no event bus")
	}
	messages, err := b.pubsub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan Event, 256)
	go func() {
		defer close(out)
		for msg := range messages {
			var evt Event
			if err := json.Unmarshal(msg.Payload, &evt); err != nil {
				b.logger.Warn("drop undecodable event", zap.String("uuid", msg.UUID), zap.Error(err))
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	return b.pubsub.Close()
}
