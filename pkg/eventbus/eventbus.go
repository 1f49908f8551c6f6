package eventbus

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/salesloop/salesloop/pkg/model"
)

// Channel names, one per event category. Publishers pick the channel
// from the event's category so subscribers only see the categories they
// asked for.
const channelPrefix = "sl:events:"

func Channel(category model.TriggerType) string {
	return channelPrefix + string(category)
}

// AllChannels covers every event-driven category. date_based is absent:
// those events are synthesized by the engine's own sweep, never
// published by external services.
func AllChannels() []string {
	return []string{
		Channel(model.TriggerStatusChange),
		Channel(model.TriggerScoreThreshold),
		Channel(model.TriggerInteractionAdded),
		Channel(model.TriggerTaskCompleted),
	}
}

type Bus struct {
	client redis.UniversalClient
}

func NewBus(client redis.UniversalClient) *Bus {
	return &Bus{client: client}
}

func (b *Bus) Publish(ctx context.Context, event model.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, Channel(event.Category), payload).Err()
}

func (b *Bus) Subscribe(ctx context.Context, channels ...string) <-chan *model.Event {
	sub := b.client.Subscribe(ctx, channels...)
	ch := make(chan *model.Event, 100)

	go func() {
		defer close(ch)
		for msg := range sub.Channel() {
			var event model.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}
			ch <- &event
		}
	}()

	go func() {
		<-ctx.Done()
		_ = sub.Close()
	}()

	return ch
}
