package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/surehelp/flume/ext"
	"github.com/surehelp/flume/id"
	"github.com/surehelp/flume/queue"
)

// Compile-time interface checks.
var (
	_ ext.Extension        = (*Broker)(nil)
	_ ext.Triggered        = (*Broker)(nil)
	_ ext.MessageEnqueued  = (*Broker)(nil)
	_ ext.MessageStarted   = (*Broker)(nil)
	_ ext.MessageCompleted = (*Broker)(nil)
	_ ext.MessageRetrying  = (*Broker)(nil)
	_ ext.MessageDead      = (*Broker)(nil)
	_ ext.CronFired        = (*Broker)(nil)
	_ ext.Shutdown         = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// DefaultCredits is the default initial credits for new subscribers.
const DefaultCredits int64 = 1000

// Broker is the real-time stream broker. It registers as an extension
// to receive trigger, message, and cron lifecycle events and fans them
// out to subscribers via topic-based pub/sub.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger

	// Subscriber management.
	subscribers sync.Map // subscriberID → *Subscriber

	// Metrics.
	totalPublished atomic.Int64

	// Config.
	bufferSize     int
	defaultCredits int64
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithDefaultCredits sets the initial credits for new subscribers.
func WithDefaultCredits(credits int64) BrokerOption {
	return func(b *Broker) { b.defaultCredits = credits }
}

// NewBroker creates a new stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:         NewTopicRegistry(),
		logger:         logger,
		bufferSize:     DefaultBufferSize,
		defaultCredits: DefaultCredits,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Topics returns the topic registry for external use.
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a new subscriber on the given topics.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize, b.defaultCredits)
	b.subscribers.Store(subscriberID, sub)
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// SubscribeTo adds an existing subscriber to additional topics.
func (b *Broker) SubscribeTo(subscriberID string, topics ...string) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return
	}
	sub := val.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
}

// Unsubscribe removes a subscriber from specific topics.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.topics.Unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
}

// GetSubscriber returns a subscriber by ID.
func (b *Broker) GetSubscriber(subscriberID string) (*Subscriber, bool) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return nil, false
	}
	return val.(*Subscriber), true //nolint:errcheck // sync.Map always stores *Subscriber
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	count := 0
	var dropped int64
	b.subscribers.Range(func(_, value any) bool {
		count++
		dropped += value.(*Subscriber).Dropped() //nolint:errcheck // sync.Map always stores *Subscriber
		return true
	})
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
		TotalDropped:    dropped,
	}
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDropped    int64 `json:"total_dropped"`
}

// publish broadcasts an event to all matching topics plus any extra
// entity topics.
func (b *Broker) publish(evt *Event, extra ...string) {
	topics := resolveTopics(evt, extra...)
	delivered := b.topics.Broadcast(topics, evt)
	b.totalPublished.Add(int64(delivered))
}

// mustMarshal marshals data to JSON, panicking on error (programming error).
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("stream: marshal event data: " + err.Error())
	}
	return data
}

// messageData builds the wire payload for a message lifecycle event.
func messageData(msg *queue.Message) MessageEventData {
	return MessageEventData{
		MessageID: msg.ID.String(),
		TriggerID: msg.TriggerID.String(),
		EventName: msg.EventName,
		JobName:   msg.JobName,
	}
}

// messageTopics returns the extra entity topics a message event fans
// out to beyond its own message topic.
func messageTopics(msg *queue.Message) []string {
	return []string{
		TriggerTopic(msg.TriggerID.String()),
		EventTopic(msg.EventName),
		JobTopic(msg.JobName),
	}
}

// ── Trigger lifecycle hooks ─────────────────────────

func (b *Broker) OnTriggered(_ context.Context, triggerID id.TriggerID, eventName string, jobs []string) error {
	b.publish(&Event{
		Type:      EventTriggerFired,
		Timestamp: time.Now().UTC(),
		Topic:     TriggerTopic(triggerID.String()),
		Data: mustMarshal(TriggerEventData{
			TriggerID: triggerID.String(),
			EventName: eventName,
			Jobs:      jobs,
		}),
	}, EventTopic(eventName))
	return nil
}

// ── Message lifecycle hooks ─────────────────────────

func (b *Broker) OnMessageEnqueued(_ context.Context, msg *queue.Message) error {
	b.publish(&Event{
		Type:      EventMessageEnqueued,
		Timestamp: time.Now().UTC(),
		Topic:     MessageTopic(msg.ID.String()),
		Data:      mustMarshal(messageData(msg)),
	}, messageTopics(msg)...)
	return nil
}

func (b *Broker) OnMessageStarted(_ context.Context, msg *queue.Message) error {
	data := messageData(msg)
	data.Attempt = msg.Attempts
	b.publish(&Event{
		Type:      EventMessageStarted,
		Timestamp: time.Now().UTC(),
		Topic:     MessageTopic(msg.ID.String()),
		Data:      mustMarshal(data),
	}, messageTopics(msg)...)
	return nil
}

func (b *Broker) OnMessageCompleted(_ context.Context, msg *queue.Message, elapsed time.Duration) error {
	data := messageData(msg)
	data.ElapsedMs = elapsed.Milliseconds()
	b.publish(&Event{
		Type:      EventMessageCompleted,
		Timestamp: time.Now().UTC(),
		Topic:     MessageTopic(msg.ID.String()),
		Data:      mustMarshal(data),
	}, messageTopics(msg)...)
	return nil
}

func (b *Broker) OnMessageRetrying(_ context.Context, msg *queue.Message, attempt int, nextVisibleAt time.Time) error {
	data := messageData(msg)
	data.Attempt = attempt
	data.Error = msg.LastError
	data.NextVisibleAt = nextVisibleAt.Format(time.RFC3339)
	b.publish(&Event{
		Type:      EventMessageRetrying,
		Timestamp: time.Now().UTC(),
		Topic:     MessageTopic(msg.ID.String()),
		Data:      mustMarshal(data),
	}, messageTopics(msg)...)
	return nil
}

func (b *Broker) OnMessageDead(_ context.Context, msg *queue.Message, msgErr error) error {
	data := messageData(msg)
	data.Attempt = msg.Attempts
	data.Error = msgErr.Error()
	b.publish(&Event{
		Type:      EventMessageDead,
		Timestamp: time.Now().UTC(),
		Topic:     MessageTopic(msg.ID.String()),
		Data:      mustMarshal(data),
	}, messageTopics(msg)...)
	return nil
}

// ── Cron lifecycle hooks ────────────────────────────

func (b *Broker) OnCronFired(_ context.Context, entryName string, triggerID id.TriggerID) error {
	b.publish(&Event{
		Type:      EventCronFired,
		Timestamp: time.Now().UTC(),
		Data: mustMarshal(CronEventData{
			EntryName: entryName,
			TriggerID: triggerID.String(),
		}),
	}, TriggerTopic(triggerID.String()))
	return nil
}

// ── Shutdown ────────────────────────────────────────

func (b *Broker) OnShutdown(_ context.Context) error {
	b.subscribers.Range(func(key, value any) bool {
		sub := value.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
		sub.Close()
		b.subscribers.Delete(key)
		return true
	})
	b.logger.Info("stream broker shut down")
	return nil
}
