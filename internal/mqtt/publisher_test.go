package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/nugget/kyle/internal/config"
	"github.com/nugget/kyle/internal/events"
)

type captured struct {
	mu   sync.Mutex
	msgs []*paho.Publish
	err  error
}

func (c *captured) Publish(_ context.Context, p *paho.Publish) (*paho.PublishResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, p)
	return &paho.PublishResponse{}, c.err
}

func (c *captured) topic(topic string) *paho.Publish {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.msgs {
		if m.Topic == topic {
			return m
		}
	}
	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestLoadOrCreateInstanceID_CreatesFile(t *testing.T) {
	dir := t.TempDir()

	id, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateInstanceID() error = %v", err)
	}
	if len(strings.Split(id, "-")) != 5 {
		t.Errorf("id %q does not look like a UUID", id)
	}

	data, err := os.ReadFile(filepath.Join(dir, "instance_id"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != id {
		t.Errorf("file content = %q, want %q", got, id)
	}
}

func TestLoadOrCreateInstanceID_Stable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")

	first, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("first call error = %v", err)
	}
	second, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("second call error = %v", err)
	}
	if second != first {
		t.Errorf("second = %q, want %q", second, first)
	}
}

func TestClientID(t *testing.T) {
	dir := t.TempDir()

	got, err := ClientID("media-bot", dir)
	if err != nil || got != "media-bot" {
		t.Errorf("configured ClientID = %q, %v; want media-bot", got, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "instance_id")); !os.IsNotExist(err) {
		t.Error("configured client id should not create an instance file")
	}

	if err := os.WriteFile(filepath.Join(dir, "instance_id"), []byte("0192f0a1-aaaa-7bbb-8ccc-123456789abc\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err = ClientID("", dir)
	if err != nil {
		t.Fatalf("ClientID() error = %v", err)
	}
	if got != "kyle-0192f0a1" {
		t.Errorf("derived ClientID = %q, want kyle-0192f0a1", got)
	}
}

func TestPublisher_Defaults(t *testing.T) {
	p := New(config.MQTTConfig{Broker: "mqtt://localhost:1883"}, "kyle-test", nil, nil)
	if p.cfg.TopicPrefix != "kyle" {
		t.Errorf("TopicPrefix = %q, want kyle", p.cfg.TopicPrefix)
	}
	if p.cfg.KeepAliveSec != 30 {
		t.Errorf("KeepAliveSec = %d, want 30", p.cfg.KeepAliveSec)
	}
}

func TestPublisher_TopicPaths(t *testing.T) {
	p := New(config.MQTTConfig{Broker: "mqtt://localhost:1883", TopicPrefix: "home/kyle"}, "kyle-test", nil, nil)

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"availability", p.availabilityTopic(), "home/kyle/availability"},
		{"state", p.stateTopic("uptime"), "home/kyle/state/uptime"},
		{"event", p.eventTopic(events.Event{Source: events.SourceWebhook, Kind: events.KindMediaAvailable}), "home/kyle/events/webhook/media_available"},
		{"event wildcard kind", p.eventTopic(events.Event{Source: "agent", Kind: "a/b+#"}), "home/kyle/events/agent/a_b__"},
		{"event empty source", p.eventTopic(events.Event{Kind: "x"}), "home/kyle/events/unknown/x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestPublisher_MirrorsEvents(t *testing.T) {
	bus := events.New()
	p := New(config.MQTTConfig{Broker: "mqtt://localhost:1883"}, "kyle-test", bus, nil)
	fake := &captured{}
	p.client = fake

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.run(ctx)
		close(done)
	}()
	waitFor(t, func() bool { return bus.SubscriberCount() == 1 })

	bus.Emit(events.SourceWebhook, events.KindMediaAvailable, map[string]any{
		"media_type": "movie",
		"title":      "Inception",
		"notified":   2,
	})
	bus.Emit(events.SourceAgent, events.KindLLMResponse, map[string]any{
		"tokens_in":  1000,
		"tokens_out": 250,
	})

	waitFor(t, func() bool { return fake.topic("kyle/events/agent/llm_response") != nil })
	cancel()
	<-done

	msg := fake.topic("kyle/events/webhook/media_available")
	if msg == nil {
		t.Fatal("media_available not mirrored")
	}
	if msg.Retain {
		t.Error("event messages should not be retained")
	}
	var e events.Event
	if err := json.Unmarshal(msg.Payload, &e); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if e.Source != events.SourceWebhook || e.Kind != events.KindMediaAvailable || e.Data["title"] != "Inception" {
		t.Errorf("payload = %+v", e)
	}

	if state := fake.topic("kyle/state/version"); state == nil || !state.Retain {
		t.Error("version state not published as retained")
	}

	if today := p.tokens.Snapshot(); today.Input != 1000 || today.Output != 250 || today.Requests != 1 {
		t.Errorf("tokens = %+v, want 1000/250/1", today)
	}
	if got := p.states()["tokens_today"]; got != "1250" {
		t.Errorf("tokens_today = %q, want 1250", got)
	}
	if bus.SubscriberCount() != 0 {
		t.Error("subscription not released after run returned")
	}
}

func TestPublisher_NilBus(t *testing.T) {
	p := New(config.MQTTConfig{Broker: "mqtt://localhost:1883"}, "kyle-test", nil, nil)
	fake := &captured{}
	p.client = fake

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.run(ctx)
		close(done)
	}()
	waitFor(t, func() bool { return fake.topic("kyle/state/uptime") != nil })
	cancel()
	<-done

	if got := p.states()["events_dropped"]; got != "0" {
		t.Errorf("events_dropped without a bus = %q, want 0", got)
	}
}

func TestPublisher_PublishErrorsAreSwallowed(t *testing.T) {
	p := New(config.MQTTConfig{Broker: "mqtt://localhost:1883"}, "kyle-test", nil, nil)
	fake := &captured{err: errors.New("not connected")}
	p.client = fake

	p.publishEvent(context.Background(), events.Event{Source: "slack", Kind: "connected"})
	p.publishAvailability(context.Background(), fake, "online")

	avail := fake.topic("kyle/availability")
	if avail == nil || string(avail.Payload) != "online" || !avail.Retain || avail.QoS != 1 {
		t.Errorf("availability publish = %+v", avail)
	}
}

func TestPublisher_NotStarted(t *testing.T) {
	p := New(config.MQTTConfig{Broker: "mqtt://localhost:1883"}, "kyle-test", nil, nil)
	if err := p.AwaitConnection(context.Background()); err == nil {
		t.Error("AwaitConnection before Start should fail")
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Errorf("Stop before Start = %v, want nil", err)
	}
	// No client: publishing is a no-op rather than a panic.
	p.publishEvent(context.Background(), events.Event{Source: "agent", Kind: "turn_start"})
	p.publishStates(context.Background())
}

func TestMQTTConfig_Configured(t *testing.T) {
	if !(config.MQTTConfig{Broker: "mqtt://localhost"}).Configured() {
		t.Error("broker set should be configured")
	}
	if (config.MQTTConfig{}).Configured() {
		t.Error("empty config should not be configured")
	}
}
