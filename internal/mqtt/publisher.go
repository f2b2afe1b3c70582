package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/nugget/kyle/internal/buildinfo"
	"github.com/nugget/kyle/internal/config"
	"github.com/nugget/kyle/internal/events"
)

// stateInterval is how often the retained state topics are refreshed.
const stateInterval = 60 * time.Second

// subscriberBuffer sizes the bus subscription; a slow broker drops
// events rather than stalling the agent.
const subscriberBuffer = 256

// publishClient is the subset of the autopaho connection manager the
// publisher uses.
type publishClient interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Publisher owns the broker connection and mirrors bus events to it.
type Publisher struct {
	cfg      config.MQTTConfig
	clientID string
	bus      *events.Bus
	tokens   *DailyTokens
	logger   *slog.Logger

	cm     *autopaho.ConnectionManager
	client publishClient
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to connect and begin mirroring.
func New(cfg config.MQTTConfig, clientID string, bus *events.Bus, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "kyle"
	}
	if cfg.KeepAliveSec <= 0 {
		cfg.KeepAliveSec = 30
	}
	return &Publisher{
		cfg:      cfg,
		clientID: clientID,
		bus:      bus,
		tokens:   NewDailyTokens(nil),
		logger:   logger.With("component", "mqtt"),
	}
}

// Start connects to the broker and mirrors events until ctx is
// cancelled. A broker that is down at startup is retried in the
// background by autopaho; events published meanwhile are dropped.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       uint16(p.cfg.KeepAliveSec),
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker, "client_id", p.clientID)
			p.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.clientID,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm
	p.client = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	p.run(ctx)
	return nil
}

// Stop publishes "offline" and disconnects. ctx bounds both steps.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

// AwaitConnection blocks until the broker connection is up or ctx
// expires. It serves as the connwatch probe.
func (p *Publisher) AwaitConnection(ctx context.Context) error {
	if p.cm == nil {
		return fmt.Errorf("mqtt publisher not started")
	}
	return p.cm.AwaitConnection(ctx)
}

func (p *Publisher) availabilityTopic() string {
	return p.cfg.TopicPrefix + "/availability"
}

func (p *Publisher) eventTopic(e events.Event) string {
	return p.cfg.TopicPrefix + "/events/" + topicSegment(e.Source) + "/" + topicSegment(e.Kind)
}

func (p *Publisher) stateTopic(name string) string {
	return p.cfg.TopicPrefix + "/state/" + name
}

// topicSegment keeps a value from adding levels or wildcards to a topic.
func topicSegment(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}

func (p *Publisher) publishAvailability(ctx context.Context, c publishClient, status string) {
	if _, err := c.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}

// run mirrors bus events and refreshes state until ctx is done.
func (p *Publisher) run(ctx context.Context) {
	var ch <-chan events.Event // nil blocks forever when there is no bus
	if p.bus != nil {
		ch = p.bus.Subscribe(subscriberBuffer)
		defer p.bus.Unsubscribe(ch)
	}

	ticker := time.NewTicker(stateInterval)
	defer ticker.Stop()

	p.publishStates(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			p.observe(e)
			p.publishEvent(ctx, e)
		case <-ticker.C:
			p.publishStates(ctx)
		}
	}
}

// observe folds token counts from model responses into today's total.
func (p *Publisher) observe(e events.Event) {
	if e.Source != events.SourceAgent || e.Kind != events.KindLLMResponse {
		return
	}
	p.tokens.OnTokens(intField(e.Data, "tokens_in"), intField(e.Data, "tokens_out"))
}

func intField(data map[string]any, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func (p *Publisher) publishEvent(ctx context.Context, e events.Event) {
	if p.client == nil {
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		p.logger.Error("mqtt marshal event", "source", e.Source, "kind", e.Kind, "error", err)
		return
	}
	topic := p.eventTopic(e)
	if _, err := p.client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     0,
	}); err != nil {
		p.logger.Debug("mqtt event publish failed", "topic", topic, "error", err)
	}
}

func (p *Publisher) states() map[string]string {
	today := p.tokens.Snapshot()
	return map[string]string{
		"uptime":         buildinfo.Uptime().String(),
		"version":        buildinfo.Version,
		"tokens_today":   strconv.FormatInt(today.Tokens(), 10),
		"requests_today": strconv.FormatInt(today.Requests, 10),
		"events_dropped": strconv.FormatUint(p.bus.Dropped(), 10),
	}
}

func (p *Publisher) publishStates(ctx context.Context) {
	if p.client == nil {
		return
	}
	states := p.states()
	for name, value := range states {
		if _, err := p.client.Publish(ctx, &paho.Publish{
			Topic:   p.stateTopic(name),
			Payload: []byte(value),
			QoS:     0,
			Retain:  true,
		}); err != nil {
			p.logger.Debug("mqtt state publish failed", "state", name, "error", err)
		}
	}
	p.logger.Debug("mqtt states published", "count", len(states))
}
