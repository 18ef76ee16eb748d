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
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/brainrot/tg-llm-rewrite/internal/buildinfo"
	"github.com/brainrot/tg-llm-rewrite/internal/config"
	"github.com/brainrot/tg-llm-rewrite/internal/events"
)

// Reloader re-reads configuration on demand. The settings watcher
// satisfies it.
type Reloader interface {
	Reload() bool
}

// pressPayload is what HA sends on the reload button's command topic.
const pressPayload = "PRESS"

// Publisher manages the MQTT connection, publishes HA discovery config
// messages on (re-)connect, and pushes sensor state whenever a
// relevant bus event arrives or the publish interval elapses.
type Publisher struct {
	cfg        config.MQTTConfig
	instanceID string
	device     DeviceInfo
	outcomes   *DailyOutcomes
	bus        *events.Bus
	reloader   Reloader
	logger     *slog.Logger
	cm         *autopaho.ConnectionManager

	mu          sync.Mutex
	model       string
	backend     string
	telegram    string
	lastOutcome string
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to begin the connection and publish loop. reloader may be nil, in
// which case the reload button is not advertised.
func New(cfg config.MQTTConfig, instanceID string, bus *events.Bus, reloader Reloader, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:         cfg,
		instanceID:  instanceID,
		device:      NewDeviceInfo(instanceID, cfg.DeviceName),
		outcomes:    NewDailyOutcomes(nil),
		bus:         bus,
		reloader:    reloader,
		logger:      logger,
		backend:     "unknown",
		telegram:    "connecting",
		lastOutcome: "none",
	}
}

// SetModel records the active model name.
func (p *Publisher) SetModel(model string) {
	p.mu.Lock()
	p.model = model
	p.mu.Unlock()
}

// Start connects to the MQTT broker and begins the publish loop. It
// blocks until ctx is cancelled. On every (re-)connect it publishes
// discovery configs, a birth message and the command subscription.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	var sub <-chan events.Event
	if p.bus != nil {
		sub = p.bus.Subscribe(64)
		defer p.bus.Unsubscribe(sub)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishDiscovery(ctx, cm)
			p.publishAvailability(ctx, cm, "online")
			p.subscribeCommands(ctx, cm)
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "brainrot-" + p.cfg.DeviceName,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					return p.handleCommand(pr.Packet.Topic, pr.Packet.Payload), nil
				},
			},
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

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	p.runLoop(ctx, sub)

	stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer stopCancel()
	return p.stop(stopCtx)
}

// stop publishes "offline" before closing the connection.
func (p *Publisher) stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

// --- Topic helpers ---

func (p *Publisher) baseTopic() string {
	return "brainrot/" + p.cfg.DeviceName
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) stateTopic(entity string) string {
	return p.baseTopic() + "/" + entity + "/state"
}

func (p *Publisher) commandTopic(entity string) string {
	return p.baseTopic() + "/" + entity + "/set"
}

func (p *Publisher) discoveryTopic(component, entity string) string {
	return p.cfg.DiscoveryPrefix + "/" + component + "/" + p.cfg.DeviceName + "/" + entity + "/config"
}

// --- Discovery ---

type entityDef struct {
	component    string
	entitySuffix string
	config       EntityConfig
}

func (p *Publisher) sensor(suffix, name, icon string) entityDef {
	return entityDef{
		component:    "sensor",
		entitySuffix: suffix,
		config: EntityConfig{
			Name:              name,
			HasEntityName:     true,
			ObjectID:          suffix,
			UniqueID:          p.instanceID + "_" + suffix,
			StateTopic:        p.stateTopic(suffix),
			AvailabilityTopic: p.availabilityTopic(),
			Device:            p.device,
			Icon:              icon,
		},
	}
}

func (p *Publisher) counter(suffix, name, icon string) entityDef {
	d := p.sensor(suffix, name, icon)
	d.config.StateClass = "total_increasing"
	d.config.UnitOfMeasurement = "messages"
	return d
}

func (p *Publisher) diagnostic(suffix, name, icon string) entityDef {
	d := p.sensor(suffix, name, icon)
	d.config.EntityCategory = "diagnostic"
	return d
}

func (p *Publisher) entityDefinitions() []entityDef {
	defs := []entityDef{
		p.diagnostic("uptime", "Uptime", "mdi:clock-outline"),
		p.diagnostic("version", "Version", "mdi:tag"),
		p.diagnostic("model", "Model", "mdi:brain"),
		p.diagnostic("backend", "Backend", "mdi:server-network"),
		p.diagnostic("telegram", "Telegram", "mdi:send"),
		p.sensor("last_outcome", "Last Outcome", "mdi:message-check"),
		p.counter("rewrites_today", "Rewrites Today", "mdi:message-draw"),
		p.counter("skipped_today", "Skipped Today", "mdi:message-minus"),
		p.counter("failed_today", "Failed Today", "mdi:message-alert"),
		p.counter("superseded_today", "Superseded Today", "mdi:message-arrow-right"),
	}
	if p.reloader != nil {
		defs = append(defs, entityDef{
			component:    "button",
			entitySuffix: "reload",
			config: EntityConfig{
				Name:              "Reload Config",
				HasEntityName:     true,
				ObjectID:          "reload",
				UniqueID:          p.instanceID + "_reload",
				CommandTopic:      p.commandTopic("reload"),
				PayloadPress:      pressPayload,
				AvailabilityTopic: p.availabilityTopic(),
				Device:            p.device,
				Icon:              "mdi:reload",
				EntityCategory:    "config",
			},
		})
	}
	return defs
}

func (p *Publisher) publishDiscovery(ctx context.Context, cm *autopaho.ConnectionManager) {
	for _, d := range p.entityDefinitions() {
		topic := p.discoveryTopic(d.component, d.entitySuffix)
		payload, err := json.Marshal(d.config)
		if err != nil {
			p.logger.Error("mqtt marshal discovery payload",
				"entity", d.entitySuffix, "error", err)
			continue
		}

		if _, err := cm.Publish(ctx, &paho.Publish{
			Topic:   topic,
			Payload: payload,
			QoS:     1,
			Retain:  true,
		}); err != nil {
			p.logger.Warn("mqtt discovery publish failed",
				"entity", d.entitySuffix, "topic", topic, "error", err)
		} else {
			p.logger.Debug("mqtt discovery published",
				"entity", d.entitySuffix, "topic", topic)
		}
	}
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}

// --- Commands ---

func (p *Publisher) subscribeCommands(ctx context.Context, cm *autopaho.ConnectionManager) {
	if p.reloader == nil {
		return
	}
	topic := p.commandTopic("reload")
	if _, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: 1}},
	}); err != nil {
		p.logger.Warn("mqtt command subscribe failed", "topic", topic, "error", err)
	}
}

// handleCommand reports whether the message was addressed to us.
func (p *Publisher) handleCommand(topic string, payload []byte) bool {
	if p.reloader == nil || topic != p.commandTopic("reload") {
		return false
	}
	if strings.TrimSpace(string(payload)) != pressPayload {
		p.logger.Debug("mqtt ignoring command payload", "topic", topic, "payload", string(payload))
		return true
	}
	p.logger.Info("config reload requested over mqtt")
	p.reloader.Reload()
	return true
}

// --- State ---

// apply folds a bus event into the published state. It reports
// whether anything visible changed.
func (p *Publisher) apply(e events.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e.Kind {
	case events.KindTaskOutcome:
		state, _ := e.Data["state"].(string)
		if state == "" {
			return false
		}
		p.outcomes.Record(state)
		p.lastOutcome = state
	case events.KindBackendUp:
		p.backend = "up"
	case events.KindBackendDown:
		p.backend = "down"
	case events.KindRuntimeReady:
		p.telegram = "online"
	case events.KindConfigReloaded:
		model, _ := e.Data["model"].(string)
		if model == "" || model == p.model {
			return false
		}
		p.model = model
	default:
		return false
	}
	return true
}

func (p *Publisher) states() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]string{
		"uptime":           buildinfo.Uptime().String(),
		"version":          buildinfo.Version,
		"model":            p.model,
		"backend":          p.backend,
		"telegram":         p.telegram,
		"last_outcome":     p.lastOutcome,
		"rewrites_today":   strconv.FormatInt(p.outcomes.Count("done"), 10),
		"skipped_today":    strconv.FormatInt(p.outcomes.Count("skipped"), 10),
		"failed_today":     strconv.FormatInt(p.outcomes.Count("failed"), 10),
		"superseded_today": strconv.FormatInt(p.outcomes.Count("superseded"), 10),
	}
}

func (p *Publisher) runLoop(ctx context.Context, sub <-chan events.Event) {
	interval := time.Duration(p.cfg.PublishIntervalSec) * time.Second
	if interval <= 0 {
		interval = config.DefaultPublishIntervalSec * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.publishStates(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			if p.apply(e) {
				p.publishStates(ctx)
			}
		case <-ticker.C:
			p.publishStates(ctx)
		}
	}
}

func (p *Publisher) publishStates(ctx context.Context) {
	if p.cm == nil {
		return
	}

	states := p.states()
	for entity, value := range states {
		if _, err := p.cm.Publish(ctx, &paho.Publish{
			Topic:   p.stateTopic(entity),
			Payload: []byte(value),
			QoS:     0,
			Retain:  true,
		}); err != nil {
			p.logger.Debug("mqtt state publish failed",
				"entity", entity, "error", err)
		}
	}

	p.logger.Log(ctx, config.LevelTrace, "mqtt sensor states published",
		"entities", len(states))
}
