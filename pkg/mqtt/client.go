// Package mqtt publishes the tour event feed and delivers analytics batches
// to the backend over MQTT.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"github.com/waytour/waytour/pkg"
	"github.com/waytour/waytour/pkg/logx"
)

// Config holds MQTT configuration
type Config struct {
	Broker      string `json:"broker"`
	Port        int    `json:"port"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
	QoS         int    `json:"qos"`
	Retain      bool   `json:"retain"`
	Enabled     bool   `json:"enabled"`
}

// DefaultConfig returns default MQTT configuration
func DefaultConfig() *Config {
	return &Config{
		Broker:      "localhost",
		Port:        1883,
		ClientID:    "waytourd",
		TopicPrefix: "waytour",
		QoS:         1,
		Retain:      false,
		Enabled:     false,
	}
}

// Client publishes tour events and analytics batches. A disabled or
// disconnected client drops event-feed publishes silently but refuses
// analytics batches so they stay queued.
type Client struct {
	mu          sync.Mutex
	client      MQTT.Client
	logger      *logx.Logger
	config      *Config
	connected   bool
	lastPublish time.Time
}

// NewClient creates a new MQTT client
func NewClient(config *Config, logger *logx.Logger) *Client {
	return &Client{
		logger: logger,
		config: config,
	}
}

// Connect establishes connection to the MQTT broker
func (c *Client) Connect() error {
	if !c.config.Enabled {
		if c.logger != nil {
			c.logger.Debug("mqtt client disabled")
		}
		return nil
	}

	opts := MQTT.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port))
	opts.SetClientID(c.config.ClientID)

	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.client = MQTT.NewClient(opts)

	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	if c.logger != nil {
		c.logger.Info("mqtt client connected",
			"broker", c.config.Broker,
			"port", c.config.Port,
		)
	}
	return nil
}

// Disconnect disconnects from the MQTT broker
func (c *Client) Disconnect() {
	c.mu.Lock()
	client, connected := c.client, c.connected
	c.connected = false
	c.mu.Unlock()

	if client != nil && connected {
		client.Disconnect(250)
		if c.logger != nil {
			c.logger.Info("mqtt client disconnected")
		}
	}
}

func (c *Client) onConnect(client MQTT.Client) {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	if c.logger != nil {
		c.logger.Info("mqtt connection established")
	}
}

func (c *Client) onConnectionLost(client MQTT.Client, err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	if c.logger != nil {
		c.logger.Error("mqtt connection lost", "error", err.Error())
	}
}

// IsConnected returns whether the client is connected
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// PublishGeofence publishes an enter/exit event to the feed.
func (c *Client) PublishGeofence(event pkg.GeofenceEvent) {
	c.publishFeed("events/geofence", event)
}

// PublishPlayback publishes a playback state change to the feed.
func (c *Client) PublishPlayback(state pkg.PlaybackState, item *pkg.AudioQueueItem) {
	payload := map[string]interface{}{"state": state}
	if item != nil {
		payload["poi_id"] = item.POI.ID
		payload["title"] = item.Title
	}
	c.publishFeed("events/playback", payload)
}

// PublishPreload publishes preload progress to the feed.
func (c *Client) PublishPreload(progress pkg.PreloadProgress) {
	c.publishFeed("events/preload", progress)
}

// PublishSync publishes a sync disposition change to the feed.
func (c *Client) PublishSync(state pkg.SyncState) {
	c.publishFeed("events/sync", map[string]interface{}{"state": state})
}

// SendBatch delivers one analytics batch; it is the sync queue's sink.
// Any failure leaves the batch owned by the queue.
func (c *Client) SendBatch(ctx context.Context, events []pkg.QueuedAnalyticsEvent) error {
	if !c.config.Enabled {
		return fmt.Errorf("mqtt analytics sink disabled")
	}
	if !c.IsConnected() {
		return fmt.Errorf("mqtt analytics sink not connected")
	}

	payload := map[string]interface{}{
		"timestamp": time.Now(),
		"count":     len(events),
		"events":    events,
	}
	topic := fmt.Sprintf("%s/analytics/batch", c.config.TopicPrefix)
	return c.publishJSON(topic, payload)
}

// publishFeed best-effort publishes one feed message. The feed is advisory;
// a disabled or disconnected client drops it.
func (c *Client) publishFeed(subtopic string, event interface{}) {
	if !c.config.Enabled || !c.IsConnected() {
		return
	}

	topic := fmt.Sprintf("%s/%s", c.config.TopicPrefix, subtopic)
	payload := map[string]interface{}{
		"timestamp": time.Now(),
		"event":     event,
	}
	if err := c.publishJSON(topic, payload); err != nil && c.logger != nil {
		c.logger.Warn("feed publish failed", "topic", topic, "error", err.Error())
	}
}

func (c *Client) publishJSON(topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	token := c.client.Publish(topic, byte(c.config.QoS), c.config.Retain, data)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}

	c.mu.Lock()
	c.lastPublish = time.Now()
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Debug("mqtt message published", "topic", topic, "size", len(data))
	}
	return nil
}

// LastPublish returns the timestamp of the last successful publish.
func (c *Client) LastPublish() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPublish
}
