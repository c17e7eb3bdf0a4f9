package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kilianp07/microgrid/core/device"
	"github.com/kilianp07/microgrid/core/model"
	"github.com/kilianp07/microgrid/core/monitoring"
	"github.com/kilianp07/microgrid/infra/logger"
)

// ErrAckTimeout is returned when a device does not acknowledge a command in time.
var ErrAckTimeout = errors.New("ack timeout")

// DefaultPrefix is the root of every topic used by the client.
const DefaultPrefix = "microgrid"

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker      string          `json:"broker"`
	ClientID    string          `json:"client_id"`
	Username    string          `json:"username"`
	Password    string          `json:"password"`
	TopicPrefix string          `json:"topic_prefix"`
	UseTLS      bool            `json:"use_tls"`
	ClientCert  string          `json:"client_cert"`
	ClientKey   string          `json:"client_key"`
	CABundle    string          `json:"ca_bundle"`
	AuthMethod  string          `json:"auth_method"`
	QoS         map[string]byte `json:"qos"`
	LWTTopic    string          `json:"lwt_topic"`
	LWTPayload  string          `json:"lwt_payload"`
	LWTQoS      byte            `json:"lwt_qos"`
	LWTRetain   bool            `json:"lwt_retain"`
	MaxRetries  int             `json:"max_retries"`
	BackoffMS   int             `json:"backoff_ms"`
	AckTimeout  time.Duration   `json:"ack_timeout"`
	TLSConfig   *tls.Config     `json:"-"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.TopicPrefix == "" {
		c.TopicPrefix = DefaultPrefix
	}
	if c.ClientID == "" {
		c.ClientID = "microgrid-" + uuid.NewString()
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffMS <= 0 {
		c.BackoffMS = 100
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 5 * time.Second
	}
}

func (c Config) prefix() string {
	if c.TopicPrefix == "" {
		return DefaultPrefix
	}
	return strings.TrimSuffix(c.TopicPrefix, "/")
}

// CommandTopic is the topic a device receives its commands on.
func (c Config) CommandTopic(deviceID string) string {
	return fmt.Sprintf("%s/devices/%s/command", c.prefix(), deviceID)
}

// AckTopic matches the acknowledgments of every device.
func (c Config) AckTopic() string { return c.prefix() + "/devices/+/ack" }

// TelemetryTopic matches the telemetry of every device.
func (c Config) TelemetryTopic() string { return c.prefix() + "/devices/+/telemetry" }

// AlertTopic is the topic alerts of the given severity are published on.
func (c Config) AlertTopic(severity string) string {
	return fmt.Sprintf("%s/alerts/%s", c.prefix(), severity)
}

// pahoClient is the subset of paho.Client used here.
type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// Handler receives the topic and payload of an incoming message.
type Handler func(topic string, payload []byte)

type subscription struct {
	qos     byte
	handler paho.MessageHandler
}

type ackResult struct {
	accepted bool
	reason   string
}

// PahoClient publishes commands and alerts and tracks device
// acknowledgments over Eclipse Paho.
type PahoClient struct {
	cli pahoClient
	cfg Config
	log logger.Logger

	mu       sync.Mutex
	ackChans map[string]chan ackResult
	subs     map[string]subscription
}

// NewPahoClient connects to the MQTT broker and subscribes to the ack topic.
// Subscriptions are restored on every reconnect.
func NewPahoClient(cfg Config) (*PahoClient, error) {
	cfg.SetDefaults()
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	log := logger.New("mqtt_client")
	pc := &PahoClient{
		cfg:      cfg,
		log:      log,
		ackChans: make(map[string]chan ackResult),
		subs:     make(map[string]subscription),
	}
	pc.subs[cfg.AckTopic()] = subscription{qos: cfg.QoS["ack"], handler: pc.onAck}

	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected")
		pc.mu.Lock()
		subs := make(map[string]subscription, len(pc.subs))
		for t, s := range pc.subs {
			subs[t] = s
		}
		pc.mu.Unlock()
		for topic, s := range subs {
			if token := c.Subscribe(topic, s.qos, s.handler); token.Wait() && token.Error() != nil {
				log.Errorf("subscribe %s: %v", topic, token.Error())
			}
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	pc.cli = c
	return pc, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// Config returns the effective configuration.
func (p *PahoClient) Config() Config { return p.cfg }

// Subscribe registers a handler for topic. The qosKey selects the QoS from
// the configuration. The subscription survives reconnects.
func (p *PahoClient) Subscribe(topic, qosKey string, h Handler) error {
	s := subscription{
		qos:     p.cfg.QoS[qosKey],
		handler: func(_ paho.Client, msg paho.Message) { h(msg.Topic(), msg.Payload()) },
	}
	p.mu.Lock()
	p.subs[topic] = s
	p.mu.Unlock()
	token := p.cli.Subscribe(topic, s.qos, s.handler)
	token.Wait()
	return token.Error()
}

// Publish sends payload to topic, retrying with exponential backoff. The
// qosKey selects the QoS from the configuration.
func (p *PahoClient) Publish(ctx context.Context, topic, qosKey string, payload []byte) error {
	qos := p.cfg.QoS[qosKey]
	backoff := time.Duration(p.cfg.BackoffMS) * time.Millisecond
	var err error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		token := p.cli.Publish(topic, qos, false, payload)
		token.Wait()
		if err = token.Error(); err == nil {
			return nil
		}
		p.log.Errorf("publish attempt %d to %s failed: %v", attempt+1, topic, err)
		if attempt == p.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff * time.Duration(1<<attempt)):
		}
	}
	return err
}

type command struct {
	CommandID  string             `json:"command_id"`
	DeviceID   string             `json:"device_id"`
	Kind       model.ActionKind   `json:"kind"`
	Parameters map[string]float64 `json:"parameters,omitempty"`
	Timestamp  int64              `json:"timestamp"`
}

// SendCommand publishes the action on the device command topic and returns
// the command identifier used for acknowledgment tracking.
func (p *PahoClient) SendCommand(ctx context.Context, a model.Action) (string, error) {
	cmdID := uuid.NewString()
	payload, err := json.Marshal(command{
		CommandID:  cmdID,
		DeviceID:   a.DeviceID,
		Kind:       a.Kind,
		Parameters: a.Parameters,
		Timestamp:  time.Now().UnixMilli(),
	})
	if err != nil {
		return "", err
	}

	// The ack channel must exist before the command leaves.
	p.mu.Lock()
	p.ackChans[cmdID] = make(chan ackResult, 1)
	p.mu.Unlock()

	topic := p.cfg.CommandTopic(a.DeviceID)
	if err := p.Publish(ctx, topic, "command", payload); err != nil {
		p.forget(cmdID)
		monitoring.CaptureException(err, map[string]string{"module": "mqtt", "device_id": a.DeviceID})
		return "", err
	}
	p.log.Debugw("sent command", map[string]any{"command_id": cmdID, "topic": topic})
	return cmdID, nil
}

func (p *PahoClient) onAck(_ paho.Client, msg paho.Message) {
	var m struct {
		CommandID string `json:"command_id"`
		Accepted  *bool  `json:"accepted"`
		Reason    string `json:"reason"`
	}
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		p.log.Errorf("failed to decode ack: %v", err)
		return
	}
	res := ackResult{accepted: m.Accepted == nil || *m.Accepted, reason: m.Reason}
	p.mu.Lock()
	if ch, ok := p.ackChans[m.CommandID]; ok {
		select {
		case ch <- res:
		default:
		}
	}
	p.mu.Unlock()
}

// WaitForAck blocks until the device acknowledges the command, the timeout
// expires or ctx is done. A refusal is reported as device.ErrNack.
func (p *PahoClient) WaitForAck(ctx context.Context, commandID string, timeout time.Duration) error {
	p.mu.Lock()
	ch := p.ackChans[commandID]
	p.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("unknown command %s", commandID)
	}
	defer p.forget(commandID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		if !res.accepted {
			return fmt.Errorf("%w: %s", device.ErrNack, res.reason)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("command %s: %w", commandID, ErrAckTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PahoClient) forget(commandID string) {
	p.mu.Lock()
	delete(p.ackChans, commandID)
	p.mu.Unlock()
}

// Disconnect gracefully closes the MQTT connection.
func (p *PahoClient) Disconnect() {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
}
