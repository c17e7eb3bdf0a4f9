package mqtt

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/microgrid/core/device"
	"github.com/kilianp07/microgrid/core/model"
	coremon "github.com/kilianp07/microgrid/core/monitoring"
)

// helper to generate self-signed cert
func generateCert(t *testing.T) (certFile, keyFile, caFile string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := x509.Certificate{SerialNumber: big.NewInt(1), Subject: pkix.Name{CommonName: "test"}, NotBefore: time.Now(), NotAfter: time.Now().Add(time.Hour)}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})

	dir := t.TempDir()
	certFile = dir + "/cert.pem"
	keyFile = dir + "/key.pem"
	caFile = dir + "/ca.pem"
	require.NoError(t, os.WriteFile(certFile, certPEM, 0644))
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0644))
	require.NoError(t, os.WriteFile(caFile, certPEM, 0644))
	return
}

func useMock(t *testing.T, mc *mockClient) {
	t.Helper()
	newMQTTClient = func(o *paho.ClientOptions) pahoClient { mc.opts = o; return mc }
	t.Cleanup(func() {
		newMQTTClient = func(opts *paho.ClientOptions) pahoClient { return paho.NewClient(opts) }
	})
}

func TestLoadTLSConfig(t *testing.T) {
	cert, key, ca := generateCert(t)
	cfg := Config{UseTLS: true, ClientCert: cert, ClientKey: key, CABundle: ca}
	tlsCfg, err := cfg.LoadTLSConfig()
	require.NoError(t, err)
	assert.NotEmpty(t, tlsCfg.Certificates)
	assert.NotNil(t, tlsCfg.RootCAs)

	_, err = Config{UseTLS: true}.LoadTLSConfig()
	assert.Error(t, err)
}

func TestNewClientOptionsAuth(t *testing.T) {
	opts, err := NewClientOptions(Config{Broker: "tcp://localhost:1883", ClientID: "id", Username: "u", Password: "p"})
	require.NoError(t, err)
	assert.Equal(t, "u", opts.Username)
	assert.Equal(t, "p", opts.Password)

	opts, err = NewClientOptions(Config{Broker: "tcp://localhost:1883", ClientID: "id", Username: "u", AuthMethod: "certificate"})
	require.NoError(t, err)
	assert.Empty(t, opts.Username)
}

func TestConfigTopics(t *testing.T) {
	c := Config{TopicPrefix: "site/"}
	assert.Equal(t, "site/devices/bess/command", c.CommandTopic("bess"))
	assert.Equal(t, "site/devices/+/ack", c.AckTopic())
	assert.Equal(t, "site/devices/+/telemetry", c.TelemetryTopic())
	assert.Equal(t, "microgrid/alerts/high", Config{}.AlertTopic("high"))
}

func TestQoSSettings(t *testing.T) {
	mc := &mockClient{}
	useMock(t, mc)
	cfg := Config{Broker: "tcp://localhost:1883", ClientID: "id", QoS: map[string]byte{"command": 2, "ack": 1}}
	cli, err := NewPahoClient(cfg)
	require.NoError(t, err)
	require.Len(t, mc.subscribed, 1)
	assert.Equal(t, "microgrid/devices/+/ack", mc.subscribed[0].topic)
	assert.Equal(t, byte(1), mc.subscribed[0].qos)

	cmdID, err := cli.SendCommand(context.Background(), model.Action{DeviceID: "bess", Kind: model.KindSetPower, Parameters: map[string]float64{"power_kw": 10}})
	require.NoError(t, err)
	require.Len(t, mc.published, 1)
	assert.Equal(t, byte(2), mc.published[0].qos)
	assert.Equal(t, "microgrid/devices/bess/command", mc.published[0].topic)

	var cmd command
	require.NoError(t, json.Unmarshal(mc.published[0].payload, &cmd))
	assert.Equal(t, cmdID, cmd.CommandID)
	assert.Equal(t, model.KindSetPower, cmd.Kind)
	assert.Equal(t, 10.0, cmd.Parameters["power_kw"])

	mc.deliver("microgrid/devices/bess/ack", fmt.Sprintf(`{"command_id":"%s"}`, cmdID))
	assert.NoError(t, cli.WaitForAck(context.Background(), cmdID, time.Second))
}

func TestWaitForAck_Nack(t *testing.T) {
	mc := &mockClient{}
	useMock(t, mc)
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883"})
	require.NoError(t, err)

	cmdID, err := cli.SendCommand(context.Background(), model.Hold("bess"))
	require.NoError(t, err)
	mc.deliver("microgrid/devices/bess/ack", fmt.Sprintf(`{"command_id":"%s","accepted":false,"reason":"interlock"}`, cmdID))
	err = cli.WaitForAck(context.Background(), cmdID, time.Second)
	assert.ErrorIs(t, err, device.ErrNack)
	assert.Contains(t, err.Error(), "interlock")
}

func TestWaitForAckTimeout(t *testing.T) {
	mc := &mockClient{}
	useMock(t, mc)
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", ClientID: "id"})
	require.NoError(t, err)
	cmdID, err := cli.SendCommand(context.Background(), model.Hold("bess"))
	require.NoError(t, err)
	assert.ErrorIs(t, cli.WaitForAck(context.Background(), cmdID, time.Millisecond), ErrAckTimeout)
	assert.Error(t, cli.WaitForAck(context.Background(), cmdID, time.Millisecond), "command forgotten after timeout")
}

func TestLWTConfigured(t *testing.T) {
	mc := &mockClient{}
	useMock(t, mc)
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", ClientID: "id", LWTTopic: "lwt", LWTPayload: "bye", LWTQoS: 1})
	require.NoError(t, err)
	assert.True(t, mc.opts.WillEnabled)
	assert.Equal(t, "lwt", mc.opts.WillTopic)
	assert.Equal(t, "bye", string(mc.opts.WillPayload))
	cli.Disconnect()
	assert.Empty(t, mc.published)
}

func TestRetryLogic(t *testing.T) {
	mc := &mockClient{publishErrs: []error{errors.New("net fail"), nil}}
	useMock(t, mc)
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", ClientID: "id", MaxRetries: 1, BackoffMS: 1})
	require.NoError(t, err)
	_, err = cli.SendCommand(context.Background(), model.Hold("bess"))
	require.NoError(t, err)
	assert.Len(t, mc.published, 2)
}

type recordMonitor struct {
	err  error
	tags map[string]string
}

func (r *recordMonitor) CaptureException(err error, tags map[string]string) {
	r.err = err
	r.tags = tags
}

func TestSendCommandErrorCaptured(t *testing.T) {
	fail := errors.New("net fail")
	mc := &mockClient{publishErrs: []error{fail, fail}}
	useMock(t, mc)
	mon := &recordMonitor{}
	coremon.Init(mon)
	defer coremon.Init(coremon.NopMonitor{})

	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", ClientID: "id", MaxRetries: 1, BackoffMS: 1})
	require.NoError(t, err)
	_, err = cli.SendCommand(context.Background(), model.Hold("bess"))
	require.ErrorIs(t, err, fail)
	require.Error(t, mon.err)
	assert.Equal(t, "bess", mon.tags["device_id"])
	assert.Equal(t, "mqtt", mon.tags["module"])
}

func TestSubscribeRestoredOnReconnect(t *testing.T) {
	mc := &mockClient{}
	useMock(t, mc)
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883"})
	require.NoError(t, err)

	var got []string
	require.NoError(t, cli.Subscribe(cli.Config().TelemetryTopic(), "telemetry", func(topic string, payload []byte) {
		got = append(got, topic+"="+string(payload))
	}))
	mc.deliver("microgrid/devices/bess/telemetry", "{}")
	assert.Equal(t, []string{"microgrid/devices/bess/telemetry={}"}, got)

	mc.reset()
	mc.opts.OnConnect(mc)
	topics := make([]string, 0, len(mc.subscribed))
	for _, s := range mc.subscribed {
		topics = append(topics, s.topic)
	}
	assert.ElementsMatch(t, []string{"microgrid/devices/+/ack", "microgrid/devices/+/telemetry"}, topics)
}

func TestActuator(t *testing.T) {
	pub := NewMockPublisher()
	pub.NackIDs["grid"] = true
	act := NewActuator(pub, 0)

	require.NoError(t, act.Send(context.Background(), model.Hold("bess")))
	assert.ErrorIs(t, act.Send(context.Background(), model.Hold("grid")), device.ErrNack)
	pub.FailIDs["pv"] = true
	assert.Error(t, act.Send(context.Background(), model.Hold("pv")))
	assert.Len(t, pub.Commands, 2)
}

// mockClient implements paho.Client for tests
type mockClient struct {
	mu         sync.Mutex
	opts       *paho.ClientOptions
	subscribed []struct {
		topic   string
		qos     byte
		handler paho.MessageHandler
	}
	published []struct {
		topic   string
		qos     byte
		payload []byte
	}
	publishErrs []error
}

func (m *mockClient) reset() {
	m.mu.Lock()
	m.subscribed = nil
	m.mu.Unlock()
}

// deliver hands a message to the handler of the last subscription matching topic.
func (m *mockClient) deliver(topic, payload string) {
	m.mu.Lock()
	var h paho.MessageHandler
	for _, s := range m.subscribed {
		if topicMatches(s.topic, topic) {
			h = s.handler
		}
	}
	m.mu.Unlock()
	if h != nil {
		h(m, mockMessage{topic: topic, p: []byte(payload)})
	}
}

func topicMatches(filter, topic string) bool {
	fi, ti := 0, 0
	for fi < len(filter) && ti < len(topic) {
		if filter[fi] == '+' {
			for ti < len(topic) && topic[ti] != '/' {
				ti++
			}
			fi++
			continue
		}
		if filter[fi] != topic[ti] {
			return false
		}
		fi++
		ti++
	}
	return fi == len(filter) && ti == len(topic)
}

func (m *mockClient) IsConnected() bool { return true }
func (m *mockClient) Connect() paho.Token {
	if m.opts != nil && m.opts.OnConnect != nil {
		m.opts.OnConnect(m)
	}
	return &dummyToken{}
}
func (m *mockClient) Disconnect(uint) {}
func (m *mockClient) Publish(topic string, qos byte, _ bool, payload interface{}) paho.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, _ := payload.([]byte)
	m.published = append(m.published, struct {
		topic   string
		qos     byte
		payload []byte
	}{topic, qos, b})
	if len(m.publishErrs) > 0 {
		err := m.publishErrs[0]
		m.publishErrs = m.publishErrs[1:]
		return &dummyToken{err: err}
	}
	return &dummyToken{}
}
func (m *mockClient) Subscribe(topic string, qos byte, h paho.MessageHandler) paho.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribed = append(m.subscribed, struct {
		topic   string
		qos     byte
		handler paho.MessageHandler
	}{topic, qos, h})
	return &dummyToken{}
}
func (m *mockClient) SubscribeMultiple(map[string]byte, paho.MessageHandler) paho.Token {
	return &dummyToken{}
}
func (m *mockClient) Unsubscribe(...string) paho.Token        { return &dummyToken{} }
func (m *mockClient) AddRoute(string, paho.MessageHandler)    {}
func (m *mockClient) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }
func (m *mockClient) IsConnectionOpen() bool                  { return true }

type dummyToken struct{ err error }

func (d dummyToken) Wait() bool                     { return true }
func (d dummyToken) WaitTimeout(time.Duration) bool { return true }
func (d dummyToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (d dummyToken) Error() error                   { return d.err }

type mockMessage struct {
	topic string
	p     []byte
}

func (m mockMessage) Duplicate() bool   { return false }
func (m mockMessage) Qos() byte         { return 0 }
func (m mockMessage) Retained() bool    { return false }
func (m mockMessage) Topic() string     { return m.topic }
func (m mockMessage) MessageID() uint16 { return 0 }
func (m mockMessage) Payload() []byte   { return m.p }
func (m mockMessage) Ack()              {}
