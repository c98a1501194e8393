package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/purifier-bridge/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "purifier-test",
		},
		QoS:         1,
		TopicPrefix: "purifier",
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// mockLogger implements Logger for testing.
type mockLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

// =============================================================================
// Topic Tests
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := NewTopics("home/purifier/")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"state", topics.DeviceState("living-room"), "home/purifier/state/living-room"},
		{"availability", topics.DeviceAvailability("living-room"), "home/purifier/availability/living-room"},
		{"command", topics.DeviceCommand("office"), "home/purifier/command/office"},
		{"ack", topics.DeviceAck("office"), "home/purifier/ack/office"},
		{"event", topics.DeviceEvent("office", "filter_low"), "home/purifier/event/office/filter_low"},
		{"health", topics.Health(), "home/purifier/health"},
		{"system status", topics.SystemStatus(), "home/purifier/system/status"},
		{"all commands", topics.AllDeviceCommands(), "home/purifier/command/+"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestNewTopicsDefaultPrefix(t *testing.T) {
	if got := NewTopics("").DeviceState("a"); got != "purifier/state/a" {
		t.Errorf("DeviceState() = %q", got)
	}
	if got := (Topics{}).Health(); got != "purifier/health" {
		t.Errorf("zero Topics Health() = %q", got)
	}
}

func TestParseDeviceTopic(t *testing.T) {
	topics := NewTopics("purifier")
	tests := []struct {
		topic     string
		wantKind  string
		wantID    string
		wantEvent string
		wantOK    bool
	}{
		{"purifier/command/office", KindCommand, "office", "", true},
		{"purifier/state/living-room", KindState, "living-room", "", true},
		{"purifier/event/office/filter_low", KindEvent, "office", "filter_low", true},
		{"purifier/command/", "", "", "", false},
		{"purifier/health", "", "", "", false},
		{"purifier/bogus/office", "", "", "", false},
		{"other/command/office", "", "", "", false},
		{"purifier/command/office/extra", "", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			kind, id, event, ok := topics.ParseDeviceTopic(tt.topic)
			if ok != tt.wantOK || kind != tt.wantKind || id != tt.wantID || event != tt.wantEvent {
				t.Errorf("ParseDeviceTopic() = %q %q %q %v, want %q %q %q %v",
					kind, id, event, ok, tt.wantKind, tt.wantID, tt.wantEvent, tt.wantOK)
			}
		})
	}
}

// =============================================================================
// Option Tests
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.MQTTAuthConfig{Username: "bridge", Password: "secret"}
	cfg.Broker.TLS = true

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want ssl://127.0.0.1:1883", opts.Servers)
	}
	if opts.ClientID != "purifier-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "bridge" || opts.Password != "secret" {
		t.Errorf("credentials not set")
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Errorf("TLS config = %+v", opts.TLSConfig)
	}
	if !opts.AutoReconnect || !opts.CleanSession {
		t.Errorf("AutoReconnect = %v CleanSession = %v", opts.AutoReconnect, opts.CleanSession)
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, NewTopics("purifier"), "purifier-test")

	if !opts.WillEnabled || opts.WillTopic != "purifier/system/status" || !opts.WillRetained {
		t.Fatalf("will = %v %q retained=%v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}
	var p statusPayload
	if err := json.Unmarshal(opts.WillPayload, &p); err != nil {
		t.Fatalf("will payload is not JSON: %v", err)
	}
	if p.Status != "offline" || p.Reason != "unexpected_disconnect" || p.ClientID != "purifier-test" {
		t.Errorf("will payload = %+v", p)
	}
}

// =============================================================================
// Disconnected Client Tests
// =============================================================================

func TestDisconnectedClient(t *testing.T) {
	c := newClient(testConfig())
	noop := func(string, []byte) error { return nil }

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"publish empty topic", c.Publish("", nil, 1, false), ErrInvalidTopic},
		{"publish bad qos", c.Publish("t", nil, 3, false), ErrInvalidQoS},
		{"publish too large", c.Publish("t", make([]byte, maxPayloadSize+1), 1, false), ErrPayloadTooLarge},
		{"publish disconnected", c.Publish("t", []byte("x"), 1, false), ErrNotConnected},
		{"subscribe empty topic", c.Subscribe("", 1, noop), ErrInvalidTopic},
		{"subscribe bad qos", c.Subscribe("t", 3, noop), ErrInvalidQoS},
		{"subscribe nil handler", c.Subscribe("t", 1, nil), ErrSubscribeFailed},
		{"subscribe disconnected", c.Subscribe("t", 1, noop), ErrNotConnected},
		{"unsubscribe empty", c.Unsubscribe(""), ErrInvalidTopic},
		{"unsubscribe disconnected", c.Unsubscribe("t"), ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Errorf("error = %v, want %v", tt.err, tt.want)
			}
		})
	}

	if c.IsConnected() {
		t.Error("IsConnected() = true for a client that never connected")
	}
	if !errors.Is(c.HealthCheck(context.Background()), ErrNotConnected) {
		t.Error("HealthCheck() should report ErrNotConnected")
	}
	if len(c.routes) != 0 {
		t.Errorf("routes = %v, want none after failed subscribes", c.routes)
	}
	if got := c.QoS(); got != 1 {
		t.Errorf("QoS() = %d, want 1", got)
	}
}

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v, want nil", err)
	}
}

// disconnectRecorder collects connection-lost callbacks.
type disconnectRecorder struct {
	mu   sync.Mutex
	errs []error
}

func (r *disconnectRecorder) record(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func TestConnectionDown(t *testing.T) {
	c := newClient(testConfig())
	c.connected.Store(true)
	logger := &mockLogger{}
	c.SetLogger(logger)
	rec := &disconnectRecorder{}
	c.SetOnDisconnect(rec.record)

	lost := errors.New("EOF")
	c.connectionDown(lost)

	if c.connected.Load() {
		t.Error("connected flag still set after connection loss")
	}
	if len(rec.errs) != 1 || !errors.Is(rec.errs[0], lost) {
		t.Errorf("disconnect callback got %v", rec.errs)
	}
	if len(logger.warns) != 1 {
		t.Errorf("warnings logged = %v, want one", logger.warns)
	}
}

func TestDispatchRecoversAndLogs(t *testing.T) {
	logger := &mockLogger{}
	c := &Client{}
	c.SetLogger(logger)

	c.dispatch(func(string, []byte) error { panic("boom") }, "purifier/command/x", nil)
	c.dispatch(func(string, []byte) error { return errors.New("bad command") }, "purifier/command/x", nil)
	c.dispatch(func(string, []byte) error { return nil }, "purifier/command/x", nil)

	if len(logger.errors) != 1 {
		t.Errorf("errors logged = %v, want one panic", logger.errors)
	}
	if len(logger.warns) != 1 {
		t.Errorf("warnings logged = %v, want one handler error", logger.warns)
	}

	c.SetLogger(nil)
	if c.getLogger() != nil {
		t.Error("getLogger() should be nil after SetLogger(nil)")
	}
}
