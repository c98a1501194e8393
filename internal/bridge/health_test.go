package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/purifier-bridge/internal/cipher"
	"github.com/nerrad567/purifier-bridge/internal/coap"
	"github.com/nerrad567/purifier-bridge/internal/codec"
	"github.com/nerrad567/purifier-bridge/internal/coordinator"
	"github.com/nerrad567/purifier-bridge/internal/device"
	"github.com/nerrad567/purifier-bridge/internal/profile"
)

func TestHealthDetermine(t *testing.T) {
	m := newFakeMQTT()
	endpoints := []EndpointHealth{{ID: "office", Available: true}, {ID: "bedroom", Available: true}}
	h := NewHealthReporter(HealthReporterConfig{
		Publisher: m,
		Topic:     m.topics.Health(),
		Endpoints: func() []EndpointHealth { return endpoints },
	})

	if status, reason := h.Determine(); status != HealthHealthy || reason != "" {
		t.Errorf("Determine() = %s %q, want healthy", status, reason)
	}

	endpoints[1].Available = false
	if status, reason := h.Determine(); status != HealthDegraded || reason != "endpoint unavailable: bedroom" {
		t.Errorf("Determine() = %s %q", status, reason)
	}

	m.connected = false
	if status, reason := h.Determine(); status != HealthDegraded || reason != "MQTT disconnected" {
		t.Errorf("Determine() = %s %q", status, reason)
	}
}

func TestHealthMessage(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{
		Version: "1.2.0",
		Endpoints: func() []EndpointHealth {
			return []EndpointHealth{{ID: "a", Available: true}, {ID: "b"}, {ID: "c", Available: true}}
		},
		Stats: func() Statistics { return Statistics{CommandsReceived: 4} },
	})

	msg := h.Message(HealthDegraded, "endpoint unavailable: b")
	if msg.Version != "1.2.0" || msg.DevicesManaged != 3 || msg.DevicesAvailable != 2 {
		t.Errorf("Message() = %+v", msg)
	}
	if msg.Statistics == nil || msg.Statistics.CommandsReceived != 4 {
		t.Errorf("Statistics = %+v", msg.Statistics)
	}
	if msg.Timestamp.IsZero() || msg.UptimeSeconds < 0 {
		t.Errorf("Timestamp = %v Uptime = %d", msg.Timestamp, msg.UptimeSeconds)
	}
}

func TestHealthReporterLifecycle(t *testing.T) {
	m := newFakeMQTT()
	h := NewHealthReporter(HealthReporterConfig{
		Version:   "test",
		Interval:  10 * time.Millisecond,
		Publisher: m,
		Topic:     m.topics.Health(),
	})

	h.Start(context.Background())
	m.waitFor(t, "purifier/health", 3)
	h.Stop()
	h.Stop()

	msgs := m.on("purifier/health")
	last := decode[HealthMessage](t, msgs[len(msgs)-1])
	if last.Status != HealthStopping {
		t.Errorf("last status = %s, want stopping", last.Status)
	}
	if !msgs[0].retained {
		t.Error("health should be retained")
	}
	if decode[HealthMessage](t, msgs[0]).Status != HealthHealthy {
		t.Errorf("first periodic status = %s", msgs[0].payload)
	}
}

func TestHealthReporterNilPublisher(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{})
	if err := h.PublishNow(); err != nil {
		t.Errorf("PublishNow() without publisher error = %v", err)
	}
}

// unreachableDevice fails every exchange.
type unreachableDevice struct{}

func (unreachableDevice) FetchStatus(context.Context) (codec.StatusMap, error) {
	return nil, coap.ErrUnreachable
}
func (unreachableDevice) SendCommand(context.Context, codec.StatusMap) error {
	return coap.ErrUnreachable
}
func (unreachableDevice) ResetSession() {}
func (unreachableDevice) Close() error  { return nil }

func TestManagerEndpoints(t *testing.T) {
	mgr, err := coordinator.NewManager(nil, coordinator.Policy{Interval: time.Hour, FailureThreshold: 1},
		coordinator.WithDeviceFactory(func(device.Endpoint, *profile.DeviceProfile, cipher.Credentials) (coordinator.Device, error) {
			return unreachableDevice{}, nil
		}),
		coordinator.WithProber(func(context.Context, string, int, cipher.Credentials) (device.ProbeResult, error) {
			t.Error("generation detection ran for an endpoint with a known model")
			return device.ProbeResult{}, errors.New("no network in tests")
		}),
	)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer mgr.StopAll() //nolint:errcheck // Test cleanup

	p, err := mgr.Start(context.Background(), coordinator.EndpointConfig{ID: "office", Host: "192.0.2.10", Model: "AC2729"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for p.Available() {
		if time.Now().After(deadline) {
			t.Fatal("endpoint never became unavailable")
		}
		time.Sleep(5 * time.Millisecond)
	}

	got := ManagerEndpoints(mgr)()
	if len(got) != 1 {
		t.Fatalf("endpoints = %d, want 1", len(got))
	}
	ep := got[0]
	if ep.ID != "office" || ep.Profile != "AC2729" || ep.Available {
		t.Errorf("endpoint = %+v", ep)
	}
	if ep.Reason != coordinator.ReasonUnreachable || ep.LastSeen == nil || ep.Stats.Failures == 0 {
		t.Errorf("endpoint = %+v", ep)
	}
}
