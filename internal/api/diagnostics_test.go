package api

import (
	"io"
	"net/http"
	"reflect"
	"strings"
	"testing"

	"github.com/nerrad567/purifier-bridge/internal/infrastructure/config"
)

func TestRedact(t *testing.T) {
	in := map[string]any{
		"id":   "office",
		"host": "192.0.2.10",
		"status": map[string]any{
			"pm25":     int64(4),
			"DeviceId": "abc123",
			"mac":      "aa:bb:cc:dd:ee:ff",
		},
		"devices": []any{
			map[string]any{"serial_number": "X1", "name": "Bedroom"},
			"plain",
		},
		"ProductId": "p",
		"device_id": "d",
	}
	want := map[string]any{
		"id":   "office",
		"host": redactedValue,
		"status": map[string]any{
			"pm25":     int64(4),
			"DeviceId": redactedValue,
			"mac":      redactedValue,
		},
		"devices": []any{
			map[string]any{"serial_number": redactedValue, "name": "Bedroom"},
			"plain",
		},
		"ProductId": redactedValue,
		"device_id": redactedValue,
	}

	got := Redact(in)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Redact() = %v, want %v", got, want)
	}
	if in["host"] != "192.0.2.10" {
		t.Error("Redact() modified its input")
	}
	if Redact("scalar") != "scalar" {
		t.Error("Redact() should return scalars unchanged")
	}
}

func TestDiagnosticsEndpoint(t *testing.T) {
	settings := &config.Config{
		MQTT: config.MQTTConfig{
			Broker: config.MQTTBrokerConfig{Host: "broker.lan", Port: 1883},
			Auth:   config.MQTTAuthConfig{Username: "bridge", Password: "hunter2"},
		},
		Devices: []config.DeviceConfig{
			{ID: "office", Host: "192.0.2.10", Model: "AC2729", Secret: "s3cret"},
		},
	}
	_, ts := testServer(t, Deps{Manager: testManager(t, newFakeDevice()), Settings: settings})

	resp := do(t, http.MethodGet, ts.URL+"/api/v1/diagnostics", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	body := string(data)

	for _, secret := range []string{"192.0.2.10", "broker.lan", "hunter2", "s3cret"} {
		if strings.Contains(body, secret) {
			t.Errorf("diagnostics leaks %q: %s", secret, body)
		}
	}
	for _, want := range []string{`"office"`, `"AC2729"`, `"version":"test"`, redactedValue} {
		if !strings.Contains(body, want) {
			t.Errorf("diagnostics missing %s: %s", want, body)
		}
	}
	if settings.Devices[0].Host != "192.0.2.10" {
		t.Error("diagnostics modified the live config")
	}
}
