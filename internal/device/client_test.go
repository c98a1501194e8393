package device

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/nerrad567/purifier-bridge/internal/cipher"
	"github.com/nerrad567/purifier-bridge/internal/coap"
	"github.com/nerrad567/purifier-bridge/internal/codec"
	"github.com/nerrad567/purifier-bridge/internal/profile"
	"github.com/nerrad567/purifier-bridge/internal/simulator"
	"github.com/plgd-dev/go-coap/v3/message/codes"
)

const (
	testSecret = "s3cret-device-key"
	testPSK    = "000102030405060708090a0b0c0d0e0f"
)

var testStatus = map[profile.Generation]codec.StatusMap{
	profile.GenerationLegacy:      {"pwr": int64(1), "speed": int64(2), "pm25": int64(34), "modelid": "AC2729/10", "name": "Bedroom"},
	profile.GenerationEncrypted:   {"D03-02": "ON", "D03-13": int64(1), "D03-33": int64(5), "D01-05": "AC3737/10", "D01-03": "Office"},
	profile.GenerationEncryptedV2: {"D03102": int64(1), "D0310D": int64(2), "D03221": int64(8), "D01S05": "AC0950/10", "D01S03": "Hall"},
}

var testModels = map[profile.Generation]string{
	profile.GenerationLegacy:      "AC2729/10",
	profile.GenerationEncrypted:   "AC3737/10",
	profile.GenerationEncryptedV2: "AC0950/10",
}

func credsFor(gen profile.Generation) cipher.Credentials {
	switch gen {
	case profile.GenerationEncrypted:
		return cipher.Credentials{Secret: testSecret}
	case profile.GenerationEncryptedV2:
		return cipher.Credentials{Secret: testPSK}
	default:
		return cipher.Credentials{}
	}
}

func startDevice(t *testing.T, gen profile.Generation) *simulator.Device {
	t.Helper()
	d, err := simulator.Start(simulator.Config{
		Generation:  gen,
		Credentials: credsFor(gen),
		Status:      testStatus[gen],
	})
	if err != nil {
		t.Fatalf("simulator.Start() error = %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func newTestClient(t *testing.T, d *simulator.Device, gen profile.Generation) *Client {
	t.Helper()
	reg, err := profile.LoadBuiltin()
	if err != nil {
		t.Fatal(err)
	}
	p, err := reg.ProfileFor(testModels[gen])
	if err != nil {
		t.Fatal(err)
	}
	c, err := NewClient(Endpoint{ID: "test", Host: d.Host(), Port: d.Port(), Generation: gen}, p, credsFor(gen), WithTimeout(500*time.Millisecond))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestFetchStatus(t *testing.T) {
	for _, gen := range profile.Generations {
		t.Run(string(gen), func(t *testing.T) {
			d := startDevice(t, gen)
			c := newTestClient(t, d, gen)

			got, err := c.FetchStatus(context.Background())
			if err != nil {
				t.Fatalf("FetchStatus() error = %v", err)
			}
			if !reflect.DeepEqual(got, testStatus[gen]) {
				t.Errorf("FetchStatus() = %v, want %v", got, testStatus[gen])
			}

			// The session is reused for the second poll.
			if _, err := c.FetchStatus(context.Background()); err != nil {
				t.Fatalf("second FetchStatus() error = %v", err)
			}
			wantHandshakes := 0
			if gen.HandshakeRequired() {
				wantHandshakes = 1
			}
			if d.Handshakes() != wantHandshakes {
				t.Errorf("handshakes = %d, want %d", d.Handshakes(), wantHandshakes)
			}
		})
	}
}

func TestSendCommandHandshakesOnce(t *testing.T) {
	tests := []struct {
		gen profile.Generation
		key string
	}{
		{profile.GenerationEncrypted, "D03-13"},
		{profile.GenerationEncryptedV2, "D0310D"},
	}
	for _, tt := range tests {
		t.Run(string(tt.gen), func(t *testing.T) {
			d := startDevice(t, tt.gen)
			c := newTestClient(t, d, tt.gen)

			if err := c.SendCommand(context.Background(), codec.StatusMap{tt.key: int64(3)}); err != nil {
				t.Fatalf("SendCommand() error = %v", err)
			}

			want := []simulator.Request{
				{Method: codes.POST, Path: cipher.SyncPath},
				{Method: codes.POST, Path: ControlPath},
			}
			if got := d.Requests(); !reflect.DeepEqual(got, want) {
				t.Errorf("requests = %v, want %v", got, want)
			}
			cmds := d.Commands()
			if len(cmds) != 1 || !reflect.DeepEqual(cmds[0], codec.StatusMap{tt.key: int64(3)}) {
				t.Errorf("device received %v", cmds)
			}
		})
	}
}

func TestSendCommandUnsupportedSkipsNetwork(t *testing.T) {
	d := startDevice(t, profile.GenerationEncrypted)
	c := newTestClient(t, d, profile.GenerationEncrypted)

	err := c.SendCommand(context.Background(), codec.StatusMap{"D03-33": int64(1)})
	if !errors.Is(err, codec.ErrUnsupportedCapability) {
		t.Fatalf("error = %v, want ErrUnsupportedCapability", err)
	}
	if n := len(d.Requests()); n != 0 {
		t.Errorf("device saw %d requests, want 0", n)
	}
}

func TestCorruptStatus(t *testing.T) {
	tests := []struct {
		gen     profile.Generation
		wantErr error
	}{
		{profile.GenerationLegacy, codec.ErrMalformedPayload},
		{profile.GenerationEncrypted, cipher.ErrDecryptError},
		{profile.GenerationEncryptedV2, cipher.ErrDecryptError},
	}
	for _, tt := range tests {
		t.Run(string(tt.gen), func(t *testing.T) {
			d := startDevice(t, tt.gen)
			c := newTestClient(t, d, tt.gen)

			d.CorruptNext(1)
			if _, err := c.FetchStatus(context.Background()); !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if tt.gen.HandshakeRequired() && c.SessionState() != cipher.StateInvalid {
				t.Errorf("session state = %s, want invalid", c.SessionState())
			}

			if _, err := c.FetchStatus(context.Background()); err != nil {
				t.Fatalf("recovery FetchStatus() error = %v", err)
			}
		})
	}
}

func TestDeviceRebootInvalidatesSession(t *testing.T) {
	d := startDevice(t, profile.GenerationEncryptedV2)
	c := newTestClient(t, d, profile.GenerationEncryptedV2)
	ctx := context.Background()

	if _, err := c.FetchStatus(ctx); err != nil {
		t.Fatal(err)
	}
	d.Reboot()

	if _, err := c.FetchStatus(ctx); !errors.Is(err, cipher.ErrDecryptError) {
		t.Fatalf("error after reboot = %v, want ErrDecryptError", err)
	}
	if _, err := c.FetchStatus(ctx); err != nil {
		t.Fatalf("FetchStatus() after re-handshake error = %v", err)
	}
	if d.Handshakes() != 2 {
		t.Errorf("handshakes = %d, want 2", d.Handshakes())
	}
}

func TestFetchStatusTimeout(t *testing.T) {
	d := startDevice(t, profile.GenerationLegacy)
	c := newTestClient(t, d, profile.GenerationLegacy)

	d.DropNext(1)
	if _, err := c.FetchStatus(context.Background()); !errors.Is(err, coap.ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
	if st := c.Stats(); st.Transport.Timeouts != 1 {
		t.Errorf("transport timeouts = %d, want 1", st.Transport.Timeouts)
	}
}

func TestNewClientValidation(t *testing.T) {
	legacy := profile.Minimal(profile.GenerationLegacy)
	tests := []struct {
		name string
		ep   Endpoint
		p    *profile.DeviceProfile
		cr   cipher.Credentials
		want error
	}{
		{"no host", Endpoint{Generation: profile.GenerationLegacy}, legacy, cipher.Credentials{}, ErrInvalidEndpoint},
		{"bad port", Endpoint{Host: "h", Port: 70000, Generation: profile.GenerationLegacy}, legacy, cipher.Credentials{}, ErrInvalidEndpoint},
		{"unknown generation", Endpoint{Host: "h", Generation: "v9"}, legacy, cipher.Credentials{}, ErrInvalidEndpoint},
		{"profile mismatch", Endpoint{Host: "h", Generation: profile.GenerationEncrypted}, legacy, cipher.Credentials{Secret: "x"}, ErrInvalidEndpoint},
		{"missing secret", Endpoint{Host: "h", Generation: profile.GenerationEncrypted}, profile.Minimal(profile.GenerationEncrypted), cipher.Credentials{}, cipher.ErrMissingCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewClient(tt.ep, tt.p, tt.cr); !errors.Is(err, tt.want) {
				t.Errorf("NewClient() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestProbe(t *testing.T) {
	for _, gen := range profile.Generations {
		t.Run(string(gen), func(t *testing.T) {
			d := startDevice(t, gen)

			res, err := Probe(context.Background(), d.Host(), d.Port(), credsFor(gen), WithTimeout(300*time.Millisecond))
			if err != nil {
				t.Fatalf("Probe() error = %v", err)
			}
			if res.Generation != gen {
				t.Errorf("Generation = %s, want %s", res.Generation, gen)
			}
			if res.Model != testModels[gen] {
				t.Errorf("Model = %q, want %q", res.Model, testModels[gen])
			}
			if res.Name == "" {
				t.Error("Name is empty")
			}
		})
	}
}

func TestProbeFails(t *testing.T) {
	// An encrypted device cannot be read without its secret.
	d := startDevice(t, profile.GenerationEncrypted)

	_, err := Probe(context.Background(), d.Host(), d.Port(), cipher.Credentials{}, WithTimeout(300*time.Millisecond))
	if !errors.Is(err, ErrProbeFailed) {
		t.Fatalf("error = %v, want ErrProbeFailed", err)
	}
}
