package simulator

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/nerrad567/purifier-bridge/internal/cipher"
	"github.com/nerrad567/purifier-bridge/internal/coap"
	"github.com/nerrad567/purifier-bridge/internal/codec"
	"github.com/nerrad567/purifier-bridge/internal/profile"
	"github.com/plgd-dev/go-coap/v3/message/codes"
)

// Device resource paths.
const (
	StatusPath  = "/sys/dev/status"
	ControlPath = "/sys/dev/control"
)

// Config describes a simulated device.
type Config struct {
	// Addr is the UDP listen address. Default "127.0.0.1:0".
	Addr string

	Generation  profile.Generation
	Credentials cipher.Credentials

	// Status is the initial reported state, keyed by protocol field.
	Status codec.StatusMap

	// Random seeds handshake counters and nonces. Nil uses crypto/rand.
	Random io.Reader
}

// Request records one request the device received.
type Request struct {
	Method codes.Code
	Path   string
}

// Device is a running simulated purifier.
type Device struct {
	gen  profile.Generation
	peer *cipher.Peer
	srv  *coap.Server

	mu         sync.Mutex
	status     codec.StatusMap
	requests   []Request
	commands   []codec.StatusMap
	handshakes int
	drop       int
	corrupt    int
}

// Start creates the device and begins serving.
func Start(cfg Config) (*Device, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	peer, err := cipher.NewPeer(cfg.Generation, cfg.Credentials, cfg.Random)
	if err != nil {
		return nil, fmt.Errorf("simulator: %w", err)
	}

	d := &Device{
		gen:    cfg.Generation,
		peer:   peer,
		status: make(codec.StatusMap, len(cfg.Status)),
	}
	for k, v := range cfg.Status {
		d.status[k] = v
	}

	srv, err := coap.Listen(cfg.Addr, coap.HandlerFunc(d.serve))
	if err != nil {
		return nil, fmt.Errorf("simulator: listening on %s: %w", cfg.Addr, err)
	}
	d.srv = srv
	return d, nil
}

// SetLogger sets the logger of the underlying server.
func (d *Device) SetLogger(l coap.Logger) {
	d.srv.SetLogger(l)
}

// Addr returns the bound address.
func (d *Device) Addr() string {
	return d.srv.Addr().String()
}

// Host returns the bound IP.
func (d *Device) Host() string {
	host, _, _ := net.SplitHostPort(d.Addr())
	return host
}

// Port returns the bound UDP port.
func (d *Device) Port() int {
	_, port, _ := net.SplitHostPort(d.Addr())
	n, _ := strconv.Atoi(port)
	return n
}

// Close stops the device.
func (d *Device) Close() error {
	return d.srv.Close()
}

// Set changes one reported field.
func (d *Device) Set(key string, v any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status[key] = v
}

// Delete removes one reported field.
func (d *Device) Delete(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.status, key)
}

// Status returns a copy of the reported state.
func (d *Device) Status() codec.StatusMap {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(codec.StatusMap, len(d.status))
	for k, v := range d.status {
		out[k] = v
	}
	return out
}

// Requests returns every request received, in order.
func (d *Device) Requests() []Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Request(nil), d.requests...)
}

// Commands returns every decoded control request, in order.
func (d *Device) Commands() []codec.StatusMap {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]codec.StatusMap(nil), d.commands...)
}

// Handshakes returns the number of completed handshakes.
func (d *Device) Handshakes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handshakes
}

// DropNext makes the device ignore the next n requests.
func (d *Device) DropNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drop = n
}

// CorruptNext makes the device damage the next n status replies.
func (d *Device) CorruptNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.corrupt = n
}

// Reboot discards the device's session state.
func (d *Device) Reboot() {
	d.peer.Forget()
}

func (d *Device) serve(req *coap.Request) *coap.Response {
	d.mu.Lock()
	defer d.mu.Unlock()

	path := req.Path
	d.requests = append(d.requests, Request{Method: req.Method, Path: path})
	if d.drop > 0 {
		d.drop--
		return nil
	}

	switch path {
	case cipher.SyncPath:
		return d.handshake(req)
	case StatusPath:
		return d.reportStatus(req)
	case ControlPath:
		return d.control(req)
	default:
		return &coap.Response{Code: codes.NotFound}
	}
}

func (d *Device) handshake(req *coap.Request) *coap.Response {
	if req.Method != codes.POST {
		return &coap.Response{Code: codes.MethodNotAllowed}
	}
	if !d.gen.HandshakeRequired() {
		return &coap.Response{Code: codes.NotFound}
	}
	resp, err := d.peer.Handshake(req.Payload)
	if err != nil {
		return &coap.Response{Code: codes.BadRequest}
	}
	d.handshakes++
	return &coap.Response{Code: codes.Changed, Payload: resp}
}

func (d *Device) reportStatus(req *coap.Request) *coap.Response {
	if req.Method != codes.GET {
		return &coap.Response{Code: codes.MethodNotAllowed}
	}
	body, err := codec.EncodeStatus(d.status, d.gen)
	if err != nil {
		return &coap.Response{Code: codes.InternalServerError}
	}
	sealed, err := d.peer.Seal(body)
	if err != nil {
		return &coap.Response{Code: codes.Unauthorized}
	}

	if d.corrupt > 0 {
		d.corrupt--
		sealed = corrupt(d.gen, sealed)
	}
	return &coap.Response{Code: codes.Content, Payload: sealed}
}

func (d *Device) control(req *coap.Request) *coap.Response {
	if req.Method != codes.POST {
		return &coap.Response{Code: codes.MethodNotAllowed}
	}
	plain, err := d.peer.Open(req.Payload)
	if err != nil {
		return &coap.Response{Code: codes.Unauthorized}
	}
	cmd, err := codec.DecodeCommand(plain, d.gen)
	if err != nil {
		return &coap.Response{Code: codes.BadRequest}
	}

	d.commands = append(d.commands, cmd)
	for k, v := range cmd {
		d.status[k] = v
	}
	return &coap.Response{Code: codes.Changed}
}

// corrupt damages a sealed frame so the client rejects it.
func corrupt(gen profile.Generation, sealed []byte) []byte {
	if gen == profile.GenerationLegacy {
		return []byte("corrupt")
	}
	out := append([]byte(nil), sealed...)
	last := len(out) - 1
	if gen == profile.GenerationEncrypted {
		// Keep the frame hex so the digest check is what fails.
		if out[last] == '0' {
			out[last] = '1'
		} else {
			out[last] = '0'
		}
		return out
	}
	out[last] ^= 0xFF
	return out
}
