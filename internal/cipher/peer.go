package cipher

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/nerrad567/purifier-bridge/internal/profile"
)

// Peer is the device side of a session. The simulator uses it to answer
// handshakes and frame payloads the way purifier firmware does.
type Peer struct {
	gen        profile.Generation
	secret     []byte
	psk        []byte
	obfuscated bool
	random     io.Reader

	mu      sync.Mutex
	counter uint32
	gcm     *gcmKeys
}

// NewPeer creates the device side for a generation. A nil random uses
// crypto/rand.
func NewPeer(gen profile.Generation, creds Credentials, random io.Reader) (*Peer, error) {
	if random == nil {
		random = rand.Reader
	}
	p := &Peer{gen: gen, obfuscated: creds.Obfuscated, random: random}

	switch gen {
	case profile.GenerationLegacy:
	case profile.GenerationEncrypted:
		if creds.Secret == "" {
			return nil, fmt.Errorf("%w: encrypted generation needs a secret", ErrMissingCredentials)
		}
		p.secret = []byte(creds.Secret)
	case profile.GenerationEncryptedV2:
		psk, err := parsePSK(creds.Secret)
		if err != nil {
			return nil, err
		}
		p.psk = psk
	default:
		return nil, fmt.Errorf("cipher: %w: %q", profile.ErrUnknownGeneration, gen)
	}
	return p, nil
}

// Handshake answers a client sync request.
func (p *Peer) Handshake(req []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.gen {
	case profile.GenerationEncrypted:
		if _, err := parseCounter(strings.TrimSpace(string(req))); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
		}
		counter, err := randomCounter(p.random)
		if err != nil {
			return nil, err
		}
		p.counter = counter
		return []byte(formatCounter(counter)), nil

	case profile.GenerationEncryptedV2:
		var hello helloRequest
		if err := cbor.Unmarshal(req, &hello); err != nil || len(hello.ClientNonce) != handshakeNonceSize {
			return nil, fmt.Errorf("%w: malformed hello", ErrHandshakeFailed)
		}
		deviceNonce := make([]byte, handshakeNonceSize)
		if _, err := io.ReadFull(p.random, deviceNonce); err != nil {
			return nil, err
		}
		keys, err := deriveGCMKeys(p.psk, hello.ClientNonce, deviceNonce, true)
		if err != nil {
			return nil, err
		}
		p.gcm = keys
		p.counter = 0
		return cbor.Marshal(helloResponse{
			DeviceNonce: deviceNonce,
			Proof:       handshakeProof(p.psk, hello.ClientNonce, deviceNonce),
		})

	default:
		return nil, fmt.Errorf("%w: generation %s has no handshake", ErrHandshakeFailed, p.gen)
	}
}

// Seal frames a device payload for the client.
func (p *Peer) Seal(plaintext []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.gen {
	case profile.GenerationEncrypted:
		p.counter++
		return cbcSeal(p.secret, p.counter, plaintext)
	case profile.GenerationEncryptedV2:
		if p.gcm == nil {
			return nil, ErrNoSession
		}
		p.counter++
		return p.gcm.seal(p.counter, plaintext), nil
	default:
		return (&legacyScheme{obfuscated: p.obfuscated}).seal(nil, plaintext)
	}
}

// Open verifies and decrypts a client payload.
func (p *Peer) Open(raw []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.gen {
	case profile.GenerationEncrypted:
		plaintext, _, err := cbcOpen(p.secret, raw)
		return plaintext, err
	case profile.GenerationEncryptedV2:
		if p.gcm == nil {
			return nil, ErrNoSession
		}
		return p.gcm.open(raw)
	default:
		return (&legacyScheme{obfuscated: p.obfuscated}).open(nil, raw)
	}
}

// Forget drops an encrypted_v2 session, as a device reboot would, so the
// device rejects frames until the client handshakes again.
func (p *Peer) Forget() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gcm = nil
}
