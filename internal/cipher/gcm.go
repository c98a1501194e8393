package cipher

import (
	"context"
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/hkdf"
)

// Encrypted-v2 handshake and framing sizes.
const (
	handshakeNonceSize = 16
	minPSKSize         = 16
	gcmKeySize         = 32
	noncePrefixSize    = 4
	seqHeaderSize      = 4
)

// hkdfInfo binds derived keys to this protocol.
var hkdfInfo = []byte("purifier-v2 session")

// helloRequest is the client's handshake message.
type helloRequest struct {
	ClientNonce []byte `cbor:"1,keyasint"`
}

// helloResponse is the device's handshake reply.
type helloResponse struct {
	DeviceNonce []byte `cbor:"1,keyasint"`
	Proof       []byte `cbor:"2,keyasint"`
}

// gcmKeys is the directional AEAD state of an encrypted-v2 session.
type gcmKeys struct {
	aead      stdcipher.AEAD
	outPrefix [noncePrefixSize]byte
	inPrefix  [noncePrefixSize]byte

	peerSeq  uint32
	peerSeen bool
}

// gcmScheme implements the encrypted_v2 generation.
//
// The client sends a random nonce; the device answers with its own nonce
// and an HMAC-SHA256 proof over both, keyed by the pre-shared key. Session
// keys come from HKDF-SHA256 over the PSK salted with both nonces. Frames
// are seq(4, big endian) ‖ AES-256-GCM(plaintext) with the seq header as
// additional data.
type gcmScheme struct {
	psk    []byte
	random io.Reader
}

func (g *gcmScheme) handshake(ctx context.Context, ex Exchanger) (*Session, error) {
	clientNonce := make([]byte, handshakeNonceSize)
	if _, err := io.ReadFull(g.random, clientNonce); err != nil {
		return nil, fmt.Errorf("cipher: generating nonce: %w", err)
	}

	req, err := cbor.Marshal(helloRequest{ClientNonce: clientNonce})
	if err != nil {
		return nil, fmt.Errorf("cipher: encoding hello: %w", err)
	}

	resp, err := postSync(ctx, ex, req)
	if err != nil {
		return nil, err
	}

	var hello helloResponse
	if err := cbor.Unmarshal(resp, &hello); err != nil {
		return nil, fmt.Errorf("%w: decoding hello: %w", ErrHandshakeFailed, err)
	}
	if len(hello.DeviceNonce) != handshakeNonceSize {
		return nil, fmt.Errorf("%w: device nonce is %d bytes", ErrHandshakeFailed, len(hello.DeviceNonce))
	}
	if !hmac.Equal(hello.Proof, handshakeProof(g.psk, clientNonce, hello.DeviceNonce)) {
		return nil, fmt.Errorf("%w: device proof mismatch", ErrHandshakeFailed)
	}

	keys, err := deriveGCMKeys(g.psk, clientNonce, hello.DeviceNonce, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}

	return &Session{
		limit: math.MaxUint32,
		gcm:   keys,
	}, nil
}

func (g *gcmScheme) seal(s *Session, plaintext []byte) ([]byte, error) {
	seq, err := s.next()
	if err != nil {
		return nil, err
	}
	return s.gcm.seal(seq, plaintext), nil
}

func (g *gcmScheme) open(s *Session, raw []byte) ([]byte, error) {
	return s.gcm.open(raw)
}

func (k *gcmKeys) seal(seq uint32, plaintext []byte) []byte {
	var aad [seqHeaderSize]byte
	binary.BigEndian.PutUint32(aad[:], seq)

	out := make([]byte, seqHeaderSize, seqHeaderSize+len(plaintext)+k.aead.Overhead())
	copy(out, aad[:])
	return k.aead.Seal(out, k.nonce(k.outPrefix, seq), plaintext, aad[:])
}

// open authenticates a frame and rejects sequence numbers that do not
// strictly increase.
func (k *gcmKeys) open(raw []byte) ([]byte, error) {
	if len(raw) < seqHeaderSize+k.aead.Overhead() {
		return nil, fmt.Errorf("%w: frame too short (%d bytes)", ErrDecryptError, len(raw))
	}
	seq := binary.BigEndian.Uint32(raw[:seqHeaderSize])
	if k.peerSeen && seq <= k.peerSeq {
		return nil, fmt.Errorf("%w: replayed sequence %d (last %d)", ErrDecryptError, seq, k.peerSeq)
	}

	plaintext, err := k.aead.Open(nil, k.nonce(k.inPrefix, seq), raw[seqHeaderSize:], raw[:seqHeaderSize])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptError, err)
	}
	k.peerSeq = seq
	k.peerSeen = true
	return plaintext, nil
}

func (k *gcmKeys) nonce(prefix [noncePrefixSize]byte, seq uint32) []byte {
	n := make([]byte, k.aead.NonceSize())
	copy(n, prefix[:])
	binary.BigEndian.PutUint64(n[noncePrefixSize:], uint64(seq))
	return n
}

// handshakeProof is HMAC-SHA256(psk, clientNonce ‖ deviceNonce).
func handshakeProof(psk, clientNonce, deviceNonce []byte) []byte {
	mac := hmac.New(sha256.New, psk)
	mac.Write(clientNonce)
	mac.Write(deviceNonce)
	return mac.Sum(nil)
}

// deriveGCMKeys expands the session key and both nonce prefixes. The
// device side swaps the prefixes so each direction uses its own.
func deriveGCMKeys(psk, clientNonce, deviceNonce []byte, deviceSide bool) (*gcmKeys, error) {
	salt := make([]byte, 0, len(clientNonce)+len(deviceNonce))
	salt = append(salt, clientNonce...)
	salt = append(salt, deviceNonce...)

	material := make([]byte, gcmKeySize+2*noncePrefixSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, psk, salt, hkdfInfo), material); err != nil {
		return nil, fmt.Errorf("deriving session keys: %w", err)
	}

	block, err := aes.NewCipher(material[:gcmKeySize])
	if err != nil {
		return nil, fmt.Errorf("aes key: %w", err)
	}
	aead, err := stdcipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}

	k := &gcmKeys{aead: aead}
	toDevice := material[gcmKeySize : gcmKeySize+noncePrefixSize]
	toClient := material[gcmKeySize+noncePrefixSize:]
	if deviceSide {
		copy(k.outPrefix[:], toClient)
		copy(k.inPrefix[:], toDevice)
	} else {
		copy(k.outPrefix[:], toDevice)
		copy(k.inPrefix[:], toClient)
	}
	return k, nil
}

// parsePSK decodes a hex pre-shared key.
func parsePSK(secret string) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("%w: encrypted_v2 generation needs a hex psk", ErrMissingCredentials)
	}
	psk, err := hex.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: psk is not hex: %w", ErrMissingCredentials, err)
	}
	if len(psk) < minPSKSize {
		return nil, fmt.Errorf("%w: psk must be at least %d bytes", ErrMissingCredentials, minPSKSize)
	}
	return psk, nil
}
