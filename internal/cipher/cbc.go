package cipher

import (
	"bytes"
	"context"
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/md5" //nolint:gosec // key derivation mandated by device firmware
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Encrypted generation framing.
const (
	counterHexLen = 8
	digestHexLen  = sha256.Size * 2
	blockHexLen   = aes.BlockSize * 2
)

// cbcScheme implements the encrypted generation.
//
// The client sends a random counter to /sys/dev/sync and adopts the
// counter the device returns. Each payload is keyed by the counter it
// carries:
//
//	counterHex(8) ‖ HEX(AES-CBC(plaintext)) ‖ HEX(SHA-256(counterHex ‖ HEX(ct)))
type cbcScheme struct {
	secret []byte
	random io.Reader
}

func (c *cbcScheme) handshake(ctx context.Context, ex Exchanger) (*Session, error) {
	start, err := randomCounter(c.random)
	if err != nil {
		return nil, fmt.Errorf("cipher: generating counter: %w", err)
	}

	resp, err := postSync(ctx, ex, []byte(formatCounter(start)))
	if err != nil {
		return nil, err
	}

	counter, err := parseCounter(strings.TrimSpace(string(resp)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}

	return &Session{
		counter: counter,
		limit:   math.MaxUint32,
		secret:  c.secret,
	}, nil
}

func (c *cbcScheme) seal(s *Session, plaintext []byte) ([]byte, error) {
	ctr, err := s.next()
	if err != nil {
		return nil, err
	}
	return cbcSeal(s.secret, ctr, plaintext)
}

func (c *cbcScheme) open(s *Session, raw []byte) ([]byte, error) {
	plaintext, _, err := cbcOpen(s.secret, raw)
	return plaintext, err
}

// cbcSeal frames plaintext under the given counter.
func cbcSeal(secret []byte, counter uint32, plaintext []byte) ([]byte, error) {
	counterHex := formatCounter(counter)
	block, iv, err := cbcKey(secret, counterHex)
	if err != nil {
		return nil, err
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ct := make([]byte, len(padded))
	stdcipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	ctHex := strings.ToUpper(hex.EncodeToString(ct))
	digest := sha256.Sum256([]byte(counterHex + ctHex))

	var b bytes.Buffer
	b.Grow(counterHexLen + len(ctHex) + digestHexLen)
	b.WriteString(counterHex)
	b.WriteString(ctHex)
	b.WriteString(strings.ToUpper(hex.EncodeToString(digest[:])))
	return b.Bytes(), nil
}

// cbcOpen verifies and decrypts a framed payload, returning the plaintext
// and the counter it was sealed under.
func cbcOpen(secret, raw []byte) ([]byte, uint32, error) {
	msg := strings.ToUpper(strings.TrimSpace(string(raw)))
	n := len(msg)
	if n < counterHexLen+blockHexLen+digestHexLen || (n-counterHexLen-digestHexLen)%blockHexLen != 0 {
		return nil, 0, fmt.Errorf("%w: bad frame length %d", ErrDecryptError, n)
	}

	counterHex := msg[:counterHexLen]
	ctHex := msg[counterHexLen : n-digestHexLen]
	digestHex := msg[n-digestHexLen:]

	want := sha256.Sum256([]byte(counterHex + ctHex))
	if subtle.ConstantTimeCompare([]byte(strings.ToUpper(hex.EncodeToString(want[:]))), []byte(digestHex)) != 1 {
		return nil, 0, fmt.Errorf("%w: digest mismatch", ErrDecryptError)
	}

	counter, err := parseCounter(counterHex)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrDecryptError, err)
	}
	ct, err := hex.DecodeString(ctHex)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrDecryptError, err)
	}

	block, iv, err := cbcKey(secret, counterHex)
	if err != nil {
		return nil, 0, err
	}
	padded := make([]byte, len(ct))
	stdcipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ct)

	plaintext, err := pkcs7Unpad(padded, aes.BlockSize)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrDecryptError, err)
	}
	return plaintext, counter, nil
}

// cbcKey derives the AES key and IV from the upper-case hex MD5 of
// secret ‖ counterHex: the first 16 characters key AES-128, the last 16
// form the IV.
func cbcKey(secret []byte, counterHex string) (stdcipher.Block, []byte, error) {
	sum := md5.Sum(append(append([]byte{}, secret...), counterHex...)) //nolint:gosec // device protocol
	material := strings.ToUpper(hex.EncodeToString(sum[:]))
	half := len(material) / 2 //nolint:mnd // key ‖ iv

	block, err := aes.NewCipher([]byte(material[:half]))
	if err != nil {
		return nil, nil, fmt.Errorf("cipher: aes key: %w", err)
	}
	return block, []byte(material[half:]), nil
}

func pkcs7Pad(data []byte, size int) []byte {
	pad := size - len(data)%size
	out := make([]byte, len(data)+pad)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(pad)
	}
	return out
}

func pkcs7Unpad(data []byte, size int) ([]byte, error) {
	if len(data) == 0 || len(data)%size != 0 {
		return nil, fmt.Errorf("padded length %d not a multiple of %d", len(data), size)
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > size {
		return nil, fmt.Errorf("invalid padding byte %d", pad)
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, errors.New("inconsistent padding")
		}
	}
	return data[:len(data)-pad], nil
}

func formatCounter(c uint32) string {
	return fmt.Sprintf("%08X", c)
}

func parseCounter(s string) (uint32, error) {
	if len(s) != counterHexLen {
		return 0, fmt.Errorf("counter %q must be %d hex digits", s, counterHexLen)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("counter %q: %w", s, err)
	}
	return uint32(v), nil
}

// randomCounter returns a starting counter in the lower half of the range
// so a fresh session never begins close to exhaustion.
func randomCounter(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]) >> 1, nil
}
