package cipher

import "errors"

// Domain errors for the cipher package.
var (
	// ErrHandshakeFailed is returned when a handshake response is malformed
	// or fails verification. The module is reset to NoSession.
	ErrHandshakeFailed = errors.New("cipher: handshake failed")

	// ErrDecryptError is returned when a payload fails authentication or is
	// not valid ciphertext. The session is invalidated.
	ErrDecryptError = errors.New("cipher: decrypt error")

	// ErrSessionExhausted is returned when the session counter would
	// overflow. The session is invalidated and must be re-established.
	ErrSessionExhausted = errors.New("cipher: session counter exhausted")

	// ErrNoSession is returned when Encrypt or Decrypt is called with a
	// session that is not the module's current established session.
	ErrNoSession = errors.New("cipher: no established session")

	// ErrMissingCredentials is returned when an encrypted generation is
	// configured without a secret.
	ErrMissingCredentials = errors.New("cipher: missing credentials")
)
