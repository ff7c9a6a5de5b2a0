package sigutil

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedAlgorithm is returned when a public key names an algorithm
// other than ed25519, the only one accepted in v1 per the identity design.
var ErrUnsupportedAlgorithm = errors.New("unsupported signature algorithm")

// EncodeKey renders a raw ed25519 public key as the wire format "<algo>:<base64>".
func EncodeKey(pub ed25519.PublicKey) string {
	return "ed25519:" + base64.StdEncoding.EncodeToString(pub)
}

// ParsePublicKey decodes the "<algo>:<base64>" wire format into a usable
// ed25519 public key, rejecting any algorithm tag other than ed25519.
func ParsePublicKey(encoded string) (ed25519.PublicKey, error) {
	parts := strings.SplitN(encoded, ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed public key %q", encoded)
	}
	if parts[0] != "ed25519" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, parts[0])
	}
	raw, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key has wrong length %d", len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// Verify reports whether sig is a valid ed25519 detached signature over
// message under pub. The result is a pure function of its three arguments
// and is never cached beyond the request that computed it.
func Verify(pub ed25519.PublicKey, message, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, message, sig)
}

// Sign produces a detached ed25519 signature, used by seed tooling and tests
// that need to act as a signing agent.
func Sign(priv ed25519.PrivateKey, message []byte) []byte {
	return ed25519.Sign(priv, message)
}
