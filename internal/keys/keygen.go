package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// CoreLength is the length of the random base62 portion of a key.
	CoreLength = 24

	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	// Bytes at or above this value are discarded so that b % 62 stays
	// uniform over the alphabet (248 = 4 * 62).
	rejectionBound = 248
)

// NormalizePrefix lowercases a product key prefix, trims surrounding
// whitespace and trailing dashes, and strips everything outside [a-z0-9].
// An empty result means the key gets no prefix.
func NormalizePrefix(prefix string) string {
	p := strings.ToLower(strings.TrimSpace(prefix))
	p = strings.TrimRight(p, "-")

	var b strings.Builder
	b.Grow(len(p))
	for _, r := range p {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// randomBase62 produces n uniformly distributed base62 characters using
// rejection sampling over crypto/rand.
func randomBase62(n int) (string, error) {
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			if len(out) == n {
				break
			}
			if b < rejectionBound {
				out = append(out, alphabet[b%62])
			}
		}
	}
	return string(out), nil
}

// Make generates a fresh license key. The prefix must already be
// normalized; when it is empty the key is just the random core.
func Make(prefix string) (string, error) {
	core, err := randomBase62(CoreLength)
	if err != nil {
		return "", err
	}
	if prefix == "" {
		return core, nil
	}
	return prefix + "-" + core, nil
}

// Hash computes the storable digest of a key: hex(SHA-256(secret + ":" + key)).
// The salt prevents offline dictionary attacks against leaked hash rows.
func Hash(secret, key string) string {
	sum := sha256.Sum256([]byte(secret + ":" + key))
	return hex.EncodeToString(sum[:])
}
