package cache

import (
	"crypto/sha256"
	"fmt"
)

// Key computes a deterministic SHA-256 cache key from the prompt and model.
// The key is hex-encoded. A zero byte separates the fields so that
// ("ab", "c") and ("a", "bc") never collide.
func Key(prompt, model string) string {
	h := sha256.New()
	h.Write([]byte(prompt))
	h.Write([]byte{0})
	h.Write([]byte(model))
	return fmt.Sprintf("%x", h.Sum(nil))
}
