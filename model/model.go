package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GenerateUUIDWithSuffix generates a new UUID prefixed with a short module
// tag, e.g. "cmp_9f41...", so identifiers are recognizable in logs and
// support tickets.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%s", module, id.String())
}

// HashIdempotencyKey derives a deterministic idempotency key from its
// components. Used when the system rather than a client originates an
// idempotent action, such as the scheduled-campaign sweeper.
func HashIdempotencyKey(components ...string) string {
	joined := strings.Join(components, ":")
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])
}
