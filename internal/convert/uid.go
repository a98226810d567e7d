package convert

import (
	"math/big"

	"github.com/google/uuid"
)

// NewUID returns a UUID-derived UID under the 2.25 root.
func NewUID() string {
	id := uuid.New()
	return "2.25." + new(big.Int).SetBytes(id[:]).String()
}
