package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/manifest-network/blockledger/internal/models"
)

// CreateBlockHash returns the canonical id of a block: the lowercase hex
// SHA-256 of its decimal height followed by the ids of its transactions, in order.
// No other field takes part.
func CreateBlockHash(b *models.Block) string {
	h := sha256.New()
	h.Write([]byte(strconv.FormatUint(b.Height, 10)))
	for _, tx := range b.Transactions {
		h.Write([]byte(tx.ID))
	}
	return hex.EncodeToString(h.Sum(nil))
}
