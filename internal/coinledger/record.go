package coinledger

import (
	"shieldpool/internal/field"
)

// Record is the wallet's view of one commitment it owns.
type Record struct {
	Commitment      field.Element `json:"commitment"`
	Amount          uint64        `json:"amount"`
	Owner           field.Element `json:"owner"`
	PoolID          field.Element `json:"poolId"`
	Blinding        field.Element `json:"blinding"`
	NullifierSecret field.Element `json:"nullifierSecret"`
	LeafIndex       uint64        `json:"leafIndex"`
	Spent           bool          `json:"spent"`
	TxRef           string        `json:"txRef,omitempty"`
	// Nonce is the next nullifier nonce for this commitment.
	Nonce uint64 `json:"nonce"`
}
