package types

import "time"

// SettlementState is the on-chain or relay view of a submitted swap
type SettlementState string

const (
	SettlementPending   SettlementState = "pending"
	SettlementConfirmed SettlementState = "confirmed"
	SettlementFailed    SettlementState = "failed"
)

// Terminal reports whether no further status change is expected
func (s SettlementState) Terminal() bool {
	return s == SettlementConfirmed || s == SettlementFailed
}

// Settlement is one status observation for a tx hash, relay tracking id or deposit address
type Settlement struct {
	ID        string          `json:"id"`
	State     SettlementState `json:"state"`
	TxHashes  []string        `json:"txHashes,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	CheckedAt time.Time       `json:"checkedAt"`
}
