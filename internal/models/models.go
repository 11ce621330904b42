package models

import "math"

// Block represents a block submitted to the ledger.
type Block struct {
	ID           string        `json:"id"`
	Height       uint64        `json:"height"`
	Transactions []Transaction `json:"transactions"`
}

// Transaction represents a ledger transaction.
type Transaction struct {
	ID      string   `json:"id"`
	Inputs  []Input  `json:"inputs"`
	Outputs []Output `json:"outputs"`
}

// Input references the output at position Index of the accepted transaction TxID.
type Input struct {
	TxID  string `json:"txId"`
	Index int    `json:"index"`
}

// Output credits Value to Address.
type Output struct {
	Address string `json:"address"`
	Value   int64  `json:"value"`
}

// StoredBlock is the persisted form of a block.
// Transactions are kept by id, in block order.
type StoredBlock struct {
	ID     string
	Height uint64
	TxIDs  []string
}

// NewStoredBlock returns the persisted form of b.
func NewStoredBlock(b *Block) *StoredBlock {
	ids := make([]string, len(b.Transactions))
	for i, tx := range b.Transactions {
		ids[i] = tx.ID
	}
	return &StoredBlock{
		ID:     b.ID,
		Height: b.Height,
		TxIDs:  ids,
	}
}

// OutputAt returns the output at index, or false if index is out of range.
func (t *Transaction) OutputAt(index int) (Output, bool) {
	if index < 0 || index >= len(t.Outputs) {
		return Output{}, false
	}
	return t.Outputs[index], true
}

// OutputSum returns the sum of all output values. It reports false if a
// value is negative or the sum overflows int64.
func (t *Transaction) OutputSum() (int64, bool) {
	var sum int64
	for _, out := range t.Outputs {
		var ok bool
		if sum, ok = AddValue(sum, out.Value); !ok {
			return 0, false
		}
	}
	return sum, true
}

// AddValue adds two non-negative values, reporting false on a negative
// operand or int64 overflow.
func AddValue(sum, v int64) (int64, bool) {
	if sum < 0 || v < 0 || v > math.MaxInt64-sum {
		return 0, false
	}
	return sum + v, true
}

// Clone returns a deep copy of the transaction.
func (t *Transaction) Clone() *Transaction {
	c := &Transaction{ID: t.ID}
	if t.Inputs != nil {
		c.Inputs = append([]Input(nil), t.Inputs...)
	}
	if t.Outputs != nil {
		c.Outputs = append([]Output(nil), t.Outputs...)
	}
	return c
}
