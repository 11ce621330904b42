package ledger

import (
	"fmt"

	"github.com/manifest-network/blockledger/internal/models"
)

// Block is the part of a block the ledger needs: its height and transactions.
type Block struct {
	Height       uint64
	Transactions []models.Transaction
}

// FromModel adapts a submitted block.
func FromModel(b *models.Block) Block {
	return Block{Height: b.Height, Transactions: b.Transactions}
}

// Resolver finds the output an input spends.
type Resolver interface {
	Resolve(in models.Input) (models.Output, bool)
}

// Outputs is a Resolver backed by a map of already resolved inputs.
type Outputs map[models.Input]models.Output

func (o Outputs) Resolve(in models.Input) (models.Output, bool) {
	out, ok := o[in]
	return out, ok
}

// UnresolvedInputError reports an input the resolver could not find.
type UnresolvedInputError struct {
	Height uint64
	TxID   string
	Input  models.Input
}

func (e *UnresolvedInputError) Error() string {
	return fmt.Sprintf("block %d: transaction %s: unresolved input %s:%d",
		e.Height, e.TxID, e.Input.TxID, e.Input.Index)
}

// Batch accumulates balance deltas to be committed at once.
type Batch struct {
	deltas   map[string]int64
	order    []string
	debited  map[string]struct{}
	credited map[string]struct{}
}

func NewBatch() *Batch {
	return &Batch{
		deltas:   make(map[string]int64),
		debited:  make(map[string]struct{}),
		credited: make(map[string]struct{}),
	}
}

// Credit adds value to address.
func (b *Batch) Credit(address string, value int64) {
	b.touch(address)
	b.credited[address] = struct{}{}
	b.deltas[address] += value
}

// Debit subtracts value from address. The address must hold a balance when the batch is committed.
func (b *Batch) Debit(address string, value int64) {
	b.touch(address)
	b.debited[address] = struct{}{}
	b.deltas[address] -= value
}

// Delta returns the staged change for address.
func (b *Batch) Delta(address string) int64 {
	return b.deltas[address]
}

// Len returns the number of addresses touched.
func (b *Batch) Len() int {
	return len(b.order)
}

func (b *Batch) touch(address string) {
	if _, ok := b.deltas[address]; !ok {
		b.order = append(b.order, address)
		b.deltas[address] = 0
	}
}

// StageApply stages the effects of accepting block: spent outputs are
// debited from their addresses and new outputs credited.
func (b *Batch) StageApply(block Block, r Resolver) error {
	for _, tx := range block.Transactions {
		for _, in := range tx.Inputs {
			out, ok := r.Resolve(in)
			if !ok {
				return &UnresolvedInputError{Height: block.Height, TxID: tx.ID, Input: in}
			}
			b.Debit(out.Address, out.Value)
		}
		for _, out := range tx.Outputs {
			b.Credit(out.Address, out.Value)
		}
	}
	return nil
}

// StageUnapply stages the exact inverse of StageApply.
func (b *Batch) StageUnapply(block Block, r Resolver) error {
	for _, tx := range block.Transactions {
		for _, in := range tx.Inputs {
			out, ok := r.Resolve(in)
			if !ok {
				return &UnresolvedInputError{Height: block.Height, TxID: tx.ID, Input: in}
			}
			b.Credit(out.Address, out.Value)
		}
		for _, out := range tx.Outputs {
			b.Debit(out.Address, out.Value)
		}
	}
	return nil
}
