package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/manifest-network/blockledger/internal/ledger"
	"github.com/manifest-network/blockledger/internal/models"
	"github.com/manifest-network/blockledger/internal/store"
)

// GenesisPolicy governs the first block, which has no earlier outputs to spend.
// Its transactions are exempt from the input-sum rule and must have no inputs.
type GenesisPolicy struct {
	// AllowMultipleCoinbase permits more than one transaction in the first block.
	AllowMultipleCoinbase bool
}

// DefaultGenesisPolicy accepts any number of input-less transactions in the first block.
func DefaultGenesisPolicy() GenesisPolicy {
	return GenesisPolicy{AllowMultipleCoinbase: true}
}

// Validator decides whether a block may be appended to the chain.
type Validator struct {
	txs     store.TransactionStore
	genesis GenesisPolicy
}

func NewValidator(txs store.TransactionStore, genesis GenesisPolicy) *Validator {
	return &Validator{txs: txs, genesis: genesis}
}

// Validate runs every check for b on top of last, which is nil for an empty chain.
// On success it returns the outputs spent by the block's inputs.
func (v *Validator) Validate(ctx context.Context, last *models.StoredBlock, b *models.Block) (ledger.Outputs, error) {
	if last == nil {
		if err := ValidateFirstBlock(b); err != nil {
			return nil, err
		}
		if err := v.ValidateGenesis(b); err != nil {
			return nil, err
		}
		if err := ValidateBlockID(b); err != nil {
			return nil, err
		}
		return ledger.Outputs{}, nil
	}

	if err := ValidateBlockHeight(last, b); err != nil {
		return nil, err
	}
	spent, err := v.ValidateInputsOutputs(ctx, b)
	if err != nil {
		return nil, err
	}
	if err := ValidateBlockID(b); err != nil {
		return nil, err
	}
	return spent, nil
}

// ValidateFirstBlock requires the first block of the chain to have height 1.
func ValidateFirstBlock(b *models.Block) error {
	if b.Height != 1 {
		return invalidHeight(b.Height, "first block must have height 1")
	}
	return nil
}

// ValidateBlockHeight requires b to sit exactly one above last.
func ValidateBlockHeight(last *models.StoredBlock, b *models.Block) error {
	if b.Height != last.Height+1 {
		return invalidHeight(b.Height, "expected height %d", last.Height+1)
	}
	return nil
}

// ValidateGenesis applies the genesis policy to the first block.
func (v *Validator) ValidateGenesis(b *models.Block) error {
	if !v.genesis.AllowMultipleCoinbase && len(b.Transactions) > 1 {
		return valueMismatch(b.Height, "", "first block may carry a single transaction, got %d", len(b.Transactions))
	}
	// The first block mints the whole supply, so no balance can exceed its total.
	var supply int64
	for i := range b.Transactions {
		tx := &b.Transactions[i]
		if len(tx.Inputs) > 0 {
			in := tx.Inputs[0]
			return danglingReference(b.Height, tx.ID, "input %s:%d has no earlier output to spend", in.TxID, in.Index)
		}
		if err := checkOutputs(b.Height, tx); err != nil {
			return err
		}
		sum, ok := tx.OutputSum()
		if ok {
			supply, ok = models.AddValue(supply, sum)
		}
		if !ok {
			return valueMismatch(b.Height, tx.ID, "output sum overflows")
		}
	}
	return nil
}

// ValidateInputsOutputs resolves every input against the transaction store
// and requires each transaction's inputs and outputs to carry equal value.
// Inputs can only spend outputs of earlier blocks.
func (v *Validator) ValidateInputsOutputs(ctx context.Context, b *models.Block) (ledger.Outputs, error) {
	spent := make(ledger.Outputs)
	for i := range b.Transactions {
		tx := &b.Transactions[i]
		if err := checkOutputs(b.Height, tx); err != nil {
			return nil, err
		}

		var inputSum int64
		for _, in := range tx.Inputs {
			out, err := v.resolve(ctx, b.Height, tx.ID, in)
			if err != nil {
				return nil, err
			}
			spent[in] = out
			var ok bool
			if inputSum, ok = models.AddValue(inputSum, out.Value); !ok {
				return nil, valueMismatch(b.Height, tx.ID, "input sum overflows")
			}
		}

		outputSum, ok := tx.OutputSum()
		if !ok {
			return nil, valueMismatch(b.Height, tx.ID, "output sum overflows")
		}
		if inputSum != outputSum {
			return nil, valueMismatch(b.Height, tx.ID, "inputs sum to %d, outputs to %d", inputSum, outputSum)
		}
	}
	return spent, nil
}

// ValidateBlockID requires the block id to equal its canonical hash.
func ValidateBlockID(b *models.Block) error {
	if want := CreateBlockHash(b); b.ID != want {
		return &ValidationError{
			Kind:   KindInvalidBlockID,
			Height: b.Height,
			Detail: fmt.Sprintf("id %q does not match hash %s", b.ID, want),
		}
	}
	return nil
}

func (v *Validator) resolve(ctx context.Context, height uint64, txID string, in models.Input) (models.Output, error) {
	if in.Index < 0 {
		return models.Output{}, danglingReference(height, txID, "input %s:%d has a negative index", in.TxID, in.Index)
	}

	src, err := v.txs.GetTransaction(ctx, in.TxID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Output{}, danglingReference(height, txID, "input %s:%d references an unknown transaction", in.TxID, in.Index)
	}
	if err != nil {
		return models.Output{}, fmt.Errorf("failed to resolve input %s:%d: %w", in.TxID, in.Index, err)
	}

	out, ok := src.OutputAt(in.Index)
	if !ok {
		return models.Output{}, danglingReference(height, txID, "input %s:%d is out of range (%d outputs)", in.TxID, in.Index, len(src.Outputs))
	}
	return out, nil
}

func checkOutputs(height uint64, tx *models.Transaction) error {
	for i, out := range tx.Outputs {
		if out.Value < 0 {
			return valueMismatch(height, tx.ID, "output %d has negative value %d", i, out.Value)
		}
	}
	return nil
}
