package solana

import (
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go/rpc"

	"swapwatch/internal/domain"
)

// ToRecord converts a getTransaction result into a TransactionRecord.
// Only static account keys are resolved; address table lookups are ignored.
func ToRecord(signature string, res *rpc.GetTransactionResult) (*domain.TransactionRecord, error) {
	if res == nil || res.Transaction == nil {
		return nil, fmt.Errorf("%w: %s: empty result", ErrMalformedTransaction, signature)
	}

	tx, err := res.Transaction.GetTransaction()
	if err != nil || tx == nil {
		return nil, fmt.Errorf("%w: %s: decode: %v", ErrMalformedTransaction, signature, err)
	}

	rec := &domain.TransactionRecord{
		Signature: signature,
		Slot:      int64(res.Slot),
	}
	if res.BlockTime != nil {
		rec.BlockTime = int64(*res.BlockTime)
	}

	rec.AccountKeys = make([]string, len(tx.Message.AccountKeys))
	for i, k := range tx.Message.AccountKeys {
		rec.AccountKeys[i] = k.String()
	}

	rec.Instructions = make([]domain.Instruction, len(tx.Message.Instructions))
	for i, ix := range tx.Message.Instructions {
		accounts := make([]int, len(ix.Accounts))
		for j, a := range ix.Accounts {
			accounts[j] = int(a)
		}
		rec.Instructions[i] = domain.Instruction{
			ProgramIndex: int(ix.ProgramIDIndex),
			Accounts:     accounts,
		}
	}

	if meta := res.Meta; meta != nil {
		rec.Err = meta.Err
		rec.PreBalances = meta.PreBalances
		rec.PostBalances = meta.PostBalances
		rec.PreTokenBalances = toTokenBalances(meta.PreTokenBalances)
		rec.PostTokenBalances = toTokenBalances(meta.PostTokenBalances)
	}

	return rec, nil
}

func toTokenBalances(in []rpc.TokenBalance) []domain.TokenBalance {
	if len(in) == 0 {
		return nil
	}
	out := make([]domain.TokenBalance, 0, len(in))
	for _, b := range in {
		tb := domain.TokenBalance{
			AccountIndex: int(b.AccountIndex),
			Mint:         b.Mint.String(),
		}
		if b.Owner != nil {
			tb.Owner = b.Owner.String()
		}
		if amt := b.UiTokenAmount; amt != nil {
			switch {
			case amt.UiAmountString != "":
				tb.UIAmount = amt.UiAmountString
			case amt.UiAmount != nil:
				tb.UIAmount = strconv.FormatFloat(*amt.UiAmount, 'f', -1, 64)
			}
		}
		out = append(out, tb)
	}
	return out
}
