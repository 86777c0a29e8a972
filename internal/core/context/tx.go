package context

import (
	"context"
)

// TxInfo labels log lines written inside a logical transaction.
type TxInfo struct {
	TxID       string
	Name       string
	ResourceID string
	New        bool
}

type txInfoKey struct{}

// WithTx adds TxInfo to context.
func WithTx(ctx context.Context, info *TxInfo) context.Context {
	return context.WithValue(ctx, txInfoKey{}, info)
}

// GetTx returns TxInfo from context.
func GetTx(ctx context.Context) *TxInfo {
	if v, ok := ctx.Value(txInfoKey{}).(*TxInfo); ok {
		return v
	}
	return nil
}
