package db

import (
	"context"
	"testing"
)

func TestTxFromContext_NoTransaction(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Errorf("expected nil outside a transaction, got %v", tx)
	}
}
