package engine

import (
	"github.com/shopspring/decimal"

	"github.com/Veraticus/milo/internal/model"
)

// BuildSummary assembles the read model of a checkpoint from ledger rows.
// Receipts must be in creation order; positions in the summary are their
// 1-based indexes.
func BuildSummary(cp model.Checkpoint, receipts []model.Receipt, users []model.UserTotal) model.Summary {
	total := decimal.Zero
	for _, r := range receipts {
		total = total.Add(r.Amount)
	}

	return model.Summary{
		Checkpoint: cp,
		Receipts:   receipts,
		Users:      users,
		GrandTotal: total,
	}
}
