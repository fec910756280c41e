package ledger_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cleaver-pos/cleaver/internal/ledger"
)

func at(day, hour int) time.Time {
	return time.Date(2024, 2, day, hour, 0, 0, 0, time.UTC)
}

func TestMergeLinkedOrderAppearsOnce(t *testing.T) {
	orders := []ledger.Order{{
		ID: "O1", Number: "CMD-0042", CustomerID: "c1", Total: dec("4000"),
		Items:  []ledger.LineItem{{Title: "Beef", UnitPrice: dec("2000"), Quantity: dec("2")}},
		Status: "delivered", CreatedAt: at(1, 9),
	}}
	events := []ledger.Event{{
		ID: "E1", CounterpartyID: "c1", Kind: ledger.KindInvoice, Amount: dec("4000"),
		PaidAmount: dec("1000"), OrderID: "O1", CreatedAt: at(1, 10),
	}}

	entries, balance := ledger.Merge(events, orders)
	require.Len(t, entries, 1)
	e := entries[0]
	require.Equal(t, "E1", e.ID)
	require.Equal(t, ledger.SourceCombined, e.Source)
	require.Equal(t, "CMD-0042", e.OrderNumber)
	require.Equal(t, "delivered", e.Status)
	require.Len(t, e.Items, 1)
	require.True(t, e.Amount.Equal(dec("4000")))
	require.True(t, e.PaidAmount.Equal(dec("1000")))
	require.True(t, balance.Equal(dec("3000")))
}

func TestMergeResolvesOrderNumberReference(t *testing.T) {
	orders := []ledger.Order{{ID: "O7", Number: "CMD-0007", CustomerID: "c1", Total: dec("900"), CreatedAt: at(2, 9)}}
	events := []ledger.Event{{ID: "E7", Kind: ledger.KindInvoice, Amount: dec("900"), OrderID: "CMD-0007", CreatedAt: at(2, 9)}}

	entries, _ := ledger.Merge(events, orders)
	require.Len(t, entries, 1)
	require.Equal(t, ledger.SourceCombined, entries[0].Source)
	require.Equal(t, "O7", entries[0].OrderID)
}

func TestMergeUnresolvedOrderReferenceStaysExplicit(t *testing.T) {
	orders := []ledger.Order{{ID: "O2", CustomerID: "c1", Total: dec("500"), CreatedAt: at(3, 9)}}
	events := []ledger.Event{{ID: "E2", Kind: ledger.KindInvoice, Amount: dec("700"), OrderID: "O-deleted", CreatedAt: at(3, 10)}}

	entries, balance := ledger.Merge(events, orders)
	require.Len(t, entries, 2)
	require.Equal(t, ledger.SourceOrder, entries[0].Source)
	require.Equal(t, ledger.KindOrder, entries[0].Kind)
	require.Equal(t, ledger.SourceEvent, entries[1].Source)
	require.True(t, balance.Equal(dec("1200")))
}

func TestMergeTakesLargerLegacyPaidField(t *testing.T) {
	orders := []ledger.Order{
		{ID: "O3", Total: dec("1000"), PaidAmount: dec("200"), AmountPaid: dec("600"), CreatedAt: at(4, 9)},
		{ID: "O4", Total: dec("1000"), PaidAmount: dec("300"), CreatedAt: at(4, 10)},
	}

	entries, balance := ledger.Merge(nil, orders)
	require.True(t, entries[0].Delta.Equal(dec("400")))
	require.True(t, entries[1].Delta.Equal(dec("700")))
	require.True(t, balance.Equal(dec("1100")))
}

func TestMergeRunningBalanceAndPayments(t *testing.T) {
	events := []ledger.Event{
		{ID: "E3", Kind: ledger.KindPayment, Amount: dec("1500"), PaidAmount: dec("1500"), CreatedAt: at(5, 12)},
		{ID: "E1", Kind: ledger.KindInvoice, Amount: dec("5000"), CreatedAt: at(5, 9)},
		{ID: "E2", Kind: ledger.KindInvoice, Amount: dec("2000"), PaidAmount: dec("2000"), CreatedAt: at(5, 10)},
	}

	entries, balance := ledger.Merge(events, nil)
	ids := []string{entries[0].ID, entries[1].ID, entries[2].ID}
	require.Equal(t, []string{"E1", "E2", "E3"}, ids)
	require.True(t, entries[0].Balance.Equal(dec("5000")))
	require.True(t, entries[1].Balance.Equal(dec("5000")))
	require.True(t, entries[2].Delta.Equal(dec("-1500")))
	require.True(t, entries[2].Balance.Equal(dec("3500")))
	require.True(t, balance.Equal(dec("3500")))
}

func TestMergeMissingTimestampSortsFirstAndTiesBreakByID(t *testing.T) {
	orders := []ledger.Order{{ID: "O-legacy", Total: dec("100")}}
	events := []ledger.Event{
		{ID: "E-b", Kind: ledger.KindInvoice, Amount: dec("10"), CreatedAt: at(6, 9)},
		{ID: "E-a", Kind: ledger.KindInvoice, Amount: dec("20"), CreatedAt: at(6, 9)},
	}

	entries, _ := ledger.Merge(events, orders)
	require.Equal(t, "O-legacy", entries[0].ID)
	require.Equal(t, "E-a", entries[1].ID)
	require.Equal(t, "E-b", entries[2].ID)
}

func TestMergeEmptyHistory(t *testing.T) {
	entries, balance := ledger.Merge(nil, nil)
	require.Empty(t, entries)
	require.True(t, balance.Equal(decimal.Zero))
}
