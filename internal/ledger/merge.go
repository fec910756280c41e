package ledger

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleaver-pos/cleaver/internal/money"
)

var epoch = time.Unix(0, 0).UTC()

// Merge folds explicit events and legacy orders into one chronological feed
// and annotates every entry with the running balance after it.
//
// An event whose OrderID resolves to an order (by id or by order number)
// absorbs that order: the entry keeps the event's financial fields, takes the
// order's descriptive fields, and the order is not emitted on its own.
func Merge(events []Event, orders []Order) ([]Entry, decimal.Decimal) {
	lookup := make(map[string]int, len(orders)*2)
	for i, o := range orders {
		if o.Number != "" {
			lookup[o.Number] = i
		}
	}
	// Ids win over display numbers when the two collide.
	for i, o := range orders {
		lookup[o.ID] = i
	}

	merged := make(map[string]struct{}, len(events))
	entries := make([]Entry, 0, len(events)+len(orders))
	for _, ev := range events {
		entry := entryFromEvent(ev)
		if ev.OrderID != "" {
			if i, ok := lookup[ev.OrderID]; ok {
				o := orders[i]
				combine(&entry, o)
				merged[o.ID] = struct{}{}
			}
		}
		entries = append(entries, entry)
	}
	for _, o := range orders {
		if _, ok := merged[o.ID]; ok {
			continue
		}
		entries = append(entries, entryFromOrder(o))
	}

	slices.SortStableFunc(entries, func(a, b Entry) int {
		if c := sortTime(a.CreatedAt).Compare(sortTime(b.CreatedAt)); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	balance := decimal.Zero
	for i := range entries {
		entries[i].Delta = contribution(entries[i])
		balance = balance.Add(entries[i].Delta)
		entries[i].Balance = balance
	}
	return entries, balance
}

// contribution is the signed effect of an entry on what the counterparty owes.
func contribution(e Entry) decimal.Decimal {
	return money.Contribution(e.Kind == KindPayment, e.Amount, money.MaxPaid(e.PaidAmount, e.AmountPaid))
}

func entryFromEvent(ev Event) Entry {
	return Entry{
		ID:         ev.ID,
		Kind:       ev.Kind,
		Source:     SourceEvent,
		OrderID:    ev.OrderID,
		Amount:     ev.Amount,
		PaidAmount: ev.PaidAmount,
		AmountPaid: decimal.Zero,
		Items:      nonNilItems(ev.Items),
		Notes:      ev.Notes,
		CreatedAt:  ev.CreatedAt,
	}
}

func entryFromOrder(o Order) Entry {
	return Entry{
		ID:          o.ID,
		Kind:        KindOrder,
		Source:      SourceOrder,
		OrderID:     o.ID,
		OrderNumber: o.Number,
		Amount:      o.Total,
		PaidAmount:  o.PaidAmount,
		AmountPaid:  o.AmountPaid,
		Items:       nonNilItems(o.Items),
		Status:      o.Status,
		Notes:       o.Notes,
		CreatedAt:   o.CreatedAt,
	}
}

func combine(entry *Entry, o Order) {
	entry.Source = SourceCombined
	entry.OrderID = o.ID
	entry.OrderNumber = o.Number
	entry.Status = o.Status
	entry.AmountPaid = o.AmountPaid
	if len(entry.Items) == 0 {
		entry.Items = nonNilItems(o.Items)
	}
	if entry.Notes == "" {
		entry.Notes = o.Notes
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = o.CreatedAt
	}
}

func sortTime(t time.Time) time.Time {
	if t.IsZero() {
		return epoch
	}
	return t
}

func nonNilItems(items []LineItem) []LineItem {
	if items == nil {
		return []LineItem{}
	}
	return items
}
