package inventory

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func catalogue(products ...Product) map[string]Product {
	out := make(map[string]Product, len(products))
	for _, p := range products {
		out[p.ID] = p
	}
	return out
}

func TestPlanDeductionsConservesStock(t *testing.T) {
	products := catalogue(beef("10"), Product{ID: "lamb", Title: "Lamb leg", Stock: dec("4.2"), TrackStock: true})
	changes, err := PlanDeductions(products, []Line{
		{ProductID: "beef", Quantity: dec("2.5")},
		{ProductID: "lamb", Quantity: dec("1.2")},
	}, Policy{})
	require.NoError(t, err)
	require.Len(t, changes, 2)
	require.Equal(t, "beef", changes[0].ProductID)
	require.Equal(t, "7.5", changes[0].After.String())
	require.Equal(t, "3", changes[1].After.String())
}

func TestPlanDeductionsAggregatesDuplicateLines(t *testing.T) {
	products := catalogue(beef("5"))
	_, err := PlanDeductions(products, []Line{
		{ProductID: "beef", Quantity: dec("3")},
		{ProductID: "beef", Quantity: dec("3")},
	}, Policy{})
	var stockErr *StockInsufficientError
	require.True(t, errors.As(err, &stockErr))
	require.Equal(t, "5", stockErr.Available.String())
	require.Equal(t, "6", stockErr.Requested.String())

	changes, err := PlanDeductions(products, []Line{
		{ProductID: "beef", Quantity: dec("2")},
		{ProductID: "beef", Quantity: dec("3")},
	}, Policy{})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.True(t, changes[0].After.IsZero())
}

func TestPlanDeductionsSkipsUntrackedAndFreeText(t *testing.T) {
	products := catalogue(Product{ID: "service", Title: "Cutting fee", Stock: dec("0"), TrackStock: false})
	changes, err := PlanDeductions(products, []Line{
		{ProductID: "service", Quantity: dec("4")},
		{ProductID: "", Title: "Delivery", Quantity: dec("1")},
	}, Policy{})
	require.NoError(t, err)
	require.Empty(t, changes)
}

func TestPlanDeductionsUnknownProduct(t *testing.T) {
	_, err := PlanDeductions(catalogue(beef("5")), []Line{{ProductID: "ghost", Quantity: dec("1")}}, Policy{})
	require.ErrorIs(t, err, ErrProductNotFound)
}

func TestPlanDeductionsFirstOffenderInLineOrder(t *testing.T) {
	products := catalogue(beef("1"), Product{ID: "lamb", Title: "Lamb leg", Stock: dec("0"), TrackStock: true})
	_, err := PlanDeductions(products, []Line{
		{ProductID: "lamb", Quantity: dec("1")},
		{ProductID: "beef", Quantity: dec("2")},
	}, Policy{})
	var stockErr *StockInsufficientError
	require.True(t, errors.As(err, &stockErr))
	require.Equal(t, "lamb", stockErr.ProductID)
	require.Contains(t, stockErr.Error(), "Lamb leg")
}

func TestPlanDeductionsAllowNegative(t *testing.T) {
	changes, err := PlanDeductions(catalogue(beef("1")), []Line{{ProductID: "beef", Quantity: dec("3")}}, Policy{AllowNegative: true})
	require.NoError(t, err)
	require.Equal(t, "-2", changes[0].After.String())
}

func TestPlanDeductionsRejectsNonPositiveQuantity(t *testing.T) {
	_, err := PlanDeductions(catalogue(beef("1")), []Line{{ProductID: "beef", Quantity: dec("0")}}, Policy{})
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestProductIDsDistinctInOrder(t *testing.T) {
	ids := ProductIDs([]Line{{ProductID: "b"}, {ProductID: ""}, {ProductID: "a"}, {ProductID: "b"}})
	require.Equal(t, []string{"b", "a"}, ids)
}
