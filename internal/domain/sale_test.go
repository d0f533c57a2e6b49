package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestNewSaleLineFreezesPrice(t *testing.T) {
	product := Product{ID: 3, Name: "Coffee", Price: decimal.RequireFromString("2.505")}

	line := NewSaleLine(10, product, 4)

	if !line.UnitPrice.Equal(decimal.RequireFromString("2.51")) {
		t.Fatalf("unit price = %s, want 2.51", line.UnitPrice)
	}
	if !line.LineTotal.Equal(decimal.RequireFromString("10.04")) {
		t.Fatalf("line total = %s, want 10.04", line.LineTotal)
	}
	if line.SaleID != 10 || line.ProductID != 3 || line.ProductName != "Coffee" {
		t.Fatalf("unexpected line: %+v", line)
	}

	product.Price = decimal.NewFromInt(100)
	if !line.UnitPrice.Equal(decimal.RequireFromString("2.51")) {
		t.Fatalf("line price must not follow product price")
	}
}

func TestSaleLinesTotal(t *testing.T) {
	sale := Sale{Lines: []SaleLine{
		{LineTotal: decimal.RequireFromString("20.00")},
		{LineTotal: decimal.RequireFromString("5.00")},
	}}
	if got := sale.LinesTotal(); !got.Equal(decimal.RequireFromString("25.00")) {
		t.Fatalf("total = %s, want 25.00", got)
	}

	empty := Sale{}
	if !empty.LinesTotal().IsZero() {
		t.Fatalf("empty sale total must be zero")
	}
}

func TestPaymentMethodAndStatusValid(t *testing.T) {
	for _, m := range []PaymentMethod{PaymentMethodCash, PaymentMethodCard, PaymentMethodMobile} {
		if !m.Valid() {
			t.Fatalf("%s must be valid", m)
		}
	}
	if PaymentMethod("CHEQUE").Valid() {
		t.Fatalf("CHEQUE must be invalid")
	}
	for _, s := range []SaleStatus{SaleStatusCompleted, SaleStatusPending, SaleStatusCancelled} {
		if !s.Valid() {
			t.Fatalf("%s must be valid", s)
		}
	}
	if SaleStatus("REFUNDED").Valid() {
		t.Fatalf("REFUNDED must be invalid")
	}
}
