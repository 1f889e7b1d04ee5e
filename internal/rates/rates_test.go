package rates

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newTestTable(t *testing.T) *Table {
	t.Helper()
	table := NewTable()
	if err := table.Add("USD", "CAD", d(0.5)); err != nil {
		t.Fatal(err)
	}
	return table
}

func TestConvertIdentity(t *testing.T) {
	table := newTestTable(t)
	got, err := table.Convert(d(42), "USD", "USD")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(d(42)) {
		t.Errorf("identity conversion = %s, want 42", got)
	}
}

func TestConvertDirect(t *testing.T) {
	table := newTestTable(t)
	got, err := table.Convert(d(-4), "CAD", "USD")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(d(-2)) {
		t.Errorf("-4 CAD = %s USD, want -2", got)
	}
}

func TestConvertInverse(t *testing.T) {
	table := newTestTable(t)
	got, err := table.Convert(d(-2), "USD", "CAD")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(d(-4)) {
		t.Errorf("-2 USD = %s CAD, want -4", got)
	}
}

func TestConvertMissingPair(t *testing.T) {
	table := newTestTable(t)
	if _, err := table.Convert(d(1), "GBP", "USD"); !errors.Is(err, ErrPairNotFound) {
		t.Errorf("error = %v, want ErrPairNotFound", err)
	}
}

func TestAddRejectsNonPositiveRate(t *testing.T) {
	table := NewTable()
	if err := table.Add("USD", "CAD", decimal.Zero); err == nil {
		t.Error("zero rate accepted")
	}
	if err := table.Add("USD", "CAD", d(-1)); err == nil {
		t.Error("negative rate accepted")
	}
}
