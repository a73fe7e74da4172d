package cart

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gasflow/orderflow/internal/identity"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testLine(qty int32, price string) Line {
	p, _ := decimal.NewFromString(price)
	return Line{
		ProductID: uuid.New(),
		Quantity:  qty,
		UnitPrice: p,
		SellerRef: uuid.New(),
		Name:      "12kg cylinder",
	}
}

func TestSetLineQuantity_ReadAfterWrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := identity.Guest("dev-1")

	line := testLine(2, "50.00")
	if _, err := s.SetLineQuantity(ctx, id, line); err != nil {
		t.Fatalf("set line: %v", err)
	}

	c, err := s.GetCart(ctx, id)
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	got, ok := c.Find(line.ProductID)
	if !ok {
		t.Fatal("line not found after write")
	}
	if got.Quantity != 2 {
		t.Errorf("quantity: got %d, want 2", got.Quantity)
	}
	if !got.UnitPrice.Equal(line.UnitPrice) {
		t.Errorf("unit price: got %s, want %s", got.UnitPrice, line.UnitPrice)
	}
}

func TestSetLineQuantity_Upsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := identity.Guest("dev-1")

	line := testLine(1, "50.00")
	if _, err := s.SetLineQuantity(ctx, id, line); err != nil {
		t.Fatalf("first set: %v", err)
	}
	line.Quantity = 5
	if _, err := s.SetLineQuantity(ctx, id, line); err != nil {
		t.Fatalf("second set: %v", err)
	}

	c, _ := s.GetCart(ctx, id)
	if len(c.Lines) != 1 {
		t.Fatalf("expected 1 line after upsert, got %d", len(c.Lines))
	}
	if c.Lines[0].Quantity != 5 {
		t.Errorf("quantity: got %d, want 5", c.Lines[0].Quantity)
	}
}

func TestSetLineQuantity_ClampsToCeiling(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := identity.Guest("dev-1")

	ceiling := int32(3)
	line := testLine(10, "50.00")
	line.StockCeiling = &ceiling

	stored, err := s.SetLineQuantity(ctx, id, line)
	if err != nil {
		t.Fatalf("set line: %v", err)
	}
	if stored.Quantity != 3 {
		t.Errorf("returned quantity: got %d, want 3", stored.Quantity)
	}

	c, _ := s.GetCart(ctx, id)
	got, _ := c.Find(line.ProductID)
	if got.Quantity != 3 {
		t.Errorf("stored quantity: got %d, want ceiling 3", got.Quantity)
	}
}

func TestSetLineQuantity_ZeroRemoves(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := identity.Guest("dev-1")

	line := testLine(2, "50.00")
	if _, err := s.SetLineQuantity(ctx, id, line); err != nil {
		t.Fatalf("set line: %v", err)
	}
	line.Quantity = 0
	if _, err := s.SetLineQuantity(ctx, id, line); err != nil {
		t.Fatalf("zero set: %v", err)
	}

	c, _ := s.GetCart(ctx, id)
	if !c.Empty() {
		t.Fatalf("expected empty cart, got %d lines", len(c.Lines))
	}
}

func TestGetCart_AbsentIsEmpty(t *testing.T) {
	s := newTestStore(t)

	c, err := s.GetCart(context.Background(), identity.Guest("never-seen"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.Empty() {
		t.Fatal("absent cart should be empty")
	}
}

func TestCartIsolationBetweenIdentities(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, b := identity.Guest("dev-a"), identity.Guest("dev-b")

	if _, err := s.SetLineQuantity(ctx, a, testLine(1, "50.00")); err != nil {
		t.Fatalf("set line: %v", err)
	}

	cb, _ := s.GetCart(ctx, b)
	if !cb.Empty() {
		t.Fatal("identity b sees identity a's cart")
	}
}

func TestClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := identity.Guest("dev-1")

	for i := 0; i < 3; i++ {
		if _, err := s.SetLineQuantity(ctx, id, testLine(1, "10.00")); err != nil {
			t.Fatalf("set line: %v", err)
		}
	}
	if err := s.Clear(ctx, id); err != nil {
		t.Fatalf("clear: %v", err)
	}

	c, _ := s.GetCart(ctx, id)
	if !c.Empty() {
		t.Fatalf("expected empty cart after clear, got %d lines", len(c.Lines))
	}
}

func TestConsumeLines(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := identity.Guest("dev-1")

	kept := testLine(1, "10.00")
	consumed := testLine(2, "20.00")
	for _, l := range []Line{kept, consumed} {
		if _, err := s.SetLineQuantity(ctx, id, l); err != nil {
			t.Fatalf("set line: %v", err)
		}
	}

	// One targeted id that never existed: treated as already consumed.
	err := s.ConsumeLines(ctx, id, []uuid.UUID{consumed.ProductID, uuid.New()})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}

	c, _ := s.GetCart(ctx, id)
	if len(c.Lines) != 1 {
		t.Fatalf("expected 1 remaining line, got %d", len(c.Lines))
	}
	if c.Lines[0].ProductID != kept.ProductID {
		t.Error("wrong line consumed")
	}
}

func TestLineOrderStable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := identity.Guest("dev-1")

	first := testLine(1, "10.00")
	second := testLine(1, "20.00")
	for _, l := range []Line{first, second} {
		if _, err := s.SetLineQuantity(ctx, id, l); err != nil {
			t.Fatalf("set line: %v", err)
		}
	}

	// Updating the first line must not move it to the back.
	first.Quantity = 7
	if _, err := s.SetLineQuantity(ctx, id, first); err != nil {
		t.Fatalf("update line: %v", err)
	}

	c, _ := s.GetCart(ctx, id)
	if len(c.Lines) != 2 || c.Lines[0].ProductID != first.ProductID {
		t.Fatalf("insertion order not preserved: %+v", c.Lines)
	}
}

func TestSubscribeNotifiedOnMutation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := identity.Guest("dev-1")

	ch, cancel := s.Subscribe(id)
	defer cancel()

	if _, err := s.SetLineQuantity(ctx, id, testLine(1, "10.00")); err != nil {
		t.Fatalf("set line: %v", err)
	}

	select {
	case <-ch:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("subscriber not notified after mutation")
	}
}

func TestSubscribeOtherIdentityNotNotified(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ch, cancel := s.Subscribe(identity.Guest("dev-b"))
	defer cancel()

	if _, err := s.SetLineQuantity(ctx, identity.Guest("dev-a"), testLine(1, "10.00")); err != nil {
		t.Fatalf("set line: %v", err)
	}

	select {
	case <-ch:
		t.Fatal("subscriber notified for a different identity's cart")
	case <-time.After(50 * time.Millisecond):
		// Expected - no signal.
	}
}

func TestCartTotal(t *testing.T) {
	var c Cart
	a := testLine(2, "50.00")  // 100
	b := testLine(3, "12.50")  // 37.50
	c.Lines = []Line{a, b}

	want, _ := decimal.NewFromString("137.50")
	if !c.Total().Equal(want) {
		t.Errorf("total: got %s, want %s", c.Total(), want)
	}
}
