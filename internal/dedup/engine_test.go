package dedup

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoicepipe/internal"
	"invoicepipe/internal/currency"
	"invoicepipe/internal/storage"
)

func newTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "dedup.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newInvoiceID(t *testing.T, db *storage.DB) string {
	t.Helper()
	inv := internal.Invoice{SupplierCode: "LAWNFAWN", OriginalFilename: "inv.pdf", Currency: "USD"}
	require.NoError(t, db.CreateInvoice(context.Background(), &inv))
	return inv.ID
}

func lf1142(price string) internal.LineItem {
	return internal.LineItem{
		LineNo:          1,
		RawDescription:  "LF1142 - Lawn Cuts - Stitched Rectangle Frames Dies",
		ManufacturerSKU: "LF1142",
		Manufacturer:    "Lawn Fawn",
		Category:        "Lawn Cuts",
		Name:            "Stitched Rectangle Frames Dies",
		Quantity:        decimal.NewFromInt(2),
		UnitPrice:       decimal.RequireFromString(price),
		LineTotal:       decimal.RequireFromString(price).Mul(decimal.NewFromInt(2)),
		Currency:        "USD",
	}
}

func converter() *currency.Converter {
	return currency.NewConverter("USD", map[string]decimal.Decimal{"EUR": decimal.RequireFromString("1.08")})
}

func TestLF1142Scenario(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	engine := NewEngine(db, 0.10, converter())

	first, err := engine.Ingest(ctx, lf1142("12.00"), newInvoiceID(t, db), "LAWNFAWN")
	require.NoError(t, err)
	assert.Equal(t, internal.DedupCreated, first.Status)
	assert.True(t, first.Linked)

	second, err := engine.Ingest(ctx, lf1142("12.00"), newInvoiceID(t, db), "LAWNFAWN")
	require.NoError(t, err)
	assert.Equal(t, internal.DedupDuplicateSkipped, second.Status)
	assert.Equal(t, first.ProductID, second.ProductID)

	third, err := engine.Ingest(ctx, lf1142("20.00"), newInvoiceID(t, db), "LAWNFAWN")
	require.NoError(t, err)
	assert.Equal(t, internal.DedupConflictFlagged, third.Status)
	require.Len(t, third.Conflicts, 1)
	assert.Equal(t, "price", third.Conflicts[0].Field)
	assert.Equal(t, "12.00", third.Conflicts[0].OldValue)
	assert.Equal(t, "20.00", third.Conflicts[0].NewValue)

	products, err := db.ProductsBySKU(ctx, "LF1142")
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.True(t, products[0].RequiresReview)
	require.Len(t, products[0].Conflicts, 1)
	assert.Equal(t, internal.ProductDraft, products[0].Status)
	assert.Equal(t, "12", products[0].PriceOriginal.String())

	links, err := db.ListPurchaseLinks(ctx, first.ProductID)
	require.NoError(t, err)
	assert.Len(t, links, 3)
}

func TestConflictSymmetryOnName(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	engine := NewEngine(db, 0.10, converter())

	a := lf1142("12.00")
	a.Name = "A"
	_, err := engine.Ingest(ctx, a, newInvoiceID(t, db), "LAWNFAWN")
	require.NoError(t, err)

	b := lf1142("12.00")
	b.Name = "B"
	invoiceID := newInvoiceID(t, db)
	res, err := engine.Ingest(ctx, b, invoiceID, "LAWNFAWN")
	require.NoError(t, err)
	assert.Equal(t, internal.DedupConflictFlagged, res.Status)

	p, err := db.GetProduct(ctx, res.ProductID)
	require.NoError(t, err)
	assert.True(t, p.RequiresReview)
	require.Len(t, p.Conflicts, 1)
	assert.Equal(t, "name", p.Conflicts[0].Field)
	assert.Equal(t, "A", p.Conflicts[0].OldValue)
	assert.Equal(t, "B", p.Conflicts[0].NewValue)
	assert.Equal(t, invoiceID, p.Conflicts[0].SourceInvoice)
}

func TestNormalizedTextIsNotAConflict(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	engine := NewEngine(db, 0.10, converter())

	_, err := engine.Ingest(ctx, lf1142("12.00"), newInvoiceID(t, db), "LAWNFAWN")
	require.NoError(t, err)

	shouty := lf1142("12.50")
	shouty.Name = "  STITCHED rectangle   frames DIES "
	shouty.Category = ""
	res, err := engine.Ingest(ctx, shouty, newInvoiceID(t, db), "LAWNFAWN")
	require.NoError(t, err)
	assert.Equal(t, internal.DedupDuplicateSkipped, res.Status)
}

func TestPriceThresholdBoundary(t *testing.T) {
	engine := NewEngine(nil, 0.10, converter())
	stored := internal.Product{PriceOriginal: decimal.RequireFromString("20"), Currency: "USD"}

	assert.Empty(t, engine.Diff(stored, internal.LineItem{UnitPrice: decimal.RequireFromString("22"), Currency: "USD"}, "i"))
	assert.Len(t, engine.Diff(stored, internal.LineItem{UnitPrice: decimal.RequireFromString("22.01"), Currency: "USD"}, "i"), 1)
	assert.Empty(t, engine.Diff(stored, internal.LineItem{UnitPrice: decimal.Zero, Currency: "USD"}, "i"))

	// 11 EUR is 11.88 USD, within 10% of 12 USD
	stored = internal.Product{PriceOriginal: decimal.RequireFromString("12"), Currency: "USD"}
	assert.Empty(t, engine.Diff(stored, internal.LineItem{UnitPrice: decimal.RequireFromString("11"), Currency: "EUR"}, "i"))
}

func TestEmptySKUAlwaysCreates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	engine := NewEngine(db, 0.10, converter())

	item := lf1142("5.00")
	item.ManufacturerSKU = ""
	for i := 0; i < 2; i++ {
		res, err := engine.Ingest(ctx, item, newInvoiceID(t, db), "LAWNFAWN")
		require.NoError(t, err)
		assert.Equal(t, internal.DedupCreated, res.Status)
	}
	n, err := db.CountProducts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSameSKUTwiceInOneInvoice(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	engine := NewEngine(db, 0.10, converter())
	invoiceID := newInvoiceID(t, db)

	_, err := engine.Ingest(ctx, lf1142("12.00"), invoiceID, "LAWNFAWN")
	require.NoError(t, err)
	again := lf1142("12.00")
	again.LineNo = 2
	res, err := engine.Ingest(ctx, again, invoiceID, "LAWNFAWN")
	require.NoError(t, err)
	assert.Equal(t, internal.DedupDuplicateSkipped, res.Status)
	assert.False(t, res.Linked)
}

// blindStore hides existing products from the first lookup, reproducing a
// writer that lost the race between lookup and insert.
type blindStore struct {
	*storage.DB
	used int32
}

func (s *blindStore) InTx(ctx context.Context, fn func(storage.Tx) error) error {
	return s.DB.InTx(ctx, func(tx storage.Tx) error {
		if atomic.CompareAndSwapInt32(&s.used, 0, 1) {
			return fn(blindTx{Tx: tx})
		}
		return fn(tx)
	})
}

type blindTx struct {
	storage.Tx
}

func (blindTx) FindProductBySKU(context.Context, string) (*internal.Product, error) {
	return nil, nil
}

func TestLostInsertRaceBecomesDuplicate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	winner, err := NewEngine(db, 0.10, converter()).Ingest(ctx, lf1142("12.00"), newInvoiceID(t, db), "LAWNFAWN")
	require.NoError(t, err)

	loser := NewEngine(&blindStore{DB: db}, 0.10, converter())
	res, err := loser.Ingest(ctx, lf1142("20.00"), newInvoiceID(t, db), "LAWNFAWN")
	require.NoError(t, err)
	assert.Equal(t, internal.DedupConflictFlagged, res.Status)
	assert.Equal(t, winner.ProductID, res.ProductID)

	products, err := db.ProductsBySKU(ctx, "LF1142")
	require.NoError(t, err)
	assert.Len(t, products, 1)
}

func TestConcurrentIngestKeepsOneProduct(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	engine := NewEngine(db, 0.10, converter())

	const writers = 8
	invoiceIDs := make([]string, writers)
	for i := range invoiceIDs {
		invoiceIDs[i] = newInvoiceID(t, db)
	}

	var wg sync.WaitGroup
	statuses := make([]internal.DedupStatus, writers)
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := engine.Ingest(ctx, lf1142("12.00"), invoiceIDs[i], "LAWNFAWN")
			statuses[i], errs[i] = res.Status, err
		}(i)
	}
	wg.Wait()

	created := 0
	for i := range statuses {
		require.NoError(t, errs[i])
		if statuses[i] == internal.DedupCreated {
			created++
		}
	}
	assert.Equal(t, 1, created)

	products, err := db.ProductsBySKU(ctx, "LF1142")
	require.NoError(t, err)
	require.Len(t, products, 1)
	links, err := db.ListPurchaseLinks(ctx, products[0].ID)
	require.NoError(t, err)
	assert.Len(t, links, writers)
}
