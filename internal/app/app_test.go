package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"PartsSettle/internal/config"
	"PartsSettle/internal/models"
	"PartsSettle/internal/services"
	"PartsSettle/internal/store/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const seedPath = "../../configs/seed.yaml"

func TestLoadSeed(t *testing.T) {
	mem := memstore.New()
	require.NoError(t, LoadSeed(seedPath, mem))

	part, err := mem.GetPart(context.Background(), "8f0c6a52-brake-pad-front")
	require.NoError(t, err)
	assert.Equal(t, int64(45000), part.BasePrice)
	assert.Equal(t, 40, part.StockOnHand)
	assert.True(t, part.Active)

	tiers, err := mem.ListPriceTiers(context.Background(), part.ID)
	require.NoError(t, err)
	assert.Len(t, tiers, 2)

	rates, err := mem.ListCommissionRates(context.Background())
	require.NoError(t, err)
	assert.Len(t, rates, 2)
}

func TestLoadSeedRejectsIncompleteParts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("parts:\n  - id: orphan\n    base_price: \"1.00\"\n"), 0o600))
	assert.Error(t, LoadSeed(path, memstore.New()))
}

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(`
server:
  addr: ":0"
db:
  storage: memory
  seed_file: "` + seedPath + `"
payfast:
  merchant_id: "10000100"
  validate_url: "http://127.0.0.1:1/validate"
  allowed_cidrs: ["197.97.145.144/28"]
orders:
  max_order_amount: "500000.00"
  free_shipping_threshold: "1000.00"
  standard_shipping: "99.00"
  express_shipping: "199.00"
fees:
  default_commission_pct: "10"
`))
	require.NoError(t, err)
	return cfg
}

func TestNewWiresMemoryBackend(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, memoryConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	a.Start(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		a.Close(stopCtx)
	}()

	placed, err := a.Orders.CreateOrder(ctx, services.CreateOrderInput{
		BuyerID: "buyer-1",
		Items:   []services.ItemInput{{PartID: "8f0c6a52-brake-pad-front", Quantity: 10}},
		ShippingAddress: models.Address{
			FullName: "Lerato Mokoena", Line1: "3 Bree St", City: "Cape Town", PostalCode: "8001", Country: "ZA",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(420000), placed.Order.Subtotal)
	assert.Equal(t, int64(0), placed.Order.Shipping)

	w := a.Worker()
	assert.Equal(t, 30*time.Second, w.Interval)
	assert.Equal(t, 50, w.BatchSize)
	require.NoError(t, w.SyncOnce(ctx))
}

func TestNewRejectsBadMerchantConfig(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.PayFast.MerchantID = ""
	_, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}
