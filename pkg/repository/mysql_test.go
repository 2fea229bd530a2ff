package repository

import (
	"context"
	"testing"
	"time"

	"github.com/example/printshop/pkg/models"
	"github.com/example/printshop/pkg/order"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newFileRepository(t *testing.T) *FileRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every pooled connection to :memory: would see its own empty database
	sqlDB.SetMaxOpenConns(1)

	repo, err := NewFileRepository(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestFileRepositoryRoundTrip(t *testing.T) {
	repo := newFileRepository(t)
	ctx := context.Background()

	in := &models.OrderFile{
		Name:    "bracket.stl",
		Size:    6,
		Payload: []byte{0, 1, 2, 0xfe, 0xff, 0},
		Settings: models.PrintSettings{
			LayerHeight:   0.2,
			InfillDensity: 20,
			InfillPattern: models.InfillGyroid,
			SupportEnable: true,
			MaterialType:  models.MaterialPLAPlus,
			MaterialColor: "#ff8800",
		},
		Dimensions: models.MeshDimensions{Width: 50, Height: 30, Depth: 40},
		Price: models.PriceBreakdown{
			FilamentCost:     decimal.RequireFromString("12.50"),
			TimeCost:         decimal.RequireFromString("0.3333"),
			PackagingCost:    decimal.NewFromInt(5),
			HumanEffortsCost: decimal.NewFromInt(10),
			ProfitCost:       decimal.RequireFromString("7.25"),
			FinalPrice:       36,
		},
		PrintDetails: models.PrintDetails{FilamentGrams: 8, FilamentMm: 2650.5, Volume: 6.4, PrintSeconds: 3700},
		Placement: models.Placement{
			Position: models.Vector3{X: 1, Y: 2, Z: 3},
			Rotation: models.Vector3{Z: 1.5708},
		},
		Notes:     "matte finish, ünïcode",
		Quantity:  2,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}

	id, err := repo.Put(ctx, in)
	require.NoError(t, err)
	require.NotZero(t, id)

	out, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, out.ID)
	assert.Equal(t, in.Name, out.Name)
	assert.Equal(t, in.Payload, out.Payload)
	assert.Equal(t, in.Settings, out.Settings)
	assert.Equal(t, in.Dimensions, out.Dimensions)
	assert.Equal(t, in.PrintDetails, out.PrintDetails)
	assert.Equal(t, in.Placement, out.Placement)
	assert.Equal(t, in.Notes, out.Notes)
	assert.Equal(t, 2, out.Quantity)
	assert.WithinDuration(t, in.CreatedAt, out.CreatedAt, time.Second)

	assert.True(t, in.Price.FilamentCost.Equal(out.Price.FilamentCost), out.Price.FilamentCost.String())
	assert.True(t, in.Price.TimeCost.Equal(out.Price.TimeCost), out.Price.TimeCost.String())
	assert.True(t, in.Price.ProfitCost.Equal(out.Price.ProfitCost), out.Price.ProfitCost.String())
	assert.Equal(t, int64(36), out.Price.FinalPrice)

	second, err := repo.Put(ctx, &models.OrderFile{Name: "b.stl", Quantity: 1})
	require.NoError(t, err)
	assert.NotEqual(t, id, second)

	require.NoError(t, repo.Delete(ctx, id))
	_, err = repo.Get(ctx, id)
	assert.ErrorIs(t, err, order.ErrRecordNotFound)

	_, err = repo.Get(ctx, second)
	assert.NoError(t, err)
}

func TestFileRepositoryMissingRecord(t *testing.T) {
	repo := newFileRepository(t)

	_, err := repo.Get(context.Background(), 404)
	assert.ErrorIs(t, err, order.ErrRecordNotFound)
	assert.NoError(t, repo.Delete(context.Background(), 404))
}
