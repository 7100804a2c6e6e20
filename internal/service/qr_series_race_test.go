package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cashback-next/internal/constants"
	"github.com/cashback-next/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestSeedInventoryRetriesConcurrentSeriesCreate(t *testing.T) {
	env := setupServiceTest(t, "inventory_series_race")
	ctx := context.Background()

	// 首次创建批次前，同一事务内先写入同名批次，模拟另一个请求抢先创建
	var fired atomic.Bool
	err := env.db.Callback().Create().Before("gorm:create").Register("test:series_race", func(tx *gorm.DB) {
		if tx.Statement.Table != "qr_series" || !fired.CompareAndSwap(false, true) {
			return
		}
		now := time.Now()
		if err := tx.Session(&gorm.Session{NewDB: true}).Exec(
			"INSERT INTO qr_series (series_code, vendor_id, source, total_count, note, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
			"RACE", 1, constants.QRSeriesSourceGenerated, 0, "", now, now,
		).Error; err != nil {
			_ = tx.AddError(err)
		}
	})
	if err != nil {
		t.Fatalf("register callback failed: %v", err)
	}
	t.Cleanup(func() {
		_ = env.db.Callback().Create().Remove("test:series_race")
	})

	retriesBefore := testutil.ToFloat64(metrics.TransactionRetries)
	result, err := env.inventory.SeedInventory(ctx, SeedInventoryInput{VendorID: 1, Count: 2, SeriesCode: "RACE"})
	if err != nil {
		t.Fatalf("seed must succeed after retry: %v", err)
	}
	if !fired.Load() {
		t.Fatalf("series race was not triggered")
	}
	if result.Series.SeriesCode != "RACE" || result.Series.VendorID != 1 || len(result.Hashes) != 2 {
		t.Fatalf("unexpected seed result: %+v", result)
	}
	if got := testutil.ToFloat64(metrics.TransactionRetries) - retriesBefore; got < 1 {
		t.Fatalf("expected at least one transaction retry, got %v", got)
	}
	var seriesCount int64
	if err := env.db.Table("qr_series").Where("series_code = ?", "RACE").Count(&seriesCount).Error; err != nil || seriesCount != 1 {
		t.Fatalf("expected exactly one series row, got %d err=%v", seriesCount, err)
	}
}
