package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cashback-next/internal/config"
	"github.com/cashback-next/internal/logger"
	"github.com/cashback-next/internal/models"
	"github.com/cashback-next/internal/provider"
	"github.com/cashback-next/internal/queue"
	"github.com/cashback-next/internal/repository"
	"github.com/cashback-next/internal/service"

	gormlogger "gorm.io/gorm/logger"
)

const usage = `usage: seed <command> [flags]

commands:
  seed-inventory    generate unbound inventory codes for a vendor series
  import-series     import pre-printed hashes from a CSV file
  fund-campaign     lock vendor funds and allocate inventory to a campaign
  reconcile-legacy  open budgets for campaign-bound codes without one
  export-labels     render PNG labels for a series
  create-claim      issue a one-time claim token
  list-series       list a vendor's code series
  list-events       list redemption audit events
  list-invoices     list projected invoices
  invalidate-campaign  drop the cached preview label of a campaign`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	stdLog := logger.StdLogger()
	if err := cfg.Validate(); err != nil {
		stdLog.Fatalf("invalid config: %v", err)
	}

	db, err := models.OpenDB(cfg.Database.Driver, cfg.Database.DSN, models.DBPoolConfig{
		MaxOpenConns:           cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns:           cfg.Database.Pool.MaxIdleConns,
		ConnMaxLifetimeSeconds: cfg.Database.Pool.ConnMaxLifetimeSeconds,
		ConnMaxIdleTimeSeconds: cfg.Database.Pool.ConnMaxIdleTimeSeconds,
	}, gormlogger.Warn)
	if err != nil {
		stdLog.Fatalf("failed to connect database: %v", err)
	}
	defer func() { _ = models.CloseDB(db) }()
	if err := models.AutoMigrate(db); err != nil {
		stdLog.Fatalf("failed to migrate database: %v", err)
	}

	container := provider.NewContainer(cfg, db)
	defer container.Close()

	ctx := context.Background()
	cmd, args := os.Args[1], os.Args[2:]
	var result interface{}
	switch cmd {
	case "seed-inventory":
		result, err = seedInventory(ctx, container, args)
	case "import-series":
		result, err = importSeries(ctx, container, args)
	case "fund-campaign":
		result, err = fundCampaign(ctx, container, args)
	case "reconcile-legacy":
		result, err = reconcileLegacy(ctx, container, args)
	case "export-labels":
		result, err = exportLabels(container, args)
	case "create-claim":
		result, err = createClaim(ctx, container, args)
	case "list-series":
		result, err = listSeries(container, args)
	case "list-events":
		result, err = listEvents(container, args)
	case "list-invoices":
		result, err = listInvoices(container, args)
	case "invalidate-campaign":
		result, err = invalidateCampaign(ctx, container, args)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		stdLog.Fatalf("%s failed [%s]: %v", cmd, service.ErrorCode(err), err)
	}
	printJSON(result)
}

func seedInventory(ctx context.Context, c *provider.Container, args []string) (interface{}, error) {
	fs := flag.NewFlagSet("seed-inventory", flag.ExitOnError)
	vendorID := fs.Uint("vendor", 0, "vendor id")
	count := fs.Int("count", 0, "number of codes")
	series := fs.String("series", "", "series code, generated when empty")
	note := fs.String("note", "", "series note")
	_ = fs.Parse(args)

	result, err := c.InventoryService.SeedInventory(ctx, service.SeedInventoryInput{
		VendorID:   *vendorID,
		Count:      *count,
		SeriesCode: *series,
		Note:       *note,
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"series_code": result.Series.SeriesCode,
		"first_order": result.FirstOrder,
		"last_order":  result.LastOrder,
		"count":       len(result.Hashes),
	}, nil
}

func importSeries(ctx context.Context, c *provider.Container, args []string) (interface{}, error) {
	fs := flag.NewFlagSet("import-series", flag.ExitOnError)
	vendorID := fs.Uint("vendor", 0, "vendor id")
	series := fs.String("series", "", "series code")
	file := fs.String("file", "", "CSV file with a hash column")
	note := fs.String("note", "", "series note")
	_ = fs.Parse(args)

	f, err := os.Open(strings.TrimSpace(*file))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	result, err := c.InventoryService.ImportSeriesCSV(ctx, *vendorID, *series, f, *note)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"series_code": result.Series.SeriesCode,
		"first_order": result.FirstOrder,
		"last_order":  result.LastOrder,
		"count":       len(result.Hashes),
	}, nil
}

func fundCampaign(ctx context.Context, c *provider.Container, args []string) (interface{}, error) {
	fs := flag.NewFlagSet("fund-campaign", flag.ExitOnError)
	vendorID := fs.Uint("vendor", 0, "vendor id")
	campaignID := fs.Uint("campaign", 0, "campaign id")
	series := fs.String("series", "", "restrict allocation to a series")
	quantity := fs.Int("quantity", 0, "number of codes")
	cashback := fs.String("cashback", "", "cashback per code")
	_ = fs.Parse(args)

	amount, err := models.ParseMoney(*cashback)
	if err != nil {
		return nil, service.ErrInvalidAmount
	}
	result, err := c.BudgetService.FundCampaign(ctx, service.FundCampaignInput{
		VendorID:       *vendorID,
		CampaignID:     *campaignID,
		SeriesCode:     *series,
		Quantity:       *quantity,
		CashbackAmount: amount,
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"budget_no":    result.Budget.BudgetNo,
		"budget_id":    result.Budget.ID,
		"total_locked": result.TotalLocked,
		"codes":        len(result.Codes),
	}, nil
}

func reconcileLegacy(ctx context.Context, c *provider.Container, args []string) (interface{}, error) {
	fs := flag.NewFlagSet("reconcile-legacy", flag.ExitOnError)
	async := fs.Bool("async", false, "enqueue to the worker instead of running inline")
	requestedBy := fs.String("by", "cli", "operator name recorded on the task")
	_ = fs.Parse(args)

	if *async {
		if !c.QueueClient.Enabled() {
			return nil, fmt.Errorf("queue is disabled")
		}
		if err := c.QueueClient.EnqueueLegacyReconcile(queue.LegacyReconcilePayload{RequestedBy: *requestedBy}, 0); err != nil {
			return nil, err
		}
		return map[string]interface{}{"enqueued": true}, nil
	}
	return c.BudgetService.ReconcileLegacyCommitments(ctx)
}

func exportLabels(c *provider.Container, args []string) (interface{}, error) {
	fs := flag.NewFlagSet("export-labels", flag.ExitOnError)
	vendorID := fs.Uint("vendor", 0, "vendor id")
	series := fs.String("series", "", "series code")
	status := fs.String("status", "", "only codes in this status")
	out := fs.String("out", "labels", "output directory")
	_ = fs.Parse(args)

	if err := os.MkdirAll(*out, 0o755); err != nil {
		return nil, err
	}
	written := 0
	for page := 1; ; page++ {
		codes, total, err := c.InventoryService.ListCodes(repository.QRCodeListFilter{
			Page:       page,
			PageSize:   200,
			VendorID:   *vendorID,
			SeriesCode: strings.TrimSpace(*series),
			Status:     strings.TrimSpace(*status),
		})
		if err != nil {
			return nil, err
		}
		for _, code := range codes {
			png, err := c.InventoryService.RenderLabelPNG(code.UniqueHash)
			if err != nil {
				return nil, err
			}
			name := fmt.Sprintf("%s-%06d.png", code.SeriesCode, code.SeriesOrder)
			if err := os.WriteFile(filepath.Join(*out, name), png, 0o644); err != nil {
				return nil, err
			}
			written++
		}
		if len(codes) == 0 || int64(page*200) >= total {
			break
		}
	}
	return map[string]interface{}{"written": written, "dir": *out}, nil
}

func createClaim(ctx context.Context, c *provider.Container, args []string) (interface{}, error) {
	fs := flag.NewFlagSet("create-claim", flag.ExitOnError)
	amount := fs.String("amount", "", "claim amount")
	ttl := fs.Duration("ttl", 0, "validity, defaults to claim.default_ttl_minutes")
	note := fs.String("note", "", "note")
	_ = fs.Parse(args)

	money, err := models.ParseMoney(*amount)
	if err != nil {
		return nil, service.ErrInvalidAmount
	}
	created, err := c.ClaimService.CreateClaim(ctx, service.CreateClaimInput{Amount: money, TTL: *ttl, Note: *note})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"claim_id":   created.Claim.ID,
		"token":      created.Token,
		"expires_at": created.Claim.ExpiresAt.Format(time.RFC3339),
	}, nil
}

func listSeries(c *provider.Container, args []string) (interface{}, error) {
	fs := flag.NewFlagSet("list-series", flag.ExitOnError)
	vendorID := fs.Uint("vendor", 0, "vendor id")
	page := fs.Int("page", 1, "page")
	pageSize := fs.Int("page-size", 50, "page size")
	_ = fs.Parse(args)

	series, total, err := c.InventoryService.ListSeries(*vendorID, *page, *pageSize)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"total": total, "items": series}, nil
}

func listEvents(c *provider.Container, args []string) (interface{}, error) {
	fs := flag.NewFlagSet("list-events", flag.ExitOnError)
	eventType := fs.String("type", "", "event type")
	hash := fs.String("code", "", "code hash")
	userID := fs.Uint("user", 0, "user id")
	campaignID := fs.Uint("campaign", 0, "campaign id")
	since := fs.Duration("since", 0, "only events newer than this")
	page := fs.Int("page", 1, "page")
	pageSize := fs.Int("page-size", 50, "page size")
	_ = fs.Parse(args)

	filter := repository.RedemptionEventListFilter{
		Page:       *page,
		PageSize:   *pageSize,
		Type:       strings.TrimSpace(*eventType),
		CodeHash:   strings.TrimSpace(*hash),
		UserID:     *userID,
		CampaignID: *campaignID,
	}
	if *since > 0 {
		from := time.Now().Add(-*since)
		filter.CreatedFrom = &from
	}
	events, total, err := c.RedemptionService.ListEvents(filter)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"total": total, "items": events}, nil
}

func listInvoices(c *provider.Container, args []string) (interface{}, error) {
	fs := flag.NewFlagSet("list-invoices", flag.ExitOnError)
	ownerType := fs.String("owner-type", "", "owner type")
	ownerID := fs.Uint("owner", 0, "owner id")
	invoiceType := fs.String("type", "", "invoice type")
	page := fs.Int("page", 1, "page")
	pageSize := fs.Int("page-size", 50, "page size")
	_ = fs.Parse(args)

	invoices, total, err := c.InvoiceService.ListInvoices(repository.InvoiceListFilter{
		Page:      *page,
		PageSize:  *pageSize,
		OwnerType: strings.TrimSpace(*ownerType),
		OwnerID:   *ownerID,
		Type:      strings.TrimSpace(*invoiceType),
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"total": total, "items": invoices}, nil
}

func invalidateCampaign(ctx context.Context, c *provider.Container, args []string) (interface{}, error) {
	fs := flag.NewFlagSet("invalidate-campaign", flag.ExitOnError)
	campaignID := fs.Uint("campaign", 0, "campaign id")
	_ = fs.Parse(args)

	if err := c.RedemptionService.InvalidateCampaign(ctx, *campaignID); err != nil {
		return nil, err
	}
	return map[string]interface{}{"campaign_id": *campaignID, "invalidated": true}, nil
}

func printJSON(v interface{}) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(v)
}
