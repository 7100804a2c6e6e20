package service

import (
	"context"
	crand "crypto/rand"
	"encoding/base32"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cashback-next/internal/config"
	"github.com/cashback-next/internal/constants"
	"github.com/cashback-next/internal/logger"
	"github.com/cashback-next/internal/metrics"
	"github.com/cashback-next/internal/models"
	"github.com/cashback-next/internal/repository"

	qrcode "github.com/skip2/go-qrcode"
	"gorm.io/gorm"
)

const (
	seedHashMaxRounds   = 5
	seriesCodeMaxLength = 64
)

var hashEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// QRInventoryService 二维码库存服务
type QRInventoryService struct {
	transactor repository.Transactor
	qrRepo     repository.QRCodeRepository
	seriesRepo repository.QRSeriesRepository
	cfg        config.InventoryConfig
	now        func() time.Time
}

// SeedInventoryInput 生成库存输入
type SeedInventoryInput struct {
	VendorID   uint
	Count      int
	SeriesCode string
	Note       string
}

// ImportSeriesInput 导入外部批次输入
type ImportSeriesInput struct {
	VendorID   uint
	SeriesCode string
	Hashes     []string
	Note       string
}

// InventoryBatchResult 入库结果
type InventoryBatchResult struct {
	Series     *models.QRSeries `json:"series"`
	Hashes     []string         `json:"hashes"`
	FirstOrder int              `json:"first_order"`
	LastOrder  int              `json:"last_order"`
}

// AllocateInput 库存分配输入
type AllocateInput struct {
	VendorID         uint
	SeriesCode       string
	Quantity         int
	CampaignID       uint
	CampaignBudgetID uint
	CashbackAmount   models.Money
}

// InventoryStats 库存统计
type InventoryStats struct {
	VendorID   uint             `json:"vendor_id"`
	SeriesCode string           `json:"series_code,omitempty"`
	ByStatus   map[string]int64 `json:"by_status"`
	Total      int64            `json:"total"`
}

// NewQRInventoryService 创建二维码库存服务
func NewQRInventoryService(
	transactor repository.Transactor,
	qrRepo repository.QRCodeRepository,
	seriesRepo repository.QRSeriesRepository,
	cfg config.InventoryConfig,
) *QRInventoryService {
	if cfg.HashBytes <= 0 {
		cfg.HashBytes = 10
	}
	if cfg.MaxSeedCount <= 0 {
		cfg.MaxSeedCount = 50000
	}
	if cfg.LabelSize <= 0 {
		cfg.LabelSize = 256
	}
	return &QRInventoryService{
		transactor: transactor,
		qrRepo:     qrRepo,
		seriesRepo: seriesRepo,
		cfg:        cfg,
		now:        time.Now,
	}
}

// SeedInventory 批量生成库存码
func (s *QRInventoryService) SeedInventory(ctx context.Context, in SeedInventoryInput) (*InventoryBatchResult, error) {
	if in.VendorID == 0 || in.Count <= 0 || in.Count > s.cfg.MaxSeedCount {
		return nil, ErrInvalidInput
	}
	var result *InventoryBatchResult
	err := s.transactor.Transaction(ctx, func(tx *gorm.DB) error {
		now := s.now()
		series, err := s.ensureSeries(tx, in.VendorID, in.SeriesCode, constants.QRSeriesSourceGenerated, in.Note, now)
		if err != nil {
			return err
		}
		qrRepo := s.qrRepo.WithTx(tx)
		hashes, err := s.generateUniqueHashes(qrRepo, in.Count)
		if err != nil {
			return err
		}
		res, err := s.insertSeriesCodes(tx, series, hashes, now)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.InventoryCodes.WithLabelValues(constants.QRSeriesSourceGenerated).Add(float64(len(result.Hashes)))
	logger.Infow("qr_inventory_seeded",
		"vendor_id", in.VendorID,
		"series_code", result.Series.SeriesCode,
		"count", len(result.Hashes),
		"first_order", result.FirstOrder,
		"last_order", result.LastOrder,
	)
	return result, nil
}

// ImportSeries 导入外部印刷批次，任何重复哈希都会拒绝整批
func (s *QRInventoryService) ImportSeries(ctx context.Context, in ImportSeriesInput) (*InventoryBatchResult, error) {
	if in.VendorID == 0 || strings.TrimSpace(in.SeriesCode) == "" {
		return nil, ErrInvalidInput
	}
	hashes := make([]string, 0, len(in.Hashes))
	seen := make(map[string]struct{}, len(in.Hashes))
	for _, raw := range in.Hashes {
		hash := strings.TrimSpace(raw)
		if hash == "" {
			continue
		}
		if _, ok := seen[hash]; ok {
			return nil, fmt.Errorf("%w: %s repeated in input", ErrDuplicateCode, hash)
		}
		seen[hash] = struct{}{}
		hashes = append(hashes, hash)
	}
	if len(hashes) == 0 {
		return nil, ErrInvalidInput
	}

	var result *InventoryBatchResult
	err := s.transactor.Transaction(ctx, func(tx *gorm.DB) error {
		now := s.now()
		existing, err := s.qrRepo.WithTx(tx).ExistingHashes(hashes)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return fmt.Errorf("%w: %s already stored", ErrDuplicateCode, existing[0])
		}
		series, err := s.ensureSeries(tx, in.VendorID, in.SeriesCode, constants.QRSeriesSourceImport, in.Note, now)
		if err != nil {
			return err
		}
		res, err := s.insertSeriesCodes(tx, series, hashes, now)
		if err != nil {
			if repository.IsUniqueViolation(err) {
				return ErrDuplicateCode
			}
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.InventoryCodes.WithLabelValues(constants.QRSeriesSourceImport).Add(float64(len(result.Hashes)))
	logger.Infow("qr_series_imported",
		"vendor_id", in.VendorID,
		"series_code", result.Series.SeriesCode,
		"count", len(result.Hashes),
	)
	return result, nil
}

// ImportSeriesCSV 从 CSV 导入批次，表头为 hash 时按该列读取，否则取第一列
func (s *QRInventoryService) ImportSeriesCSV(ctx context.Context, vendorID uint, seriesCode string, reader io.Reader, note string) (*InventoryBatchResult, error) {
	if reader == nil {
		return nil, ErrInvalidInput
	}
	hashes, err := parseCSVHashes(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return s.ImportSeries(ctx, ImportSeriesInput{
		VendorID:   vendorID,
		SeriesCode: seriesCode,
		Hashes:     hashes,
		Note:       note,
	})
}

// Allocate 在独立事务中分配库存
func (s *QRInventoryService) Allocate(ctx context.Context, in AllocateInput) ([]models.QRCode, error) {
	var codes []models.QRCode
	err := s.transactor.Transaction(ctx, func(tx *gorm.DB) error {
		allocated, err := s.AllocateTx(tx, in)
		if err != nil {
			return err
		}
		codes = allocated
		return nil
	})
	return codes, err
}

// AllocateTx 按批次号、序号顺序为活动分配库存码
func (s *QRInventoryService) AllocateTx(tx *gorm.DB, in AllocateInput) ([]models.QRCode, error) {
	if in.VendorID == 0 || in.Quantity <= 0 || in.CampaignID == 0 {
		return nil, ErrInvalidInput
	}
	if !in.CashbackAmount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	repo := s.qrRepo.WithTx(tx)
	candidates, err := repo.ListForAllocation(in.VendorID, in.SeriesCode, in.Quantity)
	if err != nil {
		return nil, err
	}
	if len(candidates) < in.Quantity {
		return nil, ErrInsufficientInventory
	}
	ids := make([]uint, 0, len(candidates))
	for _, code := range candidates {
		ids = append(ids, code.ID)
	}
	now := s.now()
	affected, err := repo.Allocate(ids, repository.QRCodeAllocation{
		CampaignID:       in.CampaignID,
		CampaignBudgetID: in.CampaignBudgetID,
		CashbackAmount:   in.CashbackAmount,
		FundedAt:         now,
	})
	if err != nil {
		return nil, err
	}
	if affected != int64(in.Quantity) {
		return nil, ErrInsufficientInventory
	}
	for i := range candidates {
		candidates[i].Status = constants.QRCodeStatusFunded
		candidates[i].CampaignID = uintPtr(in.CampaignID)
		if in.CampaignBudgetID != 0 {
			candidates[i].CampaignBudgetID = uintPtr(in.CampaignBudgetID)
		}
		candidates[i].CashbackAmount = in.CashbackAmount
		candidates[i].FundedAt = timePtr(now)
	}
	return candidates, nil
}

// CountInventoryTx 统计可分配库存
func (s *QRInventoryService) CountInventoryTx(tx *gorm.DB, vendorID uint, seriesCode string) (int64, error) {
	return s.qrRepo.WithTx(tx).CountInventory(vendorID, seriesCode)
}

// VoidByBudgetTx 作废预算（及其活动）下所有未核销的码
func (s *QRInventoryService) VoidByBudgetTx(tx *gorm.DB, budget *models.CampaignBudget) (int64, error) {
	if budget == nil || budget.ID == 0 {
		return 0, ErrBudgetNotFound
	}
	return s.qrRepo.WithTx(tx).VoidByBudget(budget.ID, budget.CampaignID, s.now())
}

// GetStats 按状态统计库存
func (s *QRInventoryService) GetStats(vendorID uint, seriesCode string) (*InventoryStats, error) {
	if vendorID == 0 {
		return nil, ErrInvalidInput
	}
	counts, err := s.qrRepo.CountByStatus(vendorID, strings.TrimSpace(seriesCode))
	if err != nil {
		return nil, err
	}
	stats := &InventoryStats{VendorID: vendorID, SeriesCode: strings.TrimSpace(seriesCode), ByStatus: counts}
	for _, n := range counts {
		stats.Total += n
	}
	return stats, nil
}

// ListCodes 分页查询二维码
func (s *QRInventoryService) ListCodes(filter repository.QRCodeListFilter) ([]models.QRCode, int64, error) {
	return s.qrRepo.List(filter)
}

// ListSeries 分页查询商户批次
func (s *QRInventoryService) ListSeries(vendorID uint, page, pageSize int) ([]models.QRSeries, int64, error) {
	return s.seriesRepo.ListByVendor(vendorID, page, pageSize)
}

// LabelURL 标签内编码的扫码地址
func (s *QRInventoryService) LabelURL(hash string) string {
	base := strings.TrimRight(strings.TrimSpace(s.cfg.LabelBaseURL), "/")
	return base + "/" + strings.TrimSpace(hash)
}

// RenderLabelPNG 渲染印刷用二维码标签
func (s *QRInventoryService) RenderLabelPNG(hash string) ([]byte, error) {
	if strings.TrimSpace(hash) == "" {
		return nil, ErrInvalidInput
	}
	png, err := qrcode.Encode(s.LabelURL(hash), qrcode.Medium, s.cfg.LabelSize)
	if err != nil {
		return nil, fmt.Errorf("encode qr label: %w", err)
	}
	return png, nil
}

func (s *QRInventoryService) ensureSeries(tx *gorm.DB, vendorID uint, seriesCode, source, note string, now time.Time) (*models.QRSeries, error) {
	repo := s.seriesRepo.WithTx(tx)
	code := strings.TrimSpace(seriesCode)
	if code == "" {
		generated, err := generateSerialNo("S", now)
		if err != nil {
			return nil, err
		}
		code = generated
	}
	if len(code) > seriesCodeMaxLength {
		return nil, ErrInvalidInput
	}
	series, err := repo.GetByCodeForUpdate(code)
	if err != nil {
		return nil, err
	}
	if series != nil {
		if series.VendorID != vendorID {
			return nil, ErrSeriesConflict
		}
		return series, nil
	}
	series = &models.QRSeries{
		SeriesCode: code,
		VendorID:   vendorID,
		Source:     source,
		Note:       strings.TrimSpace(note),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := repo.Create(series); err != nil {
		if repository.IsUniqueViolation(err) {
			// 并发创建同名批次，重试时重新读取归属
			return nil, repository.ErrConcurrentUpdate
		}
		return nil, err
	}
	return series, nil
}

// insertSeriesCodes 序号从批次当前最大值之后继续
func (s *QRInventoryService) insertSeriesCodes(tx *gorm.DB, series *models.QRSeries, hashes []string, now time.Time) (*InventoryBatchResult, error) {
	qrRepo := s.qrRepo.WithTx(tx)
	start, err := qrRepo.MaxSeriesOrder(series.SeriesCode)
	if err != nil {
		return nil, err
	}
	codes := make([]models.QRCode, 0, len(hashes))
	for i, hash := range hashes {
		codes = append(codes, models.QRCode{
			UniqueHash:     hash,
			VendorID:       series.VendorID,
			Status:         constants.QRCodeStatusInventory,
			CashbackAmount: models.ZeroMoney(),
			SeriesCode:     series.SeriesCode,
			SeriesOrder:    start + i + 1,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}
	if err := qrRepo.CreateBatch(codes); err != nil {
		return nil, err
	}
	if err := s.seriesRepo.WithTx(tx).AddCount(series.ID, len(codes)); err != nil {
		return nil, err
	}
	series.TotalCount += len(codes)
	return &InventoryBatchResult{
		Series:     series,
		Hashes:     hashes,
		FirstOrder: start + 1,
		LastOrder:  start + len(hashes),
	}, nil
}

// generateUniqueHashes 生成与批内及库内均不冲突的哈希，冲突部分按轮重新生成
func (s *QRInventoryService) generateUniqueHashes(repo *repository.GormQRCodeRepository, count int) ([]string, error) {
	accepted := make([]string, 0, count)
	seen := make(map[string]struct{}, count)
	for round := 0; round < seedHashMaxRounds && len(accepted) < count; round++ {
		need := count - len(accepted)
		candidates := make([]string, 0, need)
		for len(candidates) < need {
			hash, err := s.newHash()
			if err != nil {
				return nil, err
			}
			if _, ok := seen[hash]; ok {
				continue
			}
			seen[hash] = struct{}{}
			candidates = append(candidates, hash)
		}
		existing, err := repo.ExistingHashes(candidates)
		if err != nil {
			return nil, err
		}
		taken := make(map[string]struct{}, len(existing))
		for _, hash := range existing {
			taken[hash] = struct{}{}
		}
		for _, hash := range candidates {
			if _, ok := taken[hash]; !ok {
				accepted = append(accepted, hash)
			}
		}
		if len(existing) > 0 {
			logger.Warnw("qr_hash_collision_regenerate", "round", round+1, "collisions", len(existing))
		}
	}
	if len(accepted) < count {
		return nil, errors.New("unable to generate unique qr hashes")
	}
	return accepted, nil
}

func (s *QRInventoryService) newHash() (string, error) {
	buf := make([]byte, s.cfg.HashBytes)
	if _, err := crand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hashEncoding.EncodeToString(buf), nil
}

func parseCSVHashes(reader io.Reader) ([]string, error) {
	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1
	var (
		hashes     []string
		headerRead bool
		hashIdx    = 0
	)
	for {
		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) == 0 {
			continue
		}
		if !headerRead {
			headerRead = true
			skipRow := false
			for i, col := range record {
				if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(col, "\ufeff")), "hash") {
					hashIdx = i
					skipRow = true
					break
				}
			}
			if skipRow {
				continue
			}
		}
		if hashIdx >= len(record) {
			continue
		}
		hash := strings.TrimSpace(strings.TrimPrefix(record[hashIdx], "\ufeff"))
		if hash == "" {
			continue
		}
		hashes = append(hashes, hash)
	}
	return hashes, nil
}
