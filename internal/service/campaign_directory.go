package service

import (
	"context"
	"time"

	"github.com/cashback-next/internal/cache"
	"github.com/cashback-next/internal/logger"
	"github.com/cashback-next/internal/models"
	"github.com/cashback-next/internal/repository"
)

// CampaignLabel 活动展示信息
type CampaignLabel struct {
	ID        uint       `json:"id"`
	VendorID  uint       `json:"vendor_id"`
	Title     string     `json:"title"`
	BrandName string     `json:"brand_name"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
}

// WithinWindow 判断时间是否在活动窗口内
func (l CampaignLabel) WithinWindow(at time.Time) bool {
	return models.Campaign{StartDate: l.StartDate, EndDate: l.EndDate}.WithinWindow(at)
}

// CampaignDirectory 活动只读查询，不存在或已软删除返回 nil
type CampaignDirectory interface {
	GetCampaign(ctx context.Context, id uint) (*CampaignLabel, error)
}

// RepositoryCampaignDirectory 直接读库的活动查询
type RepositoryCampaignDirectory struct {
	repo repository.CampaignRepository
}

// NewRepositoryCampaignDirectory 创建读库活动查询
func NewRepositoryCampaignDirectory(repo repository.CampaignRepository) *RepositoryCampaignDirectory {
	return &RepositoryCampaignDirectory{repo: repo}
}

// GetCampaign 获取活动
func (d *RepositoryCampaignDirectory) GetCampaign(_ context.Context, id uint) (*CampaignLabel, error) {
	campaign, err := d.repo.GetByID(id)
	if err != nil || campaign == nil {
		return nil, err
	}
	return labelFromCampaign(campaign), nil
}

// CampaignInvalidator 可丢弃活动缓存的查询实现
type CampaignInvalidator interface {
	Invalidate(ctx context.Context, id uint) error
}

// labelStore 活动缓存读写，*cache.Store 实现该接口
type labelStore interface {
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// CachedCampaignDirectory 带 Redis 缓存的活动查询，仅用于预览。
// 活动在库中被软删除后，缓存最多保留 ttl，除非调用 Invalidate。
type CachedCampaignDirectory struct {
	base  CampaignDirectory
	store labelStore
	ttl   time.Duration
}

// NewCachedCampaignDirectory 创建缓存活动查询
func NewCachedCampaignDirectory(base CampaignDirectory, store labelStore, ttl time.Duration) *CachedCampaignDirectory {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedCampaignDirectory{base: base, store: store, ttl: ttl}
}

// GetCampaign 先读缓存，未命中回源并写回；缓存故障时直接回源
func (d *CachedCampaignDirectory) GetCampaign(ctx context.Context, id uint) (*CampaignLabel, error) {
	key := cache.CampaignLabelKey(id)
	var label CampaignLabel
	hit, err := d.store.GetJSON(ctx, key, &label)
	if err != nil {
		logger.Warnw("campaign_label_cache_get_failed", "campaign_id", id, "error", err)
	}
	if hit {
		return &label, nil
	}
	fresh, err := d.base.GetCampaign(ctx, id)
	if err != nil || fresh == nil {
		return fresh, err
	}
	if err := d.store.SetJSON(ctx, key, fresh, d.ttl); err != nil {
		logger.Warnw("campaign_label_cache_set_failed", "campaign_id", id, "error", err)
	}
	return fresh, nil
}

// Invalidate 删除活动缓存
func (d *CachedCampaignDirectory) Invalidate(ctx context.Context, id uint) error {
	if id == 0 {
		return nil
	}
	return d.store.Del(ctx, cache.CampaignLabelKey(id))
}

func labelFromCampaign(campaign *models.Campaign) *CampaignLabel {
	return &CampaignLabel{
		ID:        campaign.ID,
		VendorID:  campaign.VendorID,
		Title:     campaign.Title,
		BrandName: campaign.BrandName,
		StartDate: campaign.StartDate,
		EndDate:   campaign.EndDate,
	}
}
