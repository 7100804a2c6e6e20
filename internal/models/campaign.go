package models

import (
	"time"

	"gorm.io/gorm"
)

// Campaign 活动目录记录，由活动管理模块维护，账本只读
type Campaign struct {
	ID        uint           `gorm:"primarykey" json:"id"`                    // 主键
	VendorID  uint           `gorm:"index;not null" json:"vendor_id"`         // 商户ID
	Title     string         `gorm:"type:varchar(200);not null" json:"title"` // 活动标题
	BrandName string         `gorm:"type:varchar(120)" json:"brand_name"`     // 品牌名
	StartDate *time.Time     `gorm:"index" json:"start_date"`                 // 开始时间
	EndDate   *time.Time     `gorm:"index" json:"end_date"`                   // 结束时间
	CreatedAt time.Time      `gorm:"index" json:"created_at"`                 // 创建时间
	UpdatedAt time.Time      `gorm:"index" json:"updated_at"`                 // 更新时间
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`                          // 软删除时间
}

// TableName 指定表名
func (Campaign) TableName() string {
	return "campaigns"
}

// WithinWindow 判断时间点是否落在活动窗口内，未设置的边界视为开放
func (c Campaign) WithinWindow(at time.Time) bool {
	if c.StartDate != nil && at.Before(*c.StartDate) {
		return false
	}
	if c.EndDate != nil && at.After(*c.EndDate) {
		return false
	}
	return true
}
