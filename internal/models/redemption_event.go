package models

import "time"

// RedemptionEvent 扫码审计事件，只写不改
type RedemptionEvent struct {
	ID             uint      `gorm:"primarykey" json:"id"`                            // 主键
	Type           string    `gorm:"type:varchar(24);index;not null" json:"type"`     // 事件类型
	Reason         string    `gorm:"type:varchar(64)" json:"reason"`                  // 失败原因码
	CodeHash       string    `gorm:"type:varchar(128);index;not null" json:"code_hash"` // 二维码哈希
	QRCodeID       *uint     `gorm:"index" json:"qr_code_id,omitempty"`               // 二维码ID
	UserID         *uint     `gorm:"index" json:"user_id,omitempty"`                  // 用户ID
	CampaignID     *uint     `gorm:"index" json:"campaign_id,omitempty"`              // 活动ID
	Amount         Money     `gorm:"type:decimal(20,2);not null;default:0" json:"amount"` // 返现金额
	Latitude       *float64  `json:"latitude,omitempty"`                              // 纬度
	Longitude      *float64  `json:"longitude,omitempty"`                             // 经度
	AccuracyMeters *float64  `json:"accuracy_meters,omitempty"`                       // 定位精度
	City           string    `gorm:"type:varchar(80)" json:"city"`                    // 城市
	Region         string    `gorm:"type:varchar(80)" json:"region"`                  // 省份
	Country        string    `gorm:"type:varchar(80)" json:"country"`                 // 国家
	IPAddress      string    `gorm:"type:varchar(64)" json:"ip_address"`              // IP
	UserAgent      string    `gorm:"type:varchar(255)" json:"user_agent"`             // UA
	CapturedAt     time.Time `gorm:"index;not null" json:"captured_at"`               // 采集时间
	CreatedAt      time.Time `gorm:"index" json:"created_at"`                         // 创建时间
}

// TableName 指定表名
func (RedemptionEvent) TableName() string {
	return "redemption_events"
}
