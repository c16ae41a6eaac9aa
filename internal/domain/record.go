package domain

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"
)

// AvailabilityRecord 表示一条规范化后的车源记录（某地某日可用一辆车）。
//
// ID 由所属邮件、规范化地点、日期文本与序号确定性派生；
// 序号的存在使同一地点/日期的数量展开与逐字重复行各自得到独立记录。
type AvailabilityRecord struct {
	// ID 确定性派生标识，见 RecordID
	ID string `json:"id" gorm:"primaryKey;type:varchar(40)"`
	// MessageID 所属邮件 ID，邮件被覆盖时记录整体一同失效
	MessageID string `json:"messageId" gorm:"type:varchar(191);index;not null"`
	// CustomerName 客户展示名称
	CustomerName string `json:"customerName" gorm:"type:varchar(255)"`
	// CustomerEmail 客户身份键（归一化邮箱地址）
	CustomerEmail string `json:"customerEmail" gorm:"type:varchar(255);index;not null"`
	// Date 自由文本日历引用，上游格式繁多，不强转为严格日期
	Date string `json:"date" gorm:"type:varchar(64)"`
	// City 规范化后的城市名
	City string `json:"city" gorm:"type:varchar(128)"`
	// State 大写两字母州码
	State string `json:"state" gorm:"type:varchar(8)"`
	// AdditionalInfo 附加说明文本
	AdditionalInfo string `json:"additionalInfo" gorm:"type:varchar(500)"`
	// Seq 同一地点/日期内的序号，保证重复行各自成记录
	Seq int `json:"seq" gorm:"not null;default:0"`
	// ReceivedAt 所属邮件的接收时间（冗余存储，便于按身份时间比较）
	ReceivedAt time.Time `json:"receivedAt" gorm:"index"`
	// CreatedAt 入库时间
	CreatedAt time.Time `json:"createdAt"`
}

// RecordID 由所属邮件 ID、规范化城市、州码、日期文本与序号派生记录 ID。
//
// 同一邮件内完全相同的 (city, state, date, seq) 组合映射到同一 ID，
// 修复层引入的字面重复据此折叠为一条。
func RecordID(messageID, city, state, date string, seq int) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s|%s|%s|%s|%d", messageID, city, state, date, seq)))
	return hex.EncodeToString(sum[:])
}
