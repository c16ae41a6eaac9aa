package domain

import "time"

// Message 表示一封已入库的车源邮件。
//
// Message 在轮询器首次发现时创建，此后不可变；
// 由该邮件解析出的所有车源记录都通过 MessageID 引用它。
type Message struct {
	// ID 由邮箱服务商分配的不透明标识符
	ID string `json:"id" gorm:"primaryKey;type:varchar(191)"`
	// Subject 邮件主题
	Subject string `json:"subject" gorm:"type:varchar(500)"`
	// FromName 发件人显示名称（仅作展示，不参与身份判定）
	FromName string `json:"fromName" gorm:"type:varchar(255)"`
	// FromAddress 发件人邮箱地址（小写归一化后作为客户身份键）
	FromAddress string `json:"fromAddress" gorm:"type:varchar(255);index;not null"`
	// Body 原始正文（可能含 HTML）
	Body string `json:"body,omitempty" gorm:"type:text"`
	// BodyText 去除标记后的纯文本正文
	BodyText string `json:"bodyText,omitempty" gorm:"type:text"`
	// ReceivedAt 邮箱服务商记录的接收时间，最新邮件覆盖规则以此为准
	ReceivedAt time.Time `json:"receivedAt" gorm:"index"`
	// CreatedAt 本系统入库时间
	CreatedAt time.Time `json:"createdAt"`
}

// Identity 返回该邮件对应的客户身份。
func (m *Message) Identity() CustomerIdentity {
	return NewCustomerIdentity(m.FromName, m.FromAddress)
}
