package domain

import "strings"

// CustomerIdentity 表示一个客户身份。
//
// 身份严格以归一化后的邮箱地址为键：
// 显示名称不同但地址相同的两封邮件属于同一身份；
// 显示名称相同但地址不同的两封邮件属于不同身份。
type CustomerIdentity struct {
	// Name 展示用名称，不参与身份比较
	Name string `json:"name"`
	// Address 小写、去空白后的邮箱地址，身份键
	Address string `json:"address"`
}

// NewCustomerIdentity 构造客户身份，地址做小写与去空白归一化。
func NewCustomerIdentity(name, address string) CustomerIdentity {
	return CustomerIdentity{
		Name:    strings.TrimSpace(name),
		Address: NormalizeAddress(address),
	}
}

// Key 返回身份键（归一化邮箱地址）。
func (c CustomerIdentity) Key() string {
	return c.Address
}

// Equal 判断两个身份是否相同（仅比较地址）。
func (c CustomerIdentity) Equal(other CustomerIdentity) bool {
	return c.Address == other.Address
}

// NormalizeAddress 归一化邮箱地址：去空白、去尖括号、转小写。
//
// 支持 "Display Name <user@host>" 形式的输入，只保留地址部分。
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if start := strings.LastIndex(address, "<"); start >= 0 {
		if end := strings.Index(address[start:], ">"); end > 0 {
			address = address[start+1 : start+end]
		}
	}
	return strings.ToLower(strings.TrimSpace(address))
}
