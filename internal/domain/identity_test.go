package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAddress(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"OPS@Acme.example", "ops@acme.example"},
		{"  ops@acme.example  ", "ops@acme.example"},
		{"Dispatch Desk <OPS@Acme.example>", "ops@acme.example"},
		{"<ops@acme.example>", "ops@acme.example"},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeAddress(tc.in), tc.in)
	}
}

func TestCustomerIdentity(t *testing.T) {
	t.Run("身份以地址为键", func(t *testing.T) {
		a := NewCustomerIdentity("Alice", "ops@acme.example")
		b := NewCustomerIdentity("Bob", "OPS@Acme.example")
		c := NewCustomerIdentity("Alice", "other@acme.example")

		assert.True(t, a.Equal(b), "显示名不同、地址相同是同一身份")
		assert.False(t, a.Equal(c), "显示名相同、地址不同是不同身份")
		assert.Equal(t, "ops@acme.example", a.Key())
	})

	t.Run("从邮件派生身份", func(t *testing.T) {
		msg := &Message{
			FromName:    "Dispatch",
			FromAddress: "OPS@Acme.example",
			ReceivedAt:  time.Now(),
		}
		identity := msg.Identity()
		assert.Equal(t, "Dispatch", identity.Name)
		assert.Equal(t, "ops@acme.example", identity.Address)
	})
}

func TestRecordID(t *testing.T) {
	t.Run("确定性", func(t *testing.T) {
		a := RecordID("m1", "Dallas", "TX", "9/17", 0)
		b := RecordID("m1", "Dallas", "TX", "9/17", 0)
		assert.Equal(t, a, b)
		assert.Len(t, a, 40)
	})

	t.Run("任一成分不同则不同", func(t *testing.T) {
		base := RecordID("m1", "Dallas", "TX", "9/17", 0)
		assert.NotEqual(t, base, RecordID("m2", "Dallas", "TX", "9/17", 0))
		assert.NotEqual(t, base, RecordID("m1", "Austin", "TX", "9/17", 0))
		assert.NotEqual(t, base, RecordID("m1", "Dallas", "TX", "9/18", 0))
		assert.NotEqual(t, base, RecordID("m1", "Dallas", "TX", "9/17", 1))
	})
}
