package reconcile

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"truckboard/backend/internal/domain"
	"truckboard/backend/internal/storage/memory"
)

var baseTime = time.Date(2025, 9, 17, 12, 0, 0, 0, time.UTC)

func makeMessage(id, address string, receivedAt time.Time) *domain.Message {
	return &domain.Message{
		ID:          id,
		Subject:     "availability",
		FromName:    "Dispatch",
		FromAddress: address,
		ReceivedAt:  receivedAt,
	}
}

func makeRecords(msg *domain.Message, cities ...string) []domain.AvailabilityRecord {
	records := make([]domain.AvailabilityRecord, 0, len(cities))
	for i, city := range cities {
		records = append(records, domain.AvailabilityRecord{
			ID:            domain.RecordID(msg.ID, city, "TX", "9/17", 0),
			MessageID:     msg.ID,
			CustomerEmail: domain.NormalizeAddress(msg.FromAddress),
			Date:          "9/17",
			City:          city,
			State:         "TX",
			Seq:           i,
			ReceivedAt:    msg.ReceivedAt,
		})
	}
	return records
}

func TestApply(t *testing.T) {
	t.Run("首封邮件入账", func(t *testing.T) {
		store := memory.NewStore()
		r := New(store, zap.NewNop())

		msg := makeMessage("m1", "ops@acme.example", baseTime)
		result, err := r.Apply(msg.Identity(), msg, makeRecords(msg, "Dallas", "Austin"))

		require.NoError(t, err)
		assert.True(t, result.Applied)
		assert.Zero(t, result.Superseded)
		assert.Len(t, result.Records, 2)

		active, err := store.ListActiveRecords()
		require.NoError(t, err)
		assert.Len(t, active, 2)
	})

	t.Run("更新的邮件覆盖旧记录", func(t *testing.T) {
		store := memory.NewStore()
		r := New(store, zap.NewNop())

		old := makeMessage("m1", "ops@acme.example", baseTime)
		_, err := r.Apply(old.Identity(), old, makeRecords(old, "Dallas", "Austin", "Houston"))
		require.NoError(t, err)

		newer := makeMessage("m2", "ops@acme.example", baseTime.Add(time.Hour))
		result, err := r.Apply(newer.Identity(), newer, makeRecords(newer, "Waco"))
		require.NoError(t, err)

		assert.True(t, result.Applied)
		assert.Equal(t, 3, result.Superseded)

		active, err := store.ListActiveRecords()
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "Waco", active[0].City)
		assert.Equal(t, "m2", active[0].MessageID)
	})

	t.Run("时间戳相同的邮件整体丢弃", func(t *testing.T) {
		store := memory.NewStore()
		r := New(store, zap.NewNop())

		first := makeMessage("m1", "ops@acme.example", baseTime)
		_, err := r.Apply(first.Identity(), first, makeRecords(first, "Dallas"))
		require.NoError(t, err)

		same := makeMessage("m2", "ops@acme.example", baseTime)
		result, err := r.Apply(same.Identity(), same, makeRecords(same, "Austin"))
		require.NoError(t, err)

		assert.False(t, result.Applied)

		active, err := store.ListActiveRecords()
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "Dallas", active[0].City)
	})

	t.Run("更旧的邮件整体丢弃", func(t *testing.T) {
		store := memory.NewStore()
		r := New(store, zap.NewNop())

		newer := makeMessage("m1", "ops@acme.example", baseTime)
		_, err := r.Apply(newer.Identity(), newer, makeRecords(newer, "Dallas"))
		require.NoError(t, err)

		late := makeMessage("m0", "ops@acme.example", baseTime.Add(-time.Hour))
		result, err := r.Apply(late.Identity(), late, makeRecords(late, "Austin"))
		require.NoError(t, err)

		assert.False(t, result.Applied, "乱序送达的旧邮件不得入账")

		active, err := store.ListActiveRecords()
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "m1", active[0].MessageID)
	})

	t.Run("不同身份互不影响", func(t *testing.T) {
		store := memory.NewStore()
		r := New(store, zap.NewNop())

		a := makeMessage("m1", "ops@acme.example", baseTime)
		_, err := r.Apply(a.Identity(), a, makeRecords(a, "Dallas"))
		require.NoError(t, err)

		b := makeMessage("m2", "dispatch@other.example", baseTime.Add(time.Hour))
		result, err := r.Apply(b.Identity(), b, makeRecords(b, "Austin"))
		require.NoError(t, err)

		assert.True(t, result.Applied)
		assert.Zero(t, result.Superseded, "覆盖只作用于同一身份")

		active, err := store.ListActiveRecords()
		require.NoError(t, err)
		assert.Len(t, active, 2)
	})

	t.Run("地址大小写归一化后视为同一身份", func(t *testing.T) {
		store := memory.NewStore()
		r := New(store, zap.NewNop())

		first := makeMessage("m1", "OPS@Acme.example", baseTime)
		_, err := r.Apply(first.Identity(), first, makeRecords(first, "Dallas"))
		require.NoError(t, err)

		second := makeMessage("m2", "ops@acme.example", baseTime.Add(time.Hour))
		result, err := r.Apply(second.Identity(), second, makeRecords(second, "Austin"))
		require.NoError(t, err)

		assert.True(t, result.Applied)
		assert.Equal(t, 1, result.Superseded)
	})
}

func TestApplyConcurrentSameIdentity(t *testing.T) {
	store := memory.NewStore()
	r := New(store, zap.NewNop())

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := makeMessage(
				fmt.Sprintf("m%d", i),
				"ops@acme.example",
				baseTime.Add(time.Duration(i)*time.Minute),
			)
			_, err := r.Apply(msg.Identity(), msg, makeRecords(msg, "Dallas"))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// 无论交错顺序如何，最终只有时间最新的邮件存活
	latest, err := store.LatestMessageTime("ops@acme.example")
	require.NoError(t, err)
	assert.Equal(t, baseTime.Add((n-1)*time.Minute), latest)

	active, err := store.ListActiveRecords()
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, fmt.Sprintf("m%d", n-1), active[0].MessageID)
}

func TestStale(t *testing.T) {
	store := memory.NewStore()
	r := New(store, zap.NewNop())

	msg := makeMessage("m1", "ops@acme.example", baseTime)
	_, err := r.Apply(msg.Identity(), msg, nil)
	require.NoError(t, err)

	stale, err := r.Stale(msg.Identity(), baseTime)
	require.NoError(t, err)
	assert.True(t, stale)

	stale, err = r.Stale(msg.Identity(), baseTime.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, stale)
}

// faultStore 在允许的成功次数用尽后让替换操作失败。
type faultStore struct {
	*memory.Store
	allow int
	calls int
}

func (s *faultStore) ReplaceSenderData(address string, msg *domain.Message, records []domain.AvailabilityRecord) (int, error) {
	s.calls++
	if s.calls > s.allow {
		return 0, fmt.Errorf("storage unavailable")
	}
	return s.Store.ReplaceSenderData(address, msg, records)
}

func TestApplyStorageFailure(t *testing.T) {
	t.Run("替换失败时旧数据保持原样", func(t *testing.T) {
		store := &faultStore{Store: memory.NewStore(), allow: 1}
		r := New(store, zap.NewNop())

		first := makeMessage("m1", "ops@acme.example", baseTime)
		_, err := r.Apply(first.Identity(), first, makeRecords(first, "Dallas", "Austin"))
		require.NoError(t, err)

		newer := makeMessage("m2", "ops@acme.example", baseTime.Add(time.Hour))
		_, err = r.Apply(newer.Identity(), newer, makeRecords(newer, "Waco"))
		require.Error(t, err)

		active, err := store.ListActiveRecords()
		require.NoError(t, err)
		require.Len(t, active, 2, "失败的替换不得删除旧记录")
		for _, rec := range active {
			assert.Equal(t, "m1", rec.MessageID)
		}

		latest, err := store.LatestMessageTime("ops@acme.example")
		require.NoError(t, err)
		assert.True(t, latest.Equal(baseTime), "旧邮件时间戳仍是该身份的最新水位")
	})

	t.Run("失败后重试成功入账", func(t *testing.T) {
		store := &faultStore{Store: memory.NewStore(), allow: 1}
		r := New(store, zap.NewNop())

		first := makeMessage("m1", "ops@acme.example", baseTime)
		_, err := r.Apply(first.Identity(), first, makeRecords(first, "Dallas"))
		require.NoError(t, err)

		newer := makeMessage("m2", "ops@acme.example", baseTime.Add(time.Hour))
		_, err = r.Apply(newer.Identity(), newer, makeRecords(newer, "Waco"))
		require.Error(t, err)

		store.allow = 3
		result, err := r.Apply(newer.Identity(), newer, makeRecords(newer, "Waco"))
		require.NoError(t, err)
		assert.True(t, result.Applied)

		active, err := store.ListActiveRecords()
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "m2", active[0].MessageID)
	})
}
