package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"truckboard/backend/internal/domain"
	"truckboard/backend/internal/storage"
)

var baseTime = time.Date(2025, 9, 17, 12, 0, 0, 0, time.UTC)

func makeMessage(id, address string, receivedAt time.Time) *domain.Message {
	return &domain.Message{
		ID:          id,
		FromAddress: address,
		ReceivedAt:  receivedAt,
	}
}

func TestMessages(t *testing.T) {
	t.Run("保存并读取", func(t *testing.T) {
		store := NewStore()
		msg := makeMessage("m1", "ops@acme.example", baseTime)

		require.NoError(t, store.SaveMessage(msg))

		got, err := store.GetMessage("m1")
		require.NoError(t, err)
		assert.Equal(t, "ops@acme.example", got.FromAddress)
	})

	t.Run("重复保存返回已存在", func(t *testing.T) {
		store := NewStore()
		msg := makeMessage("m1", "ops@acme.example", baseTime)

		require.NoError(t, store.SaveMessage(msg))
		assert.ErrorIs(t, store.SaveMessage(msg), storage.ErrMessageExists)
	})

	t.Run("读取不存在的邮件", func(t *testing.T) {
		store := NewStore()
		_, err := store.GetMessage("missing")
		assert.ErrorIs(t, err, storage.ErrMessageNotFound)
	})

	t.Run("列表按接收时间升序", func(t *testing.T) {
		store := NewStore()
		require.NoError(t, store.SaveMessage(makeMessage("m2", "a@x.example", baseTime.Add(time.Hour))))
		require.NoError(t, store.SaveMessage(makeMessage("m1", "a@x.example", baseTime)))

		list, err := store.ListMessages()
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "m1", list[0].ID)
		assert.Equal(t, "m2", list[1].ID)
	})
}

func TestProcessedSet(t *testing.T) {
	store := NewStore()

	seen, err := store.IsProcessed("m1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, store.MarkProcessed("m1", baseTime))

	seen, err = store.IsProcessed("m1")
	require.NoError(t, err)
	assert.True(t, seen)

	// 重复标记幂等
	require.NoError(t, store.MarkProcessed("m1", baseTime.Add(time.Hour)))

	t.Run("覆盖删除不回收已处理集合", func(t *testing.T) {
		msg := makeMessage("m1", "ops@acme.example", baseTime)
		require.NoError(t, store.SaveMessage(msg))

		_, err := store.DeleteSenderDataBefore("ops@acme.example", baseTime.Add(time.Hour))
		require.NoError(t, err)

		_, err = store.GetMessage("m1")
		assert.ErrorIs(t, err, storage.ErrMessageNotFound)

		seen, err := store.IsProcessed("m1")
		require.NoError(t, err)
		assert.True(t, seen, "已处理 ID 集合只增不减")
	})
}

func TestRecords(t *testing.T) {
	record := func(id, msgID, email, city string, seq int) domain.AvailabilityRecord {
		return domain.AvailabilityRecord{
			ID:            id,
			MessageID:     msgID,
			CustomerEmail: email,
			City:          city,
			State:         "TX",
			Date:          "9/17",
			Seq:           seq,
		}
	}

	t.Run("按发件人列出", func(t *testing.T) {
		store := NewStore()
		require.NoError(t, store.SaveRecords([]domain.AvailabilityRecord{
			record("r1", "m1", "a@x.example", "Dallas", 0),
			record("r2", "m1", "a@x.example", "Austin", 1),
			record("r3", "m2", "b@y.example", "Waco", 0),
		}))

		mine, err := store.ListRecordsBySender("a@x.example")
		require.NoError(t, err)
		assert.Len(t, mine, 2)

		all, err := store.ListActiveRecords()
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("删除旧邮件连带派生记录", func(t *testing.T) {
		store := NewStore()
		require.NoError(t, store.SaveMessage(makeMessage("m1", "a@x.example", baseTime)))
		require.NoError(t, store.SaveMessage(makeMessage("m2", "a@x.example", baseTime.Add(time.Hour))))
		require.NoError(t, store.SaveRecords([]domain.AvailabilityRecord{
			record("r1", "m1", "a@x.example", "Dallas", 0),
			record("r2", "m1", "a@x.example", "Austin", 1),
			record("r3", "m2", "a@x.example", "Waco", 0),
		}))

		removed, err := store.DeleteSenderDataBefore("a@x.example", baseTime.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 2, removed)

		active, err := store.ListActiveRecords()
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "r3", active[0].ID)

		_, err = store.GetMessage("m1")
		assert.ErrorIs(t, err, storage.ErrMessageNotFound)
		_, err = store.GetMessage("m2")
		assert.NoError(t, err)
	})

	t.Run("删除不跨身份", func(t *testing.T) {
		store := NewStore()
		require.NoError(t, store.SaveMessage(makeMessage("m1", "a@x.example", baseTime)))
		require.NoError(t, store.SaveMessage(makeMessage("m2", "b@y.example", baseTime)))
		require.NoError(t, store.SaveRecords([]domain.AvailabilityRecord{
			record("r1", "m1", "a@x.example", "Dallas", 0),
			record("r2", "m2", "b@y.example", "Waco", 0),
		}))

		removed, err := store.DeleteSenderDataBefore("a@x.example", baseTime.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		others, err := store.ListRecordsBySender("b@y.example")
		require.NoError(t, err)
		assert.Len(t, others, 1)
	})
}

func TestLatestMessageTime(t *testing.T) {
	store := NewStore()

	latest, err := store.LatestMessageTime("nobody@x.example")
	require.NoError(t, err)
	assert.True(t, latest.IsZero(), "未知身份返回零值而不是错误")

	require.NoError(t, store.SaveMessage(makeMessage("m1", "a@x.example", baseTime)))
	require.NoError(t, store.SaveMessage(makeMessage("m2", "A@X.example", baseTime.Add(time.Hour))))

	latest, err = store.LatestMessageTime("a@x.example")
	require.NoError(t, err)
	assert.Equal(t, baseTime.Add(time.Hour), latest)
}

func TestReplaceSenderData(t *testing.T) {
	record := func(id, msgID, email, city string, seq int) domain.AvailabilityRecord {
		return domain.AvailabilityRecord{
			ID:            id,
			MessageID:     msgID,
			CustomerEmail: email,
			City:          city,
			State:         "TX",
			Date:          "9/17",
			Seq:           seq,
		}
	}

	t.Run("一步完成删旧插新", func(t *testing.T) {
		store := NewStore()
		require.NoError(t, store.SaveMessage(makeMessage("m1", "a@x.example", baseTime)))
		require.NoError(t, store.SaveRecords([]domain.AvailabilityRecord{
			record("r1", "m1", "a@x.example", "Dallas", 0),
			record("r2", "m1", "a@x.example", "Austin", 1),
		}))

		newer := makeMessage("m2", "a@x.example", baseTime.Add(time.Hour))
		removed, err := store.ReplaceSenderData("a@x.example", newer, []domain.AvailabilityRecord{
			record("r3", "m2", "a@x.example", "Waco", 0),
		})
		require.NoError(t, err)
		assert.Equal(t, 2, removed)

		_, err = store.GetMessage("m1")
		assert.ErrorIs(t, err, storage.ErrMessageNotFound)

		active, err := store.ListActiveRecords()
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "m2", active[0].MessageID)
	})

	t.Run("重复邮件ID拒绝且不改动存量数据", func(t *testing.T) {
		store := NewStore()
		require.NoError(t, store.SaveMessage(makeMessage("m1", "a@x.example", baseTime)))
		require.NoError(t, store.SaveRecords([]domain.AvailabilityRecord{
			record("r1", "m1", "a@x.example", "Dallas", 0),
		}))

		dup := makeMessage("m1", "a@x.example", baseTime.Add(time.Hour))
		_, err := store.ReplaceSenderData("a@x.example", dup, nil)
		assert.ErrorIs(t, err, storage.ErrMessageExists)

		active, err := store.ListActiveRecords()
		require.NoError(t, err)
		assert.Len(t, active, 1, "校验失败时不得先删后拒")
	})
}
