package xbatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/botkit/pkg/storage/xkv"
)

// uploadBatch 模拟"上传 N 个文件、确认、批量开票"工作流的负载。
type uploadBatch struct {
	FileIDs   []string `json:"fileIds"`
	Confirmed bool     `json:"confirmed"`
}

func newTestStore(t *testing.T, opts ...Option) (*Store[uploadBatch], *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	kv, err := xkv.NewRedis(client, xkv.WithRetryAttempts(1))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	store, err := New[uploadBatch](kv, opts...)
	require.NoError(t, err)
	return store, mr
}

func TestNew_WithNilStore_ReturnsError(t *testing.T) {
	_, err := New[uploadBatch](nil)
	assert.ErrorIs(t, err, ErrNilStore)
}

func TestNewBatchID_IsCollisionResistant(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewBatchID()
		require.NotEmpty(t, id)
		require.False(t, seen[id], "duplicate batch id %s", id)
		seen[id] = true
	}
}

func TestStore_SaveGet_RoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	batchID := NewBatchID()
	in := uploadBatch{FileIDs: []string{"f1", "f2"}}
	require.NoError(t, store.Save(ctx, "u1", batchID, in))

	out, err := store.Get(ctx, "u1", batchID)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestStore_Get_UnknownBatch_ReturnsNotFound(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "u1", NewBatchID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Get_AfterTTL_ReturnsNotFound(t *testing.T) {
	store, mr := newTestStore(t, WithTTL(10*time.Second))
	ctx := context.Background()

	batchID := NewBatchID()
	require.NoError(t, store.Save(ctx, "u1", batchID, uploadBatch{}))

	mr.FastForward(11 * time.Second)

	_, err := store.Get(ctx, "u1", batchID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Update_AppliesMutation_AndRefreshesTTL(t *testing.T) {
	store, mr := newTestStore(t, WithTTL(10*time.Second))
	ctx := context.Background()

	batchID := NewBatchID()
	require.NoError(t, store.Save(ctx, "u1", batchID, uploadBatch{FileIDs: []string{"f1"}}))

	mr.FastForward(8 * time.Second)

	require.NoError(t, store.Update(ctx, "u1", batchID, func(p *uploadBatch) error {
		p.FileIDs = append(p.FileIDs, "f2")
		p.Confirmed = true
		return nil
	}))

	// Update 刷新了 TTL
	mr.FastForward(8 * time.Second)

	out, err := store.Get(ctx, "u1", batchID)
	require.NoError(t, err)
	assert.Equal(t, []string{"f1", "f2"}, out.FileIDs)
	assert.True(t, out.Confirmed)
}

func TestStore_Update_UnknownBatch_ReturnsNotFound(t *testing.T) {
	store, _ := newTestStore(t)

	err := store.Update(context.Background(), "u1", NewBatchID(), func(p *uploadBatch) error {
		return nil
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Update_FnError_Propagates_WithoutWrite(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	batchID := NewBatchID()
	require.NoError(t, store.Save(ctx, "u1", batchID, uploadBatch{FileIDs: []string{"f1"}}))

	wantErr := errors.New("validation failed")
	err := store.Update(ctx, "u1", batchID, func(p *uploadBatch) error {
		p.FileIDs = nil
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)

	// 失败的 Update 不写回
	out, err := store.Get(ctx, "u1", batchID)
	require.NoError(t, err)
	assert.Equal(t, []string{"f1"}, out.FileIDs)
}

func TestStore_Delete_RemovesBatch(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	batchID := NewBatchID()
	require.NoError(t, store.Save(ctx, "u1", batchID, uploadBatch{}))
	require.NoError(t, store.Delete(ctx, "u1", batchID))

	_, err := store.Get(ctx, "u1", batchID)
	assert.ErrorIs(t, err, ErrNotFound)

	// 删除不存在的批次不报错
	assert.NoError(t, store.Delete(ctx, "u1", batchID))
}

func TestStore_BatchesOfDifferentUsers_AreIsolated(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	batchID := NewBatchID()
	require.NoError(t, store.Save(ctx, "u1", batchID, uploadBatch{FileIDs: []string{"f1"}}))

	// 相同 batchID、不同用户不可见
	_, err := store.Get(ctx, "u2", batchID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_WhenStoreDown_FailsInsteadOfFallback(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	batchID := NewBatchID()
	require.NoError(t, store.Save(ctx, "u1", batchID, uploadBatch{}))

	mr.SetError("connection refused")

	// 批次状态无安全本地降级：存储故障时调用失败
	err := store.Save(ctx, "u1", batchID, uploadBatch{})
	assert.ErrorIs(t, err, xkv.ErrUnavailable)

	_, err = store.Get(ctx, "u1", batchID)
	assert.ErrorIs(t, err, xkv.ErrUnavailable)
}

func TestStore_EmptyIDs_FailFast(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, store.Save(ctx, "", "b", uploadBatch{}), ErrEmptyUserID)
	assert.ErrorIs(t, store.Save(ctx, "u", "", uploadBatch{}), ErrEmptyBatchID)

	_, err := store.Get(ctx, "", "b")
	assert.ErrorIs(t, err, ErrEmptyUserID)
}
