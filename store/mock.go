package store

import (
	"sync/atomic"

	"github.com/pkg/errors"
	tmdb "github.com/tendermint/tm-db"
)

// ErrInjectedWrite FaultyDB注入的写失败
var ErrInjectedWrite = errors.New("injected write failure")

// NewFaultyDB 包装一个db，接下来的failures次batch写入会失败
// 用来模拟存储的临时错误
func NewFaultyDB(db tmdb.DB, failures int32) *FaultyDB {
	return &FaultyDB{DB: db, failures: failures}
}

type FaultyDB struct {
	tmdb.DB
	failures int32
}

func (f *FaultyDB) NewBatch() tmdb.Batch {
	return &faultyBatch{Batch: f.DB.NewBatch(), db: f}
}

// SetFailures 重新设置剩余的失败次数
func (f *FaultyDB) SetFailures(n int32) {
	atomic.StoreInt32(&f.failures, n)
}

func (f *FaultyDB) consume() bool {
	for {
		n := atomic.LoadInt32(&f.failures)
		if n <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt32(&f.failures, n, n-1) {
			return true
		}
	}
}

type faultyBatch struct {
	tmdb.Batch
	db *FaultyDB
}

func (b *faultyBatch) Write() error {
	if b.db.consume() {
		return ErrInjectedWrite
	}
	return b.Batch.Write()
}

func (b *faultyBatch) WriteSync() error {
	if b.db.consume() {
		return ErrInjectedWrite
	}
	return b.Batch.WriteSync()
}
