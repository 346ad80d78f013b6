package storage

import (
	"bytes"
	"errors"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
)

var (
	// ErrNotFound is returned by Get when the key is absent.
	ErrNotFound = errors.New("storage: key not found")
	// ErrConflict is returned by Batch.Write when a guarded key no longer
	// holds its expected value. Nothing from the batch is applied.
	ErrConflict = errors.New("storage: write conflict")
)

// Database is a generic interface for a key-value store.
// Records are addressed by opaque keys; callers hash their logical keys.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Delete(key []byte) error
	// NewBatch returns a write set that lands all-or-nothing on Write.
	NewBatch() Batch
	Close() error
}

// Batch buffers writes until Write commits them atomically.
type Batch interface {
	Put(key []byte, value []byte)
	// PutIf writes value only if key still holds expected at Write time; a nil
	// expected requires the key to be absent. A failed guard fails the whole
	// batch with ErrConflict.
	PutIf(key, value, expected []byte)
	Delete(key []byte)
	Len() int
	Write() error
	Reset()
}

type batchOp struct {
	key      []byte
	value    []byte
	delete   bool
	guarded  bool
	expected []byte
}

func guardedOp(key, value, expected []byte) batchOp {
	op := batchOp{key: append([]byte(nil), key...), value: append([]byte(nil), value...), guarded: true}
	if expected != nil {
		op.expected = append([]byte(nil), expected...)
	}
	return op
}

// checkGuard compares a guarded op against the current value of its key.
func checkGuard(op batchOp, current []byte, present bool) error {
	if !op.guarded {
		return nil
	}
	if op.expected == nil {
		if present {
			return ErrConflict
		}
		return nil
	}
	if !present || !bytes.Equal(current, op.expected) {
		return ErrConflict
	}
	return nil
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemDB() *MemDB {
	return &MemDB{
		data: make(map[string][]byte),
	}
}

func (db *MemDB) Put(key []byte, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	value, ok := db.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (db *MemDB) Has(key []byte) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.data[string(key)]
	return ok, nil
}

func (db *MemDB) Delete(key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.data, string(key))
	return nil
}

func (db *MemDB) NewBatch() Batch {
	return &memBatch{db: db}
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() error {
	return nil
}

type memBatch struct {
	db  *MemDB
	ops []batchOp
}

func (b *memBatch) Put(key, value []byte) {
	b.ops = append(b.ops, batchOp{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
}

func (b *memBatch) Delete(key []byte) {
	b.ops = append(b.ops, batchOp{key: append([]byte(nil), key...), delete: true})
}

func (b *memBatch) PutIf(key, value, expected []byte) {
	b.ops = append(b.ops, guardedOp(key, value, expected))
}

func (b *memBatch) Len() int { return len(b.ops) }

func (b *memBatch) Write() error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	for _, op := range b.ops {
		current, present := b.db.data[string(op.key)]
		if err := checkGuard(op, current, present); err != nil {
			return err
		}
	}
	for _, op := range b.ops {
		if op.delete {
			delete(b.db.data, string(op.key))
			continue
		}
		b.db.data[string(op.key)] = op.value
	}
	return nil
}

func (b *memBatch) Reset() { b.ops = b.ops[:0] }

// --- Persistent DB ---

// LevelDB is a persistent key-value store using LevelDB. The files are locked
// by one process, so guarded batches only need to exclude each other here.
type LevelDB struct {
	db *leveldb.DB
	mu sync.Mutex
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// Put inserts or updates a key-value pair.
func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value, nil)
}

// Get retrieves a value for a given key.
func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := ldb.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (ldb *LevelDB) Has(key []byte) (bool, error) {
	return ldb.db.Has(key, nil)
}

func (ldb *LevelDB) Delete(key []byte) error {
	return ldb.db.Delete(key, nil)
}

func (ldb *LevelDB) NewBatch() Batch {
	return &levelBatch{ldb: ldb, batch: new(leveldb.Batch)}
}

// Close closes the database connection.
func (ldb *LevelDB) Close() error {
	return ldb.db.Close()
}

type levelBatch struct {
	ldb    *LevelDB
	batch  *leveldb.Batch
	guards []batchOp
}

func (b *levelBatch) Put(key, value []byte) { b.batch.Put(key, value) }
func (b *levelBatch) Delete(key []byte)     { b.batch.Delete(key) }
func (b *levelBatch) Len() int              { return b.batch.Len() }

func (b *levelBatch) PutIf(key, value, expected []byte) {
	b.guards = append(b.guards, guardedOp(key, value, expected))
	b.batch.Put(key, value)
}

func (b *levelBatch) Write() error {
	b.ldb.mu.Lock()
	defer b.ldb.mu.Unlock()
	for _, op := range b.guards {
		current, err := b.ldb.db.Get(op.key, nil)
		present := err == nil
		if err != nil && !errors.Is(err, leveldb.ErrNotFound) {
			return err
		}
		if err := checkGuard(op, current, present); err != nil {
			return err
		}
	}
	return b.ldb.db.Write(b.batch, nil)
}

func (b *levelBatch) Reset() {
	b.batch.Reset()
	b.guards = b.guards[:0]
}
