package state

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"tokenvesting/storage"
)

var (
	// ErrAlreadyExists is returned by Create when the address is taken.
	ErrAlreadyExists = errors.New("state: record already exists")
	// ErrNotFound is returned when no record lives at the address.
	ErrNotFound = errors.New("state: record not found")
	// ErrConflict is returned when a record written by a unit of work changed
	// in storage after the unit of work read it. Nothing is committed.
	ErrConflict = errors.New("state: concurrent record modification")
	// ErrReadOnly is returned for writes inside a View.
	ErrReadOnly = errors.New("state: read-only transaction")
)

// Kind namespaces record addresses so different record types never share a
// storage key.
type Kind string

func recordKey(kind Kind, id []byte) []byte {
	buf := make([]byte, 0, len(kind)+1+len(id))
	buf = append(buf, kind...)
	buf = append(buf, ':')
	buf = append(buf, id...)
	return ethcrypto.Keccak256(buf)
}

func indexKey(kind Kind, owner []byte) []byte {
	return recordKey(kind+"/index", owner)
}

// Manager is the record store. Every invocation runs as one unit of work:
// mutations are staged in a Txn and land in a single storage batch, so either
// all of them become visible or none do. Units of work are serialised within
// the process; across processes sharing a backend every staged write is
// guarded by the value the unit of work read, and a lost race fails with
// ErrConflict.
type Manager struct {
	db storage.Database
	mu sync.RWMutex
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Atomic runs fn against a writable transaction and commits the staged writes
// when fn returns nil. Any error discards every staged write.
func (m *Manager) Atomic(fn func(tx *Txn) error) error {
	if m == nil || m.db == nil {
		return errors.New("state: manager not configured")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := newTxn(m.db, false)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

// View runs fn against a read-only transaction.
func (m *Manager) View(fn func(tx *Txn) error) error {
	if m == nil || m.db == nil {
		return errors.New("state: manager not configured")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(newTxn(m.db, true))
}

// Txn is a staged view over the database. It is not safe for concurrent use
// and must not escape the Atomic or View callback.
type Txn struct {
	db       storage.Database
	readOnly bool
	writes   map[string][]byte
	order    []string
	// reads pins the stored value of every key at its first load; nil
	// means the key was absent.
	reads map[string][]byte
}

func newTxn(db storage.Database, readOnly bool) *Txn {
	return &Txn{
		db:       db,
		readOnly: readOnly,
		writes:   make(map[string][]byte),
		reads:    make(map[string][]byte),
	}
}

func (t *Txn) load(key []byte) ([]byte, bool, error) {
	k := string(key)
	if staged, ok := t.writes[k]; ok {
		return staged, true, nil
	}
	if pinned, ok := t.reads[k]; ok {
		return pinned, pinned != nil, nil
	}
	data, err := t.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		t.reads[k] = nil
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	t.reads[k] = data
	return data, true, nil
}

func (t *Txn) stage(key []byte, value []byte) error {
	if t.readOnly {
		return ErrReadOnly
	}
	k := string(key)
	if _, ok := t.writes[k]; !ok {
		t.order = append(t.order, k)
	}
	t.writes[k] = value
	return nil
}

func (t *Txn) commit() error {
	if len(t.order) == 0 {
		return nil
	}
	batch := t.db.NewBatch()
	for _, k := range t.order {
		expected, loaded := t.reads[k]
		if !loaded {
			batch.Put([]byte(k), t.writes[k])
			continue
		}
		batch.PutIf([]byte(k), t.writes[k], expected)
	}
	if err := batch.Write(); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return ErrConflict
		}
		return fmt.Errorf("state: commit: %w", err)
	}
	return nil
}

// Exists reports whether a record of kind lives at id.
func (t *Txn) Exists(kind Kind, id []byte) (bool, error) {
	_, ok, err := t.load(recordKey(kind, id))
	return ok, err
}

// Create stores value at id using RLP encoding. It fails with
// ErrAlreadyExists when the address is occupied.
func (t *Txn) Create(kind Kind, id []byte, value interface{}) error {
	if len(id) == 0 {
		return fmt.Errorf("state: %s id must not be empty", kind)
	}
	key := recordKey(kind, id)
	_, ok, err := t.load(key)
	if err != nil {
		return err
	}
	if ok {
		return ErrAlreadyExists
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return t.stage(key, encoded)
}

// Read decodes the record at id into out.
func (t *Txn) Read(kind Kind, id []byte, out interface{}) error {
	data, ok, err := t.load(recordKey(kind, id))
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return rlp.DecodeBytes(data, out)
}

// Update reads the record at id into out, applies mutate and writes the result
// back. The commit only lands while storage still holds the bytes that were
// read; a record restaged by mutate itself fails with ErrConflict.
func (t *Txn) Update(kind Kind, id []byte, out interface{}, mutate func() error) error {
	key := recordKey(kind, id)
	before, ok, err := t.load(key)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if err := rlp.DecodeBytes(before, out); err != nil {
		return err
	}
	if err := mutate(); err != nil {
		return err
	}
	current, _, err := t.load(key)
	if err != nil {
		return err
	}
	if !bytes.Equal(before, current) {
		return ErrConflict
	}
	encoded, err := rlp.EncodeToBytes(out)
	if err != nil {
		return err
	}
	return t.stage(key, encoded)
}

// AppendIndex adds member to the list kept under (kind, owner). Duplicates are
// ignored so the index stays deterministic.
func (t *Txn) AppendIndex(kind Kind, owner []byte, member [20]byte) error {
	key := indexKey(kind, owner)
	list, err := t.loadIndex(key)
	if err != nil {
		return err
	}
	for _, existing := range list {
		if existing == member {
			return nil
		}
	}
	list = append(list, member)
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	return t.stage(key, encoded)
}

// Index returns the members recorded under (kind, owner) in insertion order.
func (t *Txn) Index(kind Kind, owner []byte) ([][20]byte, error) {
	return t.loadIndex(indexKey(kind, owner))
}

func (t *Txn) loadIndex(key []byte) ([][20]byte, error) {
	data, ok, err := t.load(key)
	if err != nil {
		return nil, err
	}
	list := [][20]byte{}
	if !ok || len(data) == 0 {
		return list, nil
	}
	if err := rlp.DecodeBytes(data, &list); err != nil {
		return nil, err
	}
	return list, nil
}
