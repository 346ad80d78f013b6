package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// kvEntry is the single table backing SQLDB.
type kvEntry struct {
	StoreKey   []byte `gorm:"primaryKey"`
	StoreValue []byte `gorm:"not null"`
}

func (kvEntry) TableName() string { return "kv_entries" }

// SQLDB stores key-value pairs in a relational database through GORM.
// Batches are applied inside one SQL transaction. Guarded writes are
// conditional statements, so processes sharing the database cannot overwrite
// each other's committed values.
type SQLDB struct {
	db *gorm.DB
}

// OpenSQLite opens (or creates) a sqlite database at dsn.
func OpenSQLite(dsn string) (*SQLDB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("storage: sqlite dsn required")
	}
	return openSQL(sqlite.Open(dsn))
}

// OpenPostgres connects to a PostgreSQL database using dsn.
func OpenPostgres(dsn string) (*SQLDB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("storage: postgres dsn required")
	}
	return openSQL(postgres.Open(dsn))
}

func openSQL(dialector gorm.Dialector) (*SQLDB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&kvEntry{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &SQLDB{db: db}, nil
}

func upsert(tx *gorm.DB, key, value []byte) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "store_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"store_value"}),
	}).Create(&kvEntry{StoreKey: key, StoreValue: value}).Error
}

func (s *SQLDB) Put(key []byte, value []byte) error {
	return upsert(s.db, key, value)
}

func (s *SQLDB) Get(key []byte) ([]byte, error) {
	var entry kvEntry
	err := s.db.First(&entry, "store_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry.StoreValue, nil
}

func (s *SQLDB) Has(key []byte) (bool, error) {
	var count int64
	if err := s.db.Model(&kvEntry{}).Where("store_key = ?", key).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *SQLDB) Delete(key []byte) error {
	return s.db.Delete(&kvEntry{}, "store_key = ?", key).Error
}

func (s *SQLDB) NewBatch() Batch {
	return &sqlBatch{db: s.db}
}

func (s *SQLDB) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type sqlBatch struct {
	db  *gorm.DB
	ops []batchOp
}

func (b *sqlBatch) Put(key, value []byte) {
	b.ops = append(b.ops, batchOp{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
}

func (b *sqlBatch) Delete(key []byte) {
	b.ops = append(b.ops, batchOp{key: append([]byte(nil), key...), delete: true})
}

func (b *sqlBatch) PutIf(key, value, expected []byte) {
	b.ops = append(b.ops, guardedOp(key, value, expected))
}

func (b *sqlBatch) Len() int { return len(b.ops) }

// conditionalPut inserts when op expects an absent key and otherwise updates
// only the row still holding the expected value.
func conditionalPut(tx *gorm.DB, op batchOp) error {
	var res *gorm.DB
	if op.expected == nil {
		res = tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&kvEntry{StoreKey: op.key, StoreValue: op.value})
	} else {
		res = tx.Model(&kvEntry{}).
			Where("store_key = ? AND store_value = ?", op.key, op.expected).
			Update("store_value", op.value)
	}
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return ErrConflict
	}
	return nil
}

func (b *sqlBatch) Write() error {
	if len(b.ops) == 0 {
		return nil
	}
	return b.db.Transaction(func(tx *gorm.DB) error {
		for _, op := range b.ops {
			if op.delete {
				if err := tx.Delete(&kvEntry{}, "store_key = ?", op.key).Error; err != nil {
					return err
				}
				continue
			}
			if op.guarded {
				if err := conditionalPut(tx, op); err != nil {
					return err
				}
				continue
			}
			if err := upsert(tx, op.key, op.value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *sqlBatch) Reset() { b.ops = b.ops[:0] }
