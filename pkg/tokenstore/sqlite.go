package tokenstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/telekom/acctl/pkg/account"
	"github.com/telekom/acctl/pkg/autherr"
)

// accountRecord is one row per account. The auto-increment ID carries
// insertion order and survives upserts.
type accountRecord struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"uniqueIndex;not null"`
	Kind      string `gorm:"not null"`
	Data      []byte `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (accountRecord) TableName() string { return "accounts" }

// SQLite keeps accounts in a local database file.
type SQLite struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

// NewSQLite opens or creates the database at path and migrates the schema.
// path may be ":memory:" for tests.
func NewSQLite(path string, log *zap.SugaredLogger) (*SQLite, error) {
	if log == nil {
		log = zap.S()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), fileDirPermissions); err != nil {
			return nil, autherr.Wrap(autherr.KindConfig, err, "failed to create token store directory")
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, autherr.Wrap(autherr.KindConfig, err, "failed to open sqlite token store %s", path)
	}
	if path == ":memory:" {
		// Each pooled connection would otherwise get its own empty database.
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}
	if err := db.AutoMigrate(&accountRecord{}); err != nil {
		return nil, autherr.Wrap(autherr.KindConfig, err, "failed to migrate sqlite token store")
	}
	return &SQLite{db: db, log: log}, nil
}

func (s *SQLite) Get(ctx context.Context, name string) (*account.Account, error) {
	var rec accountRecord
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, autherr.Wrap(autherr.KindConfig, err, "failed to read account %s", name)
	}
	acct, err := account.Unmarshal(rec.Data)
	if err != nil {
		return nil, decodeErr(name, err)
	}
	return acct, nil
}

func (s *SQLite) Set(ctx context.Context, acct *account.Account) error {
	if err := validateForSet(acct); err != nil {
		return err
	}
	data, err := account.Marshal(acct)
	if err != nil {
		return decodeErr(acct.Name, err)
	}
	rec := accountRecord{Name: acct.Name, Kind: string(acct.Kind), Data: data}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"kind", "data", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return autherr.Wrap(autherr.KindConfig, err, "failed to write account %s", acct.Name)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, name string) (bool, error) {
	res := s.db.WithContext(ctx).Where("name = ?", name).Delete(&accountRecord{})
	if res.Error != nil {
		return false, autherr.Wrap(autherr.KindConfig, res.Error, "failed to delete account %s", name)
	}
	return res.RowsAffected > 0, nil
}

func (s *SQLite) List(ctx context.Context) ([]*account.Account, error) {
	var recs []accountRecord
	if err := s.db.WithContext(ctx).Order("id asc").Find(&recs).Error; err != nil {
		return nil, autherr.Wrap(autherr.KindConfig, err, "failed to list accounts")
	}
	out := make([]*account.Account, 0, len(recs))
	for _, rec := range recs {
		acct, err := account.Unmarshal(rec.Data)
		if err != nil {
			return nil, decodeErr(rec.Name, err)
		}
		out = append(out, acct)
	}
	return out, nil
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
