// Package store 提供文档记录与原始文件的持久化。
package store

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kart-io/docask/internal/docask/model"
	storageopts "github.com/kart-io/docask/pkg/options/storage"
)

// OpenDB 按配置打开数据库并迁移表结构。
func OpenDB(opts *storageopts.Options) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch opts.Driver {
	case storageopts.DriverSQLite:
		dialector = sqlite.Open(opts.DSN)
	case storageopts.DriverMySQL:
		dialector = mysql.Open(opts.DSN)
	case storageopts.DriverPostgres:
		dialector = postgres.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", opts.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newSQLLogger(gormlogger.LogLevel(opts.LogLevel), opts.SlowThreshold),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", opts.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if opts.Driver == storageopts.DriverSQLite {
		// sqlite 只允许单写者，多个连接会在 :memory: 下各自得到一个空库
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := db.AutoMigrate(&model.Document{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate documents table: %w", err)
	}
	return db, nil
}

// CloseDB 关闭底层连接池。
func CloseDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
