package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"juninpagos/backend/internal/config"
	"juninpagos/backend/internal/domain"
	"juninpagos/backend/internal/storage"
)

// Store 基于 GORM 的 SQL 存储实现，支持 PostgreSQL 和 MySQL
type Store struct {
	db   *gorm.DB
	pool *pgxpool.Pool // 仅 PostgreSQL
}

var _ storage.Store = (*Store)(nil)

// Open 根据配置中的驱动创建存储实例并执行自动迁移。
// PostgreSQL 使用 pgx 连接池，MySQL 使用 database/sql 连接池。
func Open(cfg config.DatabaseConfig) (*Store, error) {
	switch cfg.Driver {
	case "postgres":
		pool, err := newPgxPool(cfg)
		if err != nil {
			return nil, err
		}
		store, err := NewStoreWithDialector(postgres.New(postgres.Config{Conn: sqlDBFromPool(pool)}))
		if err != nil {
			pool.Close()
			return nil, err
		}
		store.pool = pool
		return store, nil

	case "mysql":
		store, err := NewStoreWithDialector(mysql.Open(cfg.DSN))
		if err != nil {
			return nil, err
		}
		sqlDB, err := store.db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
		}
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres)", cfg.Driver)
	}
}

// NewStoreWithDialector 使用指定的 GORM dialector 创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector) (*Store, error) {
	config := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent), // 静默模式
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	store := &Store{db: db}
	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Migrate 自动迁移数据库表结构
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Lead{},
		&domain.EmailThread{},
		&domain.Email{},
		&domain.EmailTemplate{},
		&domain.EmailAccount{},
		&domain.EmailAccountUser{},
		&domain.WebhookLog{},
		&domain.AdminUser{},
	)
}

// Rollback 删除 Migrate 创建的所有表，按外键依赖逆序
func Rollback(db *gorm.DB) error {
	return db.Migrator().DropTable(
		&domain.AdminUser{},
		&domain.WebhookLog{},
		&domain.EmailAccountUser{},
		&domain.EmailAccount{},
		&domain.EmailTemplate{},
		&domain.Email{},
		&domain.EmailThread{},
		&domain.Lead{},
	)
}

// Ping 测试数据库连接
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	err = sqlDB.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}

// DB 返回底层 GORM 连接
func (s *Store) DB() *gorm.DB {
	return s.db
}

// translate 将 GORM 错误转换为存储层哨兵错误
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return storage.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return storage.ErrDuplicate
	}
	return err
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// likePattern builds a case-insensitive substring pattern for "LOWER(col) LIKE ? ESCAPE '!'".
func likePattern(s string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(s)) + "%"
}

// leadSummaries 批量加载线索摘要，用于填充邮件和会话列表
func (s *Store) leadSummaries(ctx context.Context, ids []int64) (map[int64]*domain.LeadSummary, error) {
	out := make(map[int64]*domain.LeadSummary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var leads []domain.Lead
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&leads).Error; err != nil {
		return nil, err
	}
	for i := range leads {
		out[leads[i].ID] = leads[i].Summary()
	}
	return out, nil
}

func (s *Store) attachEmailLeads(ctx context.Context, emails []domain.Email) error {
	ids := make([]int64, 0, len(emails))
	for _, e := range emails {
		if e.LeadID != nil {
			ids = append(ids, *e.LeadID)
		}
	}
	summaries, err := s.leadSummaries(ctx, ids)
	if err != nil {
		return err
	}
	for i := range emails {
		if emails[i].LeadID != nil {
			emails[i].Lead = summaries[*emails[i].LeadID]
		}
	}
	return nil
}

func (s *Store) attachThreadLeads(ctx context.Context, threads []domain.EmailThread) error {
	ids := make([]int64, 0, len(threads))
	for _, t := range threads {
		if t.LeadID != nil {
			ids = append(ids, *t.LeadID)
		}
	}
	summaries, err := s.leadSummaries(ctx, ids)
	if err != nil {
		return err
	}
	for i := range threads {
		if threads[i].LeadID != nil {
			threads[i].Lead = summaries[*threads[i].LeadID]
		}
	}
	return nil
}
