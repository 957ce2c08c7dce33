package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angeloszaimis/rule-proxy/internal/ruletable"
)

var ErrNotFound = errors.New("record not found")

type ruleRecord struct {
	ID            string `gorm:"primaryKey"`
	Name          string
	Source        string `gorm:"not null"`
	Target        string `gorm:"not null"`
	TimeoutMillis int64
	Enabled       bool
	Seq           uint64 `gorm:"index"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (ruleRecord) TableName() string {
	return "proxy_rules"
}

func toRecord(rule ruletable.Rule) ruleRecord {
	return ruleRecord{
		ID:            rule.ID,
		Name:          rule.Name,
		Source:        rule.Source,
		Target:        rule.Target,
		TimeoutMillis: rule.Timeout.Milliseconds(),
		Enabled:       rule.Enabled,
		Seq:           rule.Seq,
		CreatedAt:     rule.CreatedAt,
		UpdatedAt:     rule.UpdatedAt,
	}
}

func (r ruleRecord) toRule() ruletable.Rule {
	return ruletable.Rule{
		ID:        r.ID,
		Name:      r.Name,
		Source:    r.Source,
		Target:    r.Target,
		Enabled:   r.Enabled,
		Timeout:   time.Duration(r.TimeoutMillis) * time.Millisecond,
		Seq:       r.Seq,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

type Store struct {
	db *gorm.DB
}

var _ ruletable.Persister = (*Store)(nil)

// Open opens or creates the SQLite database at path and migrates it.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	return New(db)
}

// New migrates db and wraps it.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&ruleRecord{}, &setting{}); err != nil {
		return nil, fmt.Errorf("failed to migrate tables: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// LoadAllRules returns every stored rule in creation order.
func (s *Store) LoadAllRules(ctx context.Context) ([]ruletable.Rule, error) {
	records, err := gorm.G[ruleRecord](s.db).Order("seq, created_at").Find(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	rules := make([]ruletable.Rule, 0, len(records))
	for _, rec := range records {
		rules = append(rules, rec.toRule())
	}
	return rules, nil
}

func (s *Store) GetRule(ctx context.Context, id string) (ruletable.Rule, error) {
	rec, err := gorm.G[ruleRecord](s.db).Where("id = ?", id).First(ctx)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ruletable.Rule{}, ErrNotFound
	} else if err != nil {
		return ruletable.Rule{}, err
	}
	return rec.toRule(), nil
}

// PersistUpsert writes the whole rule, replacing any stored copy.
func (s *Store) PersistUpsert(ctx context.Context, rule ruletable.Rule) error {
	rec := toRecord(rule)
	err := gorm.G[ruleRecord](
		s.db,
		clause.OnConflict{UpdateAll: true},
	).Create(ctx, &rec)
	if err != nil {
		return fmt.Errorf("upsert rule %s: %w", rule.ID, err)
	}
	return nil
}

// PersistDelete removes a rule. Deleting a missing rule is not an error.
func (s *Store) PersistDelete(ctx context.Context, id string) error {
	if _, err := gorm.G[ruleRecord](s.db).Where("id = ?", id).Delete(ctx); err != nil {
		return fmt.Errorf("delete rule %s: %w", id, err)
	}
	return nil
}

// PersistToggle updates the enabled flag of a stored rule.
func (s *Store) PersistToggle(ctx context.Context, id string, enabled bool) error {
	rows, err := gorm.G[ruleRecord](s.db).Where("id = ?", id).Update(ctx, "enabled", enabled)
	if err != nil {
		return fmt.Errorf("toggle rule %s: %w", id, err)
	}
	if rows == 0 {
		return fmt.Errorf("toggle rule %s: %w", id, ErrNotFound)
	}
	return nil
}
