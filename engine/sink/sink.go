// Package sink writes mapped lemmas and senses into the relational store.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"

	"github.com/WessleyAI/anglish-lexicon/engine/domain"
)

// Store is the relational sink.
type Store struct {
	db *gorm.DB
}

// Open connects with driver "postgres" or "sqlite". Slow and failed
// statements are logged to log, or slog.Default when nil.
func Open(driver, dsn string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	var dial gorm.Dialector
	switch strings.ToLower(driver) {
	case "postgres", "postgresql":
		dial = postgres.Open(dsn)
	case "sqlite", "sqlite3":
		dial = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("sink: unknown driver %q", driver)
	}
	gormLog := gormLogger.NewSlogLogger(log.With("component", "sink", "driver", driver), gormLogger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  gormLogger.Warn,
		IgnoreRecordNotFoundError: true,
	})
	db, err := gorm.Open(dial, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("sink: open %s: %w", driver, err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection.
func NewWithDB(db *gorm.DB) *Store { return &Store{db: db} }

// DB exposes the connection for ad-hoc queries.
func (s *Store) DB() *gorm.DB { return s.db }

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate creates every table in dependency order and seeds the origin codes.
func (s *Store) Migrate(ctx context.Context) error {
	order, err := SortTables(schema)
	if err != nil {
		return err
	}
	db := s.db.WithContext(ctx)
	for _, name := range order {
		if err := db.AutoMigrate(models[name]); err != nil {
			return fmt.Errorf("sink: migrate %s: %w", name, err)
		}
	}
	origins := make([]Origin, 0, len(domain.Languages()))
	for _, l := range domain.Languages() {
		origins = append(origins, Origin{Code: string(l), Name: l.Name()})
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&origins).Error; err != nil {
		return fmt.Errorf("sink: seed origins: %w", err)
	}
	return nil
}

// InsertLemma inserts an Anglish lemma and its origins in one transaction.
// Origins repeating a (code, kind) pair are stored once.
func (s *Store) InsertLemma(ctx context.Context, lemma string, pos domain.POS, origins []domain.WordOrigin) (uint, error) {
	row := Lemma{Lemma: lemma, POS: string(pos), Lang: LangAnglish}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if len(origins) == 0 {
			return nil
		}
		seen := make(map[string]bool, len(origins))
		links := make([]LemmaOrigin, 0, len(origins))
		for _, o := range origins {
			k := string(o.Lang) + ":" + string(o.Kind)
			if seen[k] {
				continue
			}
			seen[k] = true
			links = append(links, LemmaOrigin{LemmaID: row.ID, OriginCode: string(o.Lang), Kind: string(o.Kind), Form: o.Form})
		}
		return tx.Create(&links).Error
	})
	if err != nil {
		return 0, fmt.Errorf("sink: insert lemma %s: %w", domain.LexKey(lemma, pos), err)
	}
	return row.ID, nil
}

// InsertSense links lemmaID to synsetID at the given sense index.
func (s *Store) InsertSense(ctx context.Context, lemmaID uint, synsetID string, index int) (uint, error) {
	row := Sense{LemmaID: lemmaID, SynsetID: synsetID, SenseIndex: index}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("sink: insert sense %d->%s: %w", lemmaID, synsetID, err)
	}
	return row.ID, nil
}

// Senses returns the senses of lemmaID in index order.
func (s *Store) Senses(ctx context.Context, lemmaID uint) ([]Sense, error) {
	var out []Sense
	err := s.db.WithContext(ctx).Where("lemma_id = ?", lemmaID).Order("sense_index").Find(&out).Error
	return out, err
}

// Origins returns the origins recorded for lemmaID.
func (s *Store) Origins(ctx context.Context, lemmaID uint) ([]LemmaOrigin, error) {
	var out []LemmaOrigin
	err := s.db.WithContext(ctx).Where("lemma_id = ?", lemmaID).Order("origin_code, kind").Find(&out).Error
	return out, err
}
