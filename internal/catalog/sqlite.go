package catalog

import (
	"context"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/fieldalias/internal/errors"
	"github.com/tphakala/fieldalias/internal/logger"
)

const slowQueryThreshold = 200 * time.Millisecond

// speciesRow is the species table. Aliases are ';' separated.
type speciesRow struct {
	ID         string `gorm:"primaryKey;size:64"`
	Canonical  string `gorm:"not null"`
	ShortLabel string
	Aliases    string
}

// TableName pins the table name.
func (speciesRow) TableName() string {
	return "species"
}

// SQLiteCatalog reads species from a SQLite database.
type SQLiteCatalog struct {
	db   *gorm.DB
	path string
}

// NewSQLiteCatalog opens (and migrates) the catalog database at path.
func NewSQLiteCatalog(path string) (*SQLiteCatalog, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(GetLogger(), slowQueryThreshold),
	})
	if err != nil {
		return nil, errors.New(err).
			Component("catalog").
			Category(errors.CategoryDatabase).
			FileContext(path, 0).
			Context("operation", "open").
			Build()
	}
	if err := db.AutoMigrate(&speciesRow{}); err != nil {
		return nil, errors.New(err).
			Component("catalog").
			Category(errors.CategoryDatabase).
			Context("operation", "migrate").
			Build()
	}
	return &SQLiteCatalog{db: db, path: path}, nil
}

// Name identifies the catalog in logs.
func (c *SQLiteCatalog) Name() string {
	return "sqlite"
}

// Species returns every row ordered by id.
func (c *SQLiteCatalog) Species(ctx context.Context) ([]Species, error) {
	var rows []speciesRow
	if err := c.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, errors.New(err).
			Component("catalog").
			Category(errors.CategoryDatabase).
			Context("operation", "list_species").
			Build()
	}

	out := make([]Species, 0, len(rows))
	for _, r := range rows {
		s := Species{ID: r.ID, Canonical: r.Canonical, TileName: r.ShortLabel}
		for a := range strings.SplitSeq(r.Aliases, ";") {
			if a = strings.TrimSpace(a); a != "" {
				s.Aliases = append(s.Aliases, a)
			}
		}
		out = append(out, s)
	}
	return out, nil
}

// Put inserts or replaces species rows.
func (c *SQLiteCatalog) Put(ctx context.Context, species []Species) error {
	if len(species) == 0 {
		return nil
	}
	rows := make([]speciesRow, 0, len(species))
	for _, s := range species {
		rows = append(rows, speciesRow{
			ID:         s.ID,
			Canonical:  s.Canonical,
			ShortLabel: s.TileName,
			Aliases:    strings.Join(s.Aliases, ";"),
		})
	}
	err := c.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rows).Error
	if err != nil {
		return errors.New(err).
			Component("catalog").
			Category(errors.CategoryDatabase).
			Context("operation", "put_species").
			Context("count", len(rows)).
			Build()
	}
	return nil
}

// Close releases the database handle.
func (c *SQLiteCatalog) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
