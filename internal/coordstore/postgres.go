package coordstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"tripsync/internal/model"
	"tripsync/internal/tripsync"
)

// coordinateRow is the GORM model for the shared coordinates table.
type coordinateRow struct {
	Code       string  `gorm:"column:code;primaryKey;size:3"`
	Latitude   float64 `gorm:"column:latitude"`
	Longitude  float64 `gorm:"column:longitude"`
	Provenance string  `gorm:"column:provenance"`
	UpdatedAt  time.Time
}

// TableName overrides the default table name
func (coordinateRow) TableName() string {
	return "shared_coordinates"
}

// GormStore keeps shared coordinates in a SQL table through GORM.
type GormStore struct {
	db *gorm.DB
}

// NewPostgresStore opens dsn with the GORM postgres driver and creates the
// table if needed.
func NewPostgresStore(dsn string) (*GormStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres coordinate store requires postgres_dsn to be set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return NewGormStore(db)
}

// NewGormStore uses an open GORM connection.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&coordinateRow{}); err != nil {
		return nil, fmt.Errorf("migrating shared_coordinates: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Lookup(ctx context.Context, code string) (*model.CoordinateRecord, error) {
	var row coordinateRow
	err := s.db.WithContext(ctx).Where("code = ?", code).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up %s: %w", code, err)
	}
	return &model.CoordinateRecord{
		Code:       row.Code,
		Latitude:   row.Latitude,
		Longitude:  row.Longitude,
		Provenance: row.Provenance,
	}, nil
}

func (s *GormStore) Publish(ctx context.Context, c model.CoordinateRecord) error {
	if err := c.Validate(); err != nil {
		return err
	}
	row := coordinateRow{
		Code:       c.Code,
		Latitude:   c.Latitude,
		Longitude:  c.Longitude,
		Provenance: c.Provenance,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"latitude", "longitude", "provenance", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("publishing %s: %w", c.Code, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *GormStore) Close(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting connection pool: %w", err)
	}
	return sqlDB.Close()
}

var _ tripsync.CoordinateStore = (*GormStore)(nil)
