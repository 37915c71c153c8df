package localcache

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bidmarket/internal/models"
)

// Gorm keeps cache entries in the cache_entries table.
type Gorm struct {
	db *gorm.DB
}

func NewGorm(db *gorm.DB) *Gorm { return &Gorm{db: db} }

func (g *Gorm) Get(ctx context.Context, ns, key string) ([]byte, bool, error) {
	var e models.CacheEntry
	err := g.db.WithContext(ctx).First(&e, "namespace = ? AND key = ?", ns, key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return e.Value, true, nil
}

func (g *Gorm) Set(ctx context.Context, ns, key string, value []byte) error {
	e := models.CacheEntry{Namespace: ns, Key: key, Value: value, UpdatedAt: time.Now()}
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "namespace"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&e).Error
}

func (g *Gorm) Delete(ctx context.Context, ns, key string) error {
	return g.db.WithContext(ctx).Delete(&models.CacheEntry{}, "namespace = ? AND key = ?", ns, key).Error
}

func (g *Gorm) Keys(ctx context.Context, ns string) ([]string, error) {
	var keys []string
	err := g.db.WithContext(ctx).Model(&models.CacheEntry{}).
		Where("namespace = ?", ns).Order("key").Pluck("key", &keys).Error
	return keys, err
}

func (g *Gorm) Clear(ctx context.Context, ns string) error {
	return g.db.WithContext(ctx).Delete(&models.CacheEntry{}, "namespace = ?", ns).Error
}
