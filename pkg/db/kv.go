package db

import (
	"context"
	"errors"

	"github.com/angelmondragon/storefront-engine/pkg/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// KVStore is a storage.Store over the kv_entries table.
type KVStore struct {
	client    *Client
	namespace string
}

// NewKVStore scopes entries to namespace so several installations can share
// one database.
func (c *Client) NewKVStore(namespace string) *KVStore {
	return &KVStore{client: c, namespace: namespace}
}

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var entry models.KVEntry
	err := s.client.conn.WithContext(ctx).
		Where("namespace = ? AND entry_key = ?", s.namespace, key).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapErr(err, "read kv entry")
	}
	return entry.Value, true, nil
}

func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	entry := models.KVEntry{Namespace: s.namespace, Key: key, Value: value}
	err := s.client.conn.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "namespace"}, {Name: "entry_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&entry).Error
	return wrapErr(err, "write kv entry")
}

func (s *KVStore) Remove(ctx context.Context, key string) error {
	err := s.client.conn.WithContext(ctx).
		Where("namespace = ? AND entry_key = ?", s.namespace, key).
		Delete(&models.KVEntry{}).Error
	return wrapErr(err, "remove kv entry")
}
