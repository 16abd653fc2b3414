package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"molder/internal/logger"
	"molder/internal/types"
)

const (
	settingsBucket = "settings"
	countersBucket = "counters"

	settingsKey   = "tunables"
	totalCountKey = "total_count"
)

// BoltStore keeps the tunables and the total part count in a bbolt file.
// Every write is its own fsynced transaction.
type BoltStore struct {
	db     *bolt.DB
	logger *logger.Logger
}

func Open(path string, l *logger.Logger) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{settingsBucket, countersBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &BoltStore{db: db, logger: l.WithTag("store")}
	s.logger.Infof("Opened store %s", path)
	return s, nil
}

func (s *BoltStore) get(bucket, key string, v interface{}) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucket)).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, v)
	})
	if err != nil {
		return false, fmt.Errorf("read %s/%s: %w", bucket, key, err)
	}
	return found, nil
}

func (s *BoltStore) put(bucket, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Put([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("write %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *BoltStore) LoadSettings() (types.Settings, bool, error) {
	var settings types.Settings
	found, err := s.get(settingsBucket, settingsKey, &settings)
	return settings, found, err
}

func (s *BoltStore) SaveSettings(settings types.Settings) error {
	if err := s.put(settingsBucket, settingsKey, settings); err != nil {
		return err
	}
	s.logger.Debugf("Saved settings")
	return nil
}

func (s *BoltStore) LoadTotalCount() (uint64, error) {
	var count uint64
	_, err := s.get(countersBucket, totalCountKey, &count)
	return count, err
}

func (s *BoltStore) SaveTotalCount(count uint64) error {
	return s.put(countersBucket, totalCountKey, count)
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
