// Package devicesvc remembers the controllers the bridge has been used with.
package devicesvc

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/neuroplastio/neio-pad/padapi"
	"go.uber.org/zap"
)

var ErrControllerNotFound = errors.New("controller not found")

const controllerPrefix = "pad/controllers/"

type Controller struct {
	GUID        string    `json:"guid"`
	Name        string    `json:"name"`
	FirstSeenAt time.Time `json:"firstSeenAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
	Sessions    int       `json:"sessions"`
}

type Service struct {
	log *zap.Logger
	db  *badger.DB
	now func() time.Time
}

func New(db *badger.DB, log *zap.Logger, now func() time.Time) *Service {
	return &Service{
		db:  db,
		log: log,
		now: now,
	}
}

func controllerKey(guid string) []byte {
	return []byte(controllerPrefix + guid)
}

// RecordSession stores that a session was started with the given controller.
func (s *Service) RecordSession(info padapi.ControllerInfo) (Controller, error) {
	if info.GUID == "" {
		return Controller{}, fmt.Errorf("controller %q has no GUID", info.Name)
	}
	var ctrl Controller
	now := s.now()
	err := s.db.Update(func(txn *badger.Txn) error {
		key := controllerKey(info.GUID)
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			ctrl = Controller{GUID: info.GUID}
		case err != nil:
			return err
		default:
			err = item.Value(func(val []byte) error {
				return json.Unmarshal(val, &ctrl)
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal controller: %w", err)
			}
		}
		ctrl.Name = info.Name
		if ctrl.FirstSeenAt.IsZero() {
			ctrl.FirstSeenAt = now
		}
		ctrl.LastSeenAt = now
		ctrl.Sessions++
		b, err := json.Marshal(ctrl)
		if err != nil {
			return fmt.Errorf("failed to marshal controller: %w", err)
		}
		return txn.Set(key, b)
	})
	if err != nil {
		return Controller{}, fmt.Errorf("failed to record controller: %w", err)
	}
	s.log.Debug("controller recorded", zap.String("guid", ctrl.GUID), zap.String("name", ctrl.Name), zap.Int("sessions", ctrl.Sessions))
	return ctrl, nil
}

func (s *Service) ListControllers() ([]Controller, error) {
	var controllers []Controller
	err := s.db.View(func(txn *badger.Txn) error {
		iter := txn.NewIterator(badger.DefaultIteratorOptions)
		defer iter.Close()
		prefix := []byte(controllerPrefix)
		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			var ctrl Controller
			err := iter.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ctrl)
			})
			if err != nil {
				return err
			}
			controllers = append(controllers, ctrl)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list controllers: %w", err)
	}
	return controllers, nil
}

func (s *Service) GetController(guid string) (Controller, error) {
	var ctrl Controller
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(controllerKey(guid))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrControllerNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &ctrl)
		})
	})
	if err != nil {
		return Controller{}, fmt.Errorf("failed to get controller %s: %w", guid, err)
	}
	return ctrl, nil
}
