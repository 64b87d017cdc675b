package prefs

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	bolt "go.etcd.io/bbolt"
)

// Store persists small UI preferences between runs: the turbo toggle
// and the previous bet and horse selections. None of it is
// correctness-relevant; a deleted file just resets the defaults.
type Store struct {
	db *bolt.DB
}

var bucketPrefs = []byte("prefs")

const (
	keyTurbo      = "turbo"
	keyLastBet    = "last_bet"
	keyLastHorses = "last_horses"
)

// Open opens or creates the preferences database.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open prefs db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPrefs)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init prefs bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database file.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) putJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal pref %s: %w", key, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPrefs).Put([]byte(key), data)
	})
}

func (s *Store) getJSON(key string, dest any) (bool, error) {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketPrefs).Get([]byte(key)); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("unmarshal pref %s: %w", key, err)
	}
	return true, nil
}

// SetTurbo stores the turbo-mode toggle.
func (s *Store) SetTurbo(on bool) error {
	return s.putJSON(keyTurbo, on)
}

// Turbo returns the stored toggle, defaulting to false.
func (s *Store) Turbo() (bool, error) {
	var on bool
	if _, err := s.getJSON(keyTurbo, &on); err != nil {
		return false, err
	}
	return on, nil
}

// LastBet is the previously used stake, pre-filled into the create
// flow.
type LastBet struct {
	Token  common.Address `json:"token"`
	Amount *big.Int       `json:"amount"`
	IsNFT  bool           `json:"is_nft"`
}

// SetLastBet stores the stake used on the latest created match.
func (s *Store) SetLastBet(b LastBet) error {
	return s.putJSON(keyLastBet, b)
}

// LastBet returns the stored stake, if any.
func (s *Store) LastBet() (LastBet, bool, error) {
	var b LastBet
	ok, err := s.getJSON(keyLastBet, &b)
	return b, ok, err
}

// SetLastHorses stores the most recent full roster.
func (s *Store) SetLastHorses(horses []uint8) error {
	return s.putJSON(keyLastHorses, horses)
}

// LastHorses returns the stored roster, if any.
func (s *Store) LastHorses() ([]uint8, bool, error) {
	var horses []uint8
	ok, err := s.getJSON(keyLastHorses, &horses)
	return horses, ok, err
}
