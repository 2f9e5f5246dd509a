package savestate

import (
	"errors"
	"sort"

	bolt "go.etcd.io/bbolt"
)

var ErrProfileNotFound = errors.New("savestate: profile not found")

var profilesBucket = []byte("profiles")

// BoltStore keeps named save-state blobs in a bbolt database.
type BoltStore struct {
	db *bolt.DB
}

func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(profilesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (b *BoltStore) Put(profile string, blob []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(profilesBucket).Put([]byte(profile), blob)
	})
}

func (b *BoltStore) Get(profile string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(profilesBucket).Get([]byte(profile))
		if v == nil {
			return ErrProfileNotFound
		}
		// v is only valid inside the transaction.
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BoltStore) Delete(profile string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(profilesBucket).Delete([]byte(profile))
	})
}

// Profiles lists stored profile names in order.
func (b *BoltStore) Profiles() ([]string, error) {
	var out []string
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(profilesBucket).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			out = append(out, string(k))
		}
		return nil
	})
	sort.Strings(out)
	return out, err
}

func (b *BoltStore) Close() error { return b.db.Close() }
