package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/TheusHen/toxcore/internal/config"
	"github.com/TheusHen/toxcore/toxcore/savestate"
)

// stateStore loads and saves the node's save state. Load returns nil
// when nothing was saved yet.
type stateStore interface {
	Load() ([]byte, error)
	Save(blob []byte) error
	Close() error
}

func openStore(cfg config.StateConfig) (stateStore, error) {
	switch {
	case cfg.Database != "":
		db, err := savestate.OpenBolt(cfg.Database)
		if err != nil {
			return nil, err
		}
		return &profileStore{db: db, profile: cfg.Profile}, nil
	case cfg.File != "":
		return fileStore(cfg.File), nil
	}
	return noStore{}, nil
}

type fileStore string

func (f fileStore) Load() ([]byte, error) {
	blob, err := savestate.ReadFile(string(f))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return blob, err
}

func (f fileStore) Save(blob []byte) error { return savestate.WriteFile(string(f), blob) }
func (f fileStore) Close() error           { return nil }

type profileStore struct {
	db      *savestate.BoltStore
	profile string
}

func (p *profileStore) Load() ([]byte, error) {
	blob, err := p.db.Get(p.profile)
	if errors.Is(err, savestate.ErrProfileNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", p.profile, err)
	}
	return blob, nil
}

func (p *profileStore) Save(blob []byte) error { return p.db.Put(p.profile, blob) }
func (p *profileStore) Close() error           { return p.db.Close() }

// noStore keeps nothing; every run gets a fresh identity.
type noStore struct{}

func (noStore) Load() ([]byte, error) { return nil, nil }
func (noStore) Save([]byte) error     { return nil }
func (noStore) Close() error          { return nil }

func passphrase(cfg config.StateConfig) []byte {
	if cfg.PassphraseEnv == "" {
		return nil
	}
	if v := os.Getenv(cfg.PassphraseEnv); v != "" {
		return []byte(v)
	}
	return nil
}
