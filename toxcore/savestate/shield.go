package savestate

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/reedsolomon"
)

const (
	shieldMagic = "TXSH"

	DefaultDataShards   = 4
	DefaultParityShards = 2

	// shield header: magic(4) | data(1) | parity(1) | length(4) | shardSize(4)
	shieldHeaderSize = len(shieldMagic) + 10
	shardSumSize     = 8
)

var (
	ErrTooManyLost   = errors.New("savestate: too many shards lost, cannot recover")
	ErrInvalidShield = errors.New("savestate: invalid shard file")
)

// Codec spreads a blob over data and parity shards. Each shard carries an
// xxhash64 checksum so damaged shards are recognised and rebuilt.
type Codec struct {
	enc          reedsolomon.Encoder
	dataShards   int
	parityShards int
}

func NewCodec(dataShards, parityShards int) (*Codec, error) {
	if dataShards <= 0 || parityShards <= 0 || dataShards+parityShards > 255 {
		return nil, fmt.Errorf("%w: %d+%d shards", ErrInvalidShield, dataShards, parityShards)
	}
	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, err
	}
	return &Codec{enc: enc, dataShards: dataShards, parityShards: parityShards}, nil
}

func (c *Codec) TotalShards() int { return c.dataShards + c.parityShards }

// Shield encodes blob into the shard file format.
func (c *Codec) Shield(blob []byte) ([]byte, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("%w: empty blob", ErrInvalidShield)
	}
	shards, err := c.enc.Split(blob)
	if err != nil {
		return nil, err
	}
	if err := c.enc.Encode(shards); err != nil {
		return nil, err
	}
	size := len(shards[0])

	out := make([]byte, 0, shieldHeaderSize+c.TotalShards()*(shardSumSize+size))
	out = append(out, shieldMagic...)
	out = append(out, byte(c.dataShards), byte(c.parityShards))
	out = binary.BigEndian.AppendUint32(out, uint32(len(blob)))
	out = binary.BigEndian.AppendUint32(out, uint32(size))
	for _, s := range shards {
		out = binary.BigEndian.AppendUint64(out, xxhash.Sum64(s))
		out = append(out, s...)
	}
	return out, nil
}

// Unshield recovers the blob from a shard file, rebuilding up to
// parity-many damaged or missing shards. It also returns how many shards
// were repaired.
func Unshield(file []byte) ([]byte, int, error) {
	if len(file) < shieldHeaderSize || string(file[:len(shieldMagic)]) != shieldMagic {
		return nil, 0, ErrInvalidShield
	}
	h := file[len(shieldMagic):]
	c, err := NewCodec(int(h[0]), int(h[1]))
	if err != nil {
		return nil, 0, err
	}
	length := int(binary.BigEndian.Uint32(h[2:]))
	size := int(binary.BigEndian.Uint32(h[6:]))
	if size == 0 || length > c.dataShards*size || length > MaxBodySize*2 {
		return nil, 0, ErrInvalidShield
	}

	body := file[shieldHeaderSize:]
	shards := make([][]byte, c.TotalShards())
	lost := 0
	for i := range shards {
		off := i * (shardSumSize + size)
		if off+shardSumSize+size > len(body) {
			lost++
			continue
		}
		sum := binary.BigEndian.Uint64(body[off:])
		s := body[off+shardSumSize : off+shardSumSize+size]
		if xxhash.Sum64(s) != sum {
			lost++
			continue
		}
		shards[i] = append([]byte(nil), s...)
	}
	if lost > 0 {
		if err := c.enc.ReconstructData(shards); err != nil {
			if errors.Is(err, reedsolomon.ErrTooFewShards) {
				return nil, lost, ErrTooManyLost
			}
			return nil, lost, err
		}
	}

	out := make([]byte, 0, length)
	for i := 0; i < c.dataShards && len(out) < length; i++ {
		remaining := length - len(out)
		if remaining >= len(shards[i]) {
			out = append(out, shards[i]...)
		} else {
			out = append(out, shards[i][:remaining]...)
		}
	}
	return out, lost, nil
}

// WriteFile shields blob with the default shard counts and replaces path
// atomically.
func WriteFile(path string, blob []byte) error {
	c, err := NewCodec(DefaultDataShards, DefaultParityShards)
	if err != nil {
		return err
	}
	file, err := c.Shield(blob)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(file); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadFile loads a blob written by WriteFile.
func ReadFile(path string) ([]byte, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	blob, _, err := Unshield(file)
	if err != nil {
		return nil, fmt.Errorf("savestate: %s: %w", path, err)
	}
	return blob, nil
}
