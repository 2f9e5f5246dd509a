package session

import (
	"errors"

	"github.com/TheusHen/toxcore/toxcore/crypto"
)

var (
	ErrCipherNotEstablished = errors.New("session: cipher not established")
	ErrReplay               = errors.New("session: nonce counter not increasing")
)

// Cipher is the symmetric half of a session. Each side generates an
// ephemeral keypair and a nonce prefix, exchanges both inside the boxed
// hello, and derives one XChaCha20-Poly1305 key per direction.
//
// Outgoing nonces are the local prefix plus a strictly increasing counter.
// Incoming nonces must carry the peer's prefix and a counter greater than
// the last one accepted.
type Cipher struct {
	initiator   bool
	established bool

	localEph crypto.KeyPair
	peerEph  crypto.PublicKey

	send       *crypto.AEAD
	recv       *crypto.AEAD
	sendNonces *crypto.NonceCounter
	recvPrefix [crypto.NoncePrefixSize]byte
	recvLast   uint64
}

// NewCipher creates a cipher with a fresh ephemeral keypair and nonce prefix.
func NewCipher(initiator bool) (*Cipher, error) {
	eph, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	nonces, err := crypto.NewNonceCounter()
	if err != nil {
		return nil, err
	}
	return &Cipher{initiator: initiator, localEph: eph, sendNonces: nonces}, nil
}

// LocalEphemeral returns the ephemeral public key to send to the peer.
func (c *Cipher) LocalEphemeral() crypto.PublicKey { return c.localEph.Public }

// PeerEphemeral returns the peer's ephemeral key once Complete succeeded.
func (c *Cipher) PeerEphemeral() crypto.PublicKey { return c.peerEph }

// LocalPrefix returns the nonce prefix to send to the peer.
func (c *Cipher) LocalPrefix() [crypto.NoncePrefixSize]byte { return c.sendNonces.Prefix() }

func (c *Cipher) Established() bool { return c.established }

// Complete derives the directional keys from the peer's ephemeral key and
// records the peer's nonce prefix.
func (c *Cipher) Complete(peerEph crypto.PublicKey, peerPrefix [crypto.NoncePrefixSize]byte) error {
	if c.established {
		return nil
	}
	shared, err := crypto.ECDH(c.localEph.Secret, peerEph)
	if err != nil {
		return err
	}
	defer crypto.Wipe(shared)

	initiatorEph, responderEph := c.localEph.Public, peerEph
	if !c.initiator {
		initiatorEph, responderEph = peerEph, c.localEph.Public
	}
	initiatorKey, responderKey, err := crypto.DeriveSessionKeys(shared, initiatorEph, responderEph)
	if err != nil {
		return err
	}
	defer crypto.Wipe(initiatorKey)
	defer crypto.Wipe(responderKey)

	// Initiator sends with initiatorKey, receives with responderKey.
	sendKey, recvKey := initiatorKey, responderKey
	if !c.initiator {
		sendKey, recvKey = responderKey, initiatorKey
	}
	if c.send, err = crypto.NewAEAD(sendKey); err != nil {
		return err
	}
	if c.recv, err = crypto.NewAEAD(recvKey); err != nil {
		return err
	}
	c.peerEph = peerEph
	c.recvPrefix = peerPrefix
	c.established = true
	return nil
}

// Seal encrypts plaintext under the next send nonce.
func (c *Cipher) Seal(plaintext, ad []byte) (crypto.Nonce, []byte, error) {
	if !c.established {
		return crypto.Nonce{}, nil, ErrCipherNotEstablished
	}
	nonce, err := c.sendNonces.Next()
	if err != nil {
		return crypto.Nonce{}, nil, err
	}
	return nonce, c.send.SealWithNonce(nonce, plaintext, ad), nil
}

// Open authenticates and decrypts a body sealed by the peer. The receive
// counter only advances after authentication succeeds.
func (c *Cipher) Open(nonce crypto.Nonce, ciphertext, ad []byte) ([]byte, error) {
	if !c.established {
		return nil, ErrCipherNotEstablished
	}
	prefix, counter := nonce.Split()
	if prefix != c.recvPrefix {
		return nil, crypto.ErrAuthFailure
	}
	if counter <= c.recvLast {
		return nil, ErrReplay
	}
	plain, err := c.recv.OpenWithNonce(nonce, ciphertext, ad)
	if err != nil {
		return nil, crypto.ErrAuthFailure
	}
	c.recvLast = counter
	return plain, nil
}

// SendCount returns how many nonces were used for sending.
func (c *Cipher) SendCount() uint64 { return c.sendNonces.Issued() }

// Wipe zeroes the ephemeral secret and drops the directional keys.
func (c *Cipher) Wipe() {
	c.localEph.Wipe()
	c.send = nil
	c.recv = nil
	c.established = false
}
