// Package crypto provides the cryptographic primitives of the toxcore overlay.
//
// Design goals:
//   - Wire compatibility with NaCl crypto_box (X25519 + XSalsa20-Poly1305) for DHT packets
//   - Authenticated encryption everywhere; a failed check never yields plaintext
//   - Nonces that never repeat within a session (random prefix + counter)
//   - Session keys derived via HKDF-SHA256 from ephemeral X25519 exchanges
//   - Secret material wiped by its owner on destruction
package crypto
