// Package savestate encodes a node's persistent state: its secret key,
// nospam and the DHT nodes worth reconnecting to.
//
// Blob layout:
//
//	magic "TXCS" (4) | version (1) | flags (1) | body
//
// The body is LZ4 compressed and, when a passphrase is given, sealed with
// a scrypt-derived XChaCha20-Poly1305 key. WriteFile additionally spreads
// the blob over Reed-Solomon shards so a partially damaged file still
// loads.
package savestate
