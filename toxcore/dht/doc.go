// Package dht implements the node table: a Kademlia-style set of k-buckets
// keyed by the XOR distance between the local public key and each peer's.
//
// The table holds addresses only. Sending pings and node requests is the
// node's job; the table records who answered and when.
package dht
