// Package toxcore is the core of a peer-to-peer encrypted overlay client.
//
// A Node keeps a Kademlia-style DHT table filled from bootstrap nodes, runs
// an authenticated key exchange with the nodes it talks to and reports a
// single connection status. It has no goroutines of its own: the host
// calls Iterate in a loop and sleeps for IterationInterval between calls.
//
//	node, err := toxcore.New(toxcore.DefaultOptions())
//	...
//	_ = node.Bootstrap(ctx, "tox.example.org", 33445, key)
//	for node.ConnectionStatus() == toxcore.ConnectionNone {
//		time.Sleep(node.Iterate(time.Now()))
//	}
package toxcore
