package metrics

// Pre-defined metrics for the ethsync node. All metrics live in
// DefaultRegistry so they are globally accessible without passing a
// registry around.

var (
	// ChainHeight tracks the latest persisted block number.
	ChainHeight = DefaultRegistry.Gauge("chain.height")
	// BlocksPersisted meters blocks appended to the chain.
	BlocksPersisted = DefaultRegistry.Meter("chain.blocks_persisted")

	// SyncTarget tracks the current end of the sync window.
	SyncTarget = DefaultRegistry.Gauge("sync.target")
	// SlotsReverted counts ranges returned to the pool after a failed
	// download.
	SlotsReverted = DefaultRegistry.Counter("sync.slots_reverted")
	// PeersEvicted counts peers evicted from the trust set.
	PeersEvicted = DefaultRegistry.Counter("sync.peers_evicted")

	// PeersConnected tracks the current number of connected peers.
	PeersConnected = DefaultRegistry.Gauge("p2p.peers")
	// MessagesReceived counts wire messages received.
	MessagesReceived = DefaultRegistry.Counter("p2p.messages_received")
	// MessagesSent counts wire messages sent.
	MessagesSent = DefaultRegistry.Counter("p2p.messages_sent")
)
