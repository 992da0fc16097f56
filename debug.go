package liveedit

import "sync"

// Debug-enabled bridges register themselves in a process-wide table so
// tooling (the daemon's debug endpoint, MCP tools, a REPL) can find the live
// instance by endpoint and inspect it.

var (
	debugMu      sync.Mutex
	debugBridges = make(map[string]*Bridge)
)

func registerDebug(b *Bridge) {
	debugMu.Lock()
	defer debugMu.Unlock()
	if prev, ok := debugBridges[b.cfg.Endpoint]; ok && prev != b {
		b.logger.Warn("liveedit: replacing debug handle", "endpoint", b.cfg.Endpoint)
	}
	debugBridges[b.cfg.Endpoint] = b
}

func deregisterDebug(b *Bridge) {
	debugMu.Lock()
	defer debugMu.Unlock()
	if debugBridges[b.cfg.Endpoint] == b {
		delete(debugBridges, b.cfg.Endpoint)
	}
}

// DebugBridge returns the debug-registered bridge for an endpoint.
func DebugBridge(endpoint string) (*Bridge, bool) {
	debugMu.Lock()
	defer debugMu.Unlock()
	b, ok := debugBridges[endpoint]
	return b, ok
}

// Snapshot is a point-in-time view of a bridge for inspection surfaces.
type Snapshot struct {
	Endpoint  string `json:"endpoint"`
	Mode      string `json:"mode"`
	Connected bool   `json:"connected"`
	Entries   int    `json:"entries"`
	Applied   uint64 `json:"applied"`
}

// DebugSnapshot summarises the bridge state.
func (b *Bridge) DebugSnapshot() Snapshot {
	return Snapshot{
		Endpoint:  b.cfg.Endpoint,
		Mode:      string(b.mode),
		Connected: b.Connected(),
		Entries:   b.reg.Len(),
		Applied:   b.patcher.ApplyCount(),
	}
}
