package gateway

// Transport defines the interface for control-plane frontends (HTTP, local
// socket, etc.)
type Transport interface {
	// Start begins serving requests and blocks until Stop or a fatal error
	Start() error
	// Stop gracefully shuts down the transport
	Stop() error
}
