package coordinator

import "context"

// Transport is the discovery and delivery capability a Coordinator drives.
//
// Every method is a request. Outcomes arrive later on Events, and the
// implementation must never block while delivering them. Methods may be
// called while the Coordinator holds its lock, so they must not wait on
// the network.
type Transport interface {
	StartAdvertising(ctx context.Context, name, serviceID string) error
	StartDiscovery(ctx context.Context, serviceID string) error
	StopAdvertising()
	StopDiscovery()

	RequestConnection(ctx context.Context, localName, endpointID string) error
	AcceptConnection(ctx context.Context, endpointID string) error
	RejectConnection(ctx context.Context, endpointID string) error
	DisconnectFromEndpoint(endpointID string)
	StopAllEndpoints()

	SendBytes(ctx context.Context, endpointID string, data []byte) (PayloadID, error)
	SendFile(ctx context.Context, endpointID string, src FileSource) (PayloadID, error)

	Events() <-chan Event
}

type EndpointInfo struct {
	Name      string
	ServiceID string
}

type ConnectionInfo struct {
	EndpointName string
	// AuthToken is a short code both sides derive from the connection.
	AuthToken string
	Incoming  bool
}
