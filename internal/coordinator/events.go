package coordinator

// Event is delivered by a Transport and consumed by Coordinator.Handle.
type Event interface {
	isEvent()
}

type EndpointFound struct {
	EndpointID string
	Info       EndpointInfo
}

type EndpointLost struct {
	EndpointID string
}

type ConnectionInitiated struct {
	EndpointID string
	Info       ConnectionInfo
}

type ConnectionResult struct {
	EndpointID string
	Success    bool
	Err        error
}

type Disconnected struct {
	EndpointID string
}

// PayloadReceived announces an incoming payload. Bytes payloads are
// complete; file payloads are still being written.
type PayloadReceived struct {
	EndpointID string
	Payload    Payload
}

type PayloadTransferUpdate struct {
	EndpointID       string
	PayloadID        PayloadID
	Status           TransferStatus
	BytesTransferred int64
	TotalBytes       int64
}

func (EndpointFound) isEvent()         {}
func (EndpointLost) isEvent()          {}
func (ConnectionInitiated) isEvent()   {}
func (ConnectionResult) isEvent()      {}
func (Disconnected) isEvent()          {}
func (PayloadReceived) isEvent()       {}
func (PayloadTransferUpdate) isEvent() {}

// Notification is what subscribers observe.
type Notification interface {
	isNotification()
}

type StatusChanged struct {
	State State
}

type PeerNamed struct {
	Name string
}

type MessageReceived struct {
	From string
	Text string
}

type FileReady struct {
	PayloadID PayloadID
	Path      string
	Size      int64
}

type TransferFailed struct {
	PayloadID PayloadID
	Direction Direction
	Reason    error
}

type ConnectionFailed struct {
	Endpoint Endpoint
	Reason   error
}

// TransferProgress reports bytes moved for a file payload. Total is -1
// when the size is unknown.
type TransferProgress struct {
	PayloadID PayloadID
	Direction Direction
	Done      int64
	Total     int64
}

func (StatusChanged) isNotification()    {}
func (PeerNamed) isNotification()        {}
func (MessageReceived) isNotification()  {}
func (FileReady) isNotification()        {}
func (TransferFailed) isNotification()   {}
func (ConnectionFailed) isNotification() {}
func (TransferProgress) isNotification() {}
