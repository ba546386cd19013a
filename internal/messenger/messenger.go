// Package messenger defines the interface for chat backends. The bot
// talks to this interface and doesn't know which backend is active.
package messenger

// ConnectionState represents the connection status of a backend.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// FileRef points at a file attached to an incoming message.
type FileRef struct {
	Name     string
	MIMEType string
	URL      string // backend download URL
	Size     int
}

// Message represents an incoming message from any backend.
type Message struct {
	ID       string // backend-specific message ID
	From     string // sender identifier
	Chat     string // chat/channel identifier
	Content  string
	Files    []FileRef
	RawEvent interface{}
}

// MessageHandler is a callback for incoming messages.
type MessageHandler func(Message)

// ConnectionHandler is a callback for connection state changes.
type ConnectionHandler func(ConnectionState)

// Messenger is the interface that chat backends must implement.
type Messenger interface {
	// Connection lifecycle
	Connect() error
	Disconnect()
	GetState() ConnectionState

	// Event handlers
	OnMessage(handler MessageHandler)
	OnConnectionEvent(handler ConnectionHandler)

	// Sending. Send returns the backend message ID so the message can
	// later be edited with Update or removed with Delete.
	Send(chatID, text string) (string, error)
	Update(chatID, messageID, text string) error
	Delete(chatID, messageID string) error

	// DownloadFile fetches the bytes of an attached file.
	DownloadFile(ref FileRef) ([]byte, error)

	// Backend name for logging
	Name() string
}
