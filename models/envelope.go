package models

// Message types shared with the browser client. Every frame in either
// direction is a JSON object with a "type" discriminator.
const (
	TypeJoin          = "join"
	TypeLetter        = "letter"
	TypeConnected     = "connected"
	TypeJoined        = "joined"
	TypeOnlineCount   = "online_count"
	TypeReceiveLetter = "receive_letter"
	TypeLetterSent    = "letter_sent"
	TypeError         = "error"
)

// Inbound is the envelope for client-to-server frames. Only the fields
// relevant to the given type are set.
type Inbound struct {
	Type    string `json:"type"`
	Name    string `json:"name,omitempty"`    // join
	Content string `json:"content,omitempty"` // letter
}

// ConnectedEvent acknowledges a freshly accepted connection.
type ConnectedEvent struct {
	Type string `json:"type"`
}

// JoinedEvent acknowledges a join, carrying the allocated participant id.
type JoinedEvent struct {
	Type        string `json:"type"`
	UserID      string `json:"userId"`
	OnlineCount int    `json:"onlineCount"`
}

// OnlineCountEvent is the presence update broadcast to every participant.
type OnlineCountEvent struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// LetterEvent delivers a letter to its recipient (receive_letter) or confirms
// delivery to its sender (letter_sent).
type LetterEvent struct {
	Type   string `json:"type"`
	Letter Letter `json:"letter"`
}

// ErrorEvent reports malformed input or a routing failure to one connection.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewConnectedEvent() ConnectedEvent {
	return ConnectedEvent{Type: TypeConnected}
}

func NewJoinedEvent(userID string, onlineCount int) JoinedEvent {
	return JoinedEvent{Type: TypeJoined, UserID: userID, OnlineCount: onlineCount}
}

func NewOnlineCountEvent(count int) OnlineCountEvent {
	return OnlineCountEvent{Type: TypeOnlineCount, Count: count}
}

func NewReceiveLetterEvent(letter Letter) LetterEvent {
	return LetterEvent{Type: TypeReceiveLetter, Letter: letter}
}

func NewLetterSentEvent(letter Letter) LetterEvent {
	return LetterEvent{Type: TypeLetterSent, Letter: letter}
}

func NewErrorEvent(message string) ErrorEvent {
	return ErrorEvent{Type: TypeError, Message: message}
}
