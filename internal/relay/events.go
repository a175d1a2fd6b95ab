package relay

import "encoding/json"

// Client intents.
const (
	EventSessionCreate = "session:create"
	EventSessionJoin   = "session:join"
	EventContentUpdate = "content:update"
	EventTyping        = "typing"
	EventUserRename    = "user:rename"
	EventSessionLeave  = "session:leave"
)

// Server emissions.
const (
	EventIdentity       = "identity"
	EventCodeConfig     = "code:config"
	EventSessionCreated = "session:created"
	EventSessionJoined  = "session:joined"
	EventContentSync    = "content:sync"
	EventSessionWaiting = "session:waiting"
	EventRoomLive       = "room:live"
	EventMembers        = "members"
	EventRenameAck      = "rename:ack"
	EventError          = "error"
)

// Error codes carried by EventError payloads. Errors are always caller-local
// and never fatal to the connection.
const (
	ErrCodeInvalidCode     = "invalid_code"
	ErrCodeInvalidInput    = "invalid_input"
	ErrCodeNotFound        = "session_not_found"
	ErrCodeContentTooLarge = "content_too_large"
	ErrCodeExhausted       = "resource_exhausted"
	ErrCodeInternal        = "internal"
)

// ServerMessage is the wire envelope for everything the relay emits.
type ServerMessage struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

func encode(event string, payload any) []byte {
	msg, err := json.Marshal(ServerMessage{Event: event, Payload: payload})
	if err != nil {
		// Payload types are all local structs; this cannot fail at runtime.
		panic(err)
	}
	return msg
}

type identityPayload struct {
	ConnectionID string `json:"connectionId"`
	ClientID     string `json:"clientId"`
	DisplayName  string `json:"displayName"`
}

type codeConfigPayload struct {
	CodeLength int `json:"codeLength"`
}

type sessionPayload struct {
	Code string `json:"code"`
}

type contentPayload struct {
	Content string `json:"content"`
}

type roomLivePayload struct {
	LiveRoomSize int `json:"liveRoomSize"`
}

type memberView struct {
	ClientID    string `json:"clientId"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	Connected   bool   `json:"connected"`
}

type membersPayload struct {
	Code         string       `json:"code"`
	Participants []memberView `json:"participants"`
	LiveRoomSize int          `json:"liveRoomSize"`
}

type typingPayload struct {
	ClientID    string `json:"clientId"`
	DisplayName string `json:"displayName"`
	Typing      bool   `json:"typing"`
}

type renameAckPayload struct {
	OK   bool   `json:"ok"`
	Name string `json:"name"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
