package models

type MessageOrigin string

const (
	OriginSystem MessageOrigin = "SYSTEM"
	OriginBot    MessageOrigin = "BOT"
	OriginUser   MessageOrigin = "USER"
)

type MessageKind string

const (
	KindText  MessageKind = "TEXT"
	KindImage MessageKind = "IMAGE"
	KindFile  MessageKind = "FILE"
)

// ChatMessage is immutable once appended to a room's log.
type ChatMessage struct {
	ID         string        `json:"id"`
	Room       string        `json:"room"`
	AuthorID   string        `json:"author_id"`
	AuthorName string        `json:"author_name,omitempty"`
	Role       UserRole      `json:"role,omitempty"`
	Kind       MessageKind   `json:"kind"`
	Origin     MessageOrigin `json:"origin"`
	Text       string        `json:"text,omitempty"`
	// Image/file payloads arrive as data URLs; stored opaque.
	ImageURL string `json:"image_url,omitempty"`
	FileURL  string `json:"file_url,omitempty"`
	FileName string `json:"file_name,omitempty"`
	TS       int64  `json:"ts"`
}
