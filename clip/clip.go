// Package clip defines the clipboard item data model shared by the clip
// messenger, the history port, and the clipboard port.
package clip

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies the shape of a Clip's Content.
type Type string

// The clip types carried over the clip channel. Image/URL/File flow through
// the same channel unchanged; only Text is produced or consumed by the core
// itself (clipboard OS integration is out of scope).
const (
	TypeText  Type = "text"
	TypeURL   Type = "url"
	TypeImage Type = "image"
	TypeFile  Type = "file"
)

// Clip is an immutable clipboard item once produced. Content is UTF-8 text
// for Type text/url, base64 for image/file.
type Clip struct {
	ID        string     `json:"id"`
	Type      Type       `json:"type"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
	SenderID  string     `json:"senderId"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Message is the wire envelope for a clip sent over /clipboard/clip/1.0.0.
type Message struct {
	Type   string `json:"type"`
	From   string `json:"from"`
	Clip   Clip   `json:"clip"`
	SentAt int64  `json:"sentAt"`
}

// MessageType is the fixed type tag for clip messages.
const MessageType = "CLIP"

// NewID mints a fresh clip identifier. A ClipboardPort assigns one to
// every local clip it produces, the way a UI-facing reference id is
// minted for anything a user can later point back at.
func NewID() string {
	return uuid.NewString()
}
