// Package domain defines the persistence models for users, direct messages,
// message requests, and the per-user social graph (blocks, pinned chats,
// starred messages). These types are mapped with GORM and form the core data
// layer of the messaging backend.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Presence statuses persisted on User.Status.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Group-add preferences persisted on User.AllowGroupAdd.
const (
	GroupAddEveryone = "everyone"
	GroupAddContacts = "contacts"
	GroupAddNobody   = "nobody"
)

// Message type tags.
const (
	MessageText    = "text"
	MessageImage   = "image"
	MessageVideo   = "video"
	MessageAudio   = "audio"
	MessageFile    = "file"
	MessageVoice   = "voice"
	MessageSticker = "sticker"
	MessageGIF     = "gif"
)

// MessageTypes lists every accepted message type tag.
var MessageTypes = []string{
	MessageText, MessageImage, MessageVideo, MessageAudio,
	MessageFile, MessageVoice, MessageSticker, MessageGIF,
}

// ValidMessageType reports whether t is a known message type tag.
func ValidMessageType(t string) bool {
	for _, v := range MessageTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Message request lifecycle states.
const (
	RequestPending  = "pending"
	RequestAccepted = "accepted"
	RequestRejected = "rejected"
)

// User is a registered account.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Username: display handle as typed at registration.
//   - UsernameKey: case-folded Username; unique, used for lookups.
//   - Email: unique login identifier (lower-cased).
//   - PasswordHash: argon2id encoded hash; never serialized.
//   - Status / LastSeen: last persisted presence.
//   - IsPrivate: when true, strangers must go through a message request.
//   - AllowGroupAdd: everyone|contacts|nobody.
type User struct {
	ID            string         `json:"id"              gorm:"type:char(36);primaryKey"`
	Username      string         `json:"username"        gorm:"type:varchar(32);not null"`
	UsernameKey   string         `json:"-"               gorm:"type:varchar(32);not null;uniqueIndex:ux_users_username_key"`
	DisplayName   string         `json:"display_name"    gorm:"type:varchar(64)"`
	Email         string         `json:"email"           gorm:"type:varchar(255);not null;uniqueIndex:ux_users_email"`
	PasswordHash  string         `json:"-"               gorm:"type:varchar(255);not null"`
	Avatar        string         `json:"avatar"          gorm:"type:varchar(512)"`
	Status        string         `json:"status"          gorm:"type:varchar(16);not null;default:'offline';check:status IN ('online','offline')"`
	LastSeen      *time.Time     `json:"last_seen,omitempty"`
	IsPrivate     bool           `json:"is_private"      gorm:"not null;default:false"`
	AllowGroupAdd string         `json:"allow_group_add" gorm:"type:varchar(16);not null;default:'everyone';check:allow_group_add IN ('everyone','contacts','nobody')"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-"               gorm:"index"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// UserSummary is the public projection of a user embedded in message payloads.
type UserSummary struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

// Summary projects u to its public summary.
func (u User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Username: u.Username, DisplayName: u.DisplayName, Avatar: u.Avatar}
}

// Message is one direct message between two users.
//
// DeliveredAt is set at persist time only when the recipient had a live
// connection. ReadAt is set once, when IsRead flips false→true.
type Message struct {
	ID          string         `json:"id"           gorm:"type:char(36);primaryKey"`
	SenderID    string         `json:"sender_id"    gorm:"type:char(36);not null;index:idx_msgs_pair,priority:1"`
	RecipientID string         `json:"recipient_id" gorm:"type:char(36);not null;index:idx_msgs_pair,priority:2;index:idx_msgs_unread,priority:1"`
	Content     string         `json:"content"      gorm:"type:text;not null;default:''"`
	MessageType string         `json:"message_type" gorm:"type:varchar(16);not null;default:'text'"`
	FileURL     string         `json:"file_url,omitempty"  gorm:"type:varchar(512)"`
	FileName    string         `json:"file_name,omitempty" gorm:"type:varchar(255)"`
	FileSize    int64          `json:"file_size,omitempty"`
	IsRead      bool           `json:"is_read"      gorm:"not null;default:false;index:idx_msgs_unread,priority:2"`
	ReadAt      *time.Time     `json:"read_at,omitempty"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty"`
	IsPinned    bool           `json:"is_pinned"    gorm:"not null;default:false"`
	ReplyToID   *string        `json:"reply_to_id,omitempty" gorm:"type:char(36)"`
	CreatedAt   time.Time      `json:"created_at"   gorm:"index:idx_msgs_pair,priority:3"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-"            gorm:"index"`

	Sender    *User `json:"-" gorm:"foreignKey:SenderID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Recipient *User `json:"-" gorm:"foreignKey:RecipientID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// MessageView is a message with its sender and recipient populated, the shape
// pushed to clients and returned by the API.
type MessageView struct {
	Message
	SenderInfo    *UserSummary `json:"sender,omitempty"`
	RecipientInfo *UserSummary `json:"recipient,omitempty"`
}

// View populates the public projection from loaded associations.
func (m Message) View() MessageView {
	v := MessageView{Message: m}
	if m.Sender != nil {
		s := m.Sender.Summary()
		v.SenderInfo = &s
	}
	if m.Recipient != nil {
		r := m.Recipient.Summary()
		v.RecipientInfo = &r
	}
	return v
}

// MessageRequest gates first contact with a private user. It moves from
// pending to accepted or rejected exactly once.
type MessageRequest struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	SenderID    string    `json:"sender_id"    gorm:"type:char(36);not null;index:idx_req_pair,priority:1"`
	RecipientID string    `json:"recipient_id" gorm:"type:char(36);not null;index:idx_req_pair,priority:2;index:idx_req_inbox,priority:1"`
	Status      string    `json:"status"       gorm:"type:varchar(16);not null;default:'pending';index:idx_req_inbox,priority:2;check:status IN ('pending','accepted','rejected')"`
	Note        string    `json:"note,omitempty" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Sender    *User `json:"sender,omitempty"    gorm:"foreignKey:SenderID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Recipient *User `json:"recipient,omitempty" gorm:"foreignKey:RecipientID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for MessageRequest.
func (MessageRequest) TableName() string { return "message_requests" }

// Block records that BlockerID no longer accepts messages from BlockedID.
type Block struct {
	BlockerID string    `json:"blocker_id" gorm:"type:char(36);primaryKey"`
	BlockedID string    `json:"blocked_id" gorm:"type:char(36);primaryKey;index"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Block.
func (Block) TableName() string { return "blocks" }

// PinnedChat pins a conversation with PeerID to the top of UserID's list.
type PinnedChat struct {
	UserID    string    `json:"user_id" gorm:"type:char(36);primaryKey"`
	PeerID    string    `json:"peer_id" gorm:"type:char(36);primaryKey"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for PinnedChat.
func (PinnedChat) TableName() string { return "pinned_chats" }

// StarredMessage bookmarks a message for one user.
type StarredMessage struct {
	UserID    string    `json:"user_id"    gorm:"type:char(36);primaryKey"`
	MessageID string    `json:"message_id" gorm:"type:char(36);primaryKey;index"`
	CreatedAt time.Time `json:"created_at"`

	Message *Message `json:"-" gorm:"foreignKey:MessageID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for StarredMessage.
func (StarredMessage) TableName() string { return "starred_messages" }
