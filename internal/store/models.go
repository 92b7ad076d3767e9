package store

import (
	"time"

	"gorm.io/gorm"
)

// User represents an account holder
type User struct {
	ID           string    `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"uniqueIndex" json:"username"`
	PasswordHash string    `json:"-"`
	DisplayName  string    `json:"display_name"`
	Timezone     string    `json:"timezone"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Device represents a paired watch or companion device
type Device struct {
	ID         string     `gorm:"primaryKey" json:"id"`
	UserID     string     `gorm:"index" json:"user_id"`
	Name       string     `json:"name"`
	Kind       string     `json:"kind"` // watch, phone, tablet
	PairedAt   time.Time  `json:"paired_at"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	Revoked    bool       `json:"revoked"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Conversation represents an assistant chat conversation
type Conversation struct {
	ID           string    `gorm:"primaryKey" json:"id"`
	UserID       string    `gorm:"index" json:"user_id"`
	Title        string    `json:"title"`
	Model        string    `json:"model"`
	TokensUsed   int64     `json:"tokens_used"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	Messages []Message `json:"messages,omitempty" gorm:"foreignKey:ConversationID"`
}

// Message represents a single assistant chat message
type Message struct {
	ID             string    `gorm:"primaryKey" json:"id"`
	ConversationID string    `gorm:"index:idx_conv_created" json:"conversation_id"`
	Role           string    `json:"role"` // user, assistant, system
	Content        string    `json:"content" gorm:"type:text"`
	Tokens         int       `json:"tokens"`
	LatencyMs      int       `json:"latency_ms"`
	CreatedAt      time.Time `gorm:"index:idx_conv_created" json:"created_at"`
}

// ==================== User methods ====================

func (s *Store) CreateUser(user *User) error {
	if user.ID == "" {
		user.ID = NewID("usr")
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = time.Now()
	return s.db.Create(user).Error
}

func (s *Store) GetUser(id string) (*User, error) {
	var user User
	if err := s.db.First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) GetUserByUsername(username string) (*User, error) {
	var user User
	err := s.db.First(&user, "username = ?", username).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) UpdateUser(user *User) error {
	user.UpdatedAt = time.Now()
	return s.db.Save(user).Error
}

// ==================== Device methods ====================

func (s *Store) CreateDevice(dev *Device) error {
	if dev.ID == "" {
		dev.ID = NewID("dev")
	}
	dev.CreatedAt = time.Now()
	return s.db.Create(dev).Error
}

func (s *Store) ListDevices(userID string) ([]Device, error) {
	var devices []Device
	err := s.db.Where("user_id = ? AND revoked = ?", userID, false).
		Order("paired_at DESC").Find(&devices).Error
	return devices, err
}

func (s *Store) GetDevice(id string) (*Device, error) {
	var dev Device
	err := s.db.First(&dev, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &dev, nil
}

func (s *Store) TouchDevice(id string) error {
	now := time.Now()
	return s.db.Model(&Device{}).Where("id = ?", id).Update("last_seen_at", &now).Error
}

func (s *Store) RevokeDevice(id string) error {
	return s.db.Model(&Device{}).Where("id = ?", id).Update("revoked", true).Error
}

// ==================== Conversation methods ====================

func (s *Store) CreateConversation(conv *Conversation) error {
	if conv.ID == "" {
		conv.ID = NewID("conv")
	}
	conv.CreatedAt = time.Now()
	conv.UpdatedAt = time.Now()
	return s.db.Create(conv).Error
}

func (s *Store) GetConversation(id string) (*Conversation, error) {
	var conv Conversation
	err := s.db.First(&conv, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *Store) LatestConversation(userID string) (*Conversation, error) {
	var conv Conversation
	err := s.db.Where("user_id = ?", userID).Order("updated_at DESC").First(&conv).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *Store) UpdateConversation(conv *Conversation) error {
	conv.UpdatedAt = time.Now()
	return s.db.Save(conv).Error
}

func (s *Store) CreateMessage(msg *Message) error {
	if msg.ID == "" {
		msg.ID = NewID("msg")
	}
	msg.CreatedAt = time.Now()
	return s.db.Create(msg).Error
}

func (s *Store) GetMessages(conversationID string, limit, offset int) ([]Message, error) {
	var msgs []Message
	err := s.db.Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Limit(limit).
		Offset(offset).
		Find(&msgs).Error
	return msgs, err
}
