package models

import (
	"time"

	"github.com/google/uuid"
)

// Letter is one routed message from a sender to a randomly chosen recipient.
// Sender and recipient ids never go out on the wire; participants only ever
// see each other's display names.
type Letter struct {
	ID            string    `json:"id"`
	Content       string    `json:"content"`
	SenderID      string    `json:"-"`
	SenderName    string    `json:"senderName"`
	RecipientID   string    `json:"-"`
	RecipientName string    `json:"recipientName"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewLetter builds a letter, capturing both display names at construction
// time. A letter is never mutated after this point.
func NewLetter(senderID, senderName, recipientID, recipientName, content string) Letter {
	return Letter{
		ID:            uuid.NewString(),
		Content:       content,
		SenderID:      senderID,
		SenderName:    senderName,
		RecipientID:   recipientID,
		RecipientName: recipientName,
		Timestamp:     time.Now().UTC(),
	}
}
