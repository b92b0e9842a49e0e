package models

import (
	"time"
)

// Message is a direct message between two users. ReceivedTime and
// SeenTime are one-way flags: once set they are never cleared or
// overwritten.
type Message struct {
	BaseModel
	SenderID     uint       `json:"senderId" gorm:"not null;index"`
	RecipientID  uint       `json:"recipientId" gorm:"not null;index"`
	Content      string     `json:"content" gorm:"not null"`
	SentTime     time.Time  `json:"sentTime"`
	ReceivedTime *time.Time `json:"receivedTime,omitempty"`
	SeenTime     *time.Time `json:"seenTime,omitempty"`
}

func CreateMessage(message *Message) error {
	if message.SentTime.IsZero() {
		message.SentTime = time.Now()
	}

	return db.Create(message).Error
}

// MarkMessageSeen stamps SeenTime on a message, but only when the caller
// is the recipient and the message has not been seen yet. The write is
// conditioned on the filter, so concurrent calls cannot double-stamp.
// Whether the message is missing, already seen, or addressed to someone
// else is not distinguished in the result.
func MarkMessageSeen(messageID interface{}, callerID uint) (bool, error) {
	res := db.Model(&Message{}).
		Where("id = ? AND recipient_id = ? AND seen_time IS NULL", messageID, callerID).
		Update("seen_time", time.Now())

	if res.Error != nil {
		return false, res.Error
	}

	return res.RowsAffected > 0, nil
}

// MarkAllSeenFrom stamps SeenTime on every unseen message from senderID
// to the caller, and returns how many rows transitioned. A repeat call
// finds nothing left to stamp and returns 0.
func MarkAllSeenFrom(senderID interface{}, callerID uint) (int64, error) {
	res := db.Model(&Message{}).
		Where("sender_id = ? AND recipient_id = ? AND seen_time IS NULL", senderID, callerID).
		Update("seen_time", time.Now())

	if res.Error != nil {
		return 0, res.Error
	}

	return res.RowsAffected, nil
}

// Conversation returns every message between the caller and the other
// user, oldest first, then stamps ReceivedTime on inbound messages that
// had not been delivered yet. The returned rows reflect the state before
// the stamp: the fetch that delivers a message still shows it
// undelivered.
func Conversation(callerID, otherID uint) ([]Message, error) {
	messages := []Message{}

	err := db.Where(
		"(sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)",
		callerID, otherID, otherID, callerID,
	).Order("sent_time asc").Find(&messages).Error
	if err != nil {
		return nil, err
	}

	err = db.Model(&Message{}).
		Where("sender_id = ? AND recipient_id = ? AND received_time IS NULL", otherID, callerID).
		Update("received_time", time.Now()).Error
	if err != nil {
		return nil, err
	}

	return messages, nil
}

// UnseenCount returns how many messages addressed to the caller have no
// SeenTime yet.
func UnseenCount(callerID uint) (int64, error) {
	var count int64

	err := db.Model(&Message{}).
		Where("recipient_id = ? AND seen_time IS NULL", callerID).
		Count(&count).Error
	if err != nil {
		return 0, err
	}

	return count, nil
}
