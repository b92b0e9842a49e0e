package models

import (
	"sort"
	"time"
)

// UnseenSenderSummary is one row of the unseen-persons view: a sender
// with at least one unseen message to the caller, joined with the
// sender's identity.
type UnseenSenderSummary struct {
	SenderID          uint      `json:"id"`
	Name              string    `json:"name"`
	PhoneNumber       string    `json:"phoneNumber"`
	Role              string    `json:"role"`
	UnseenCount       int64     `json:"unseenCount"`
	LatestMessage     string    `json:"latestMessage"`
	LatestMessageTime time.Time `json:"latestMessageTime"`
}

// UnseenSenderSummaries groups the caller's unseen messages by sender,
// joins each group with the sender record, and orders the result by the
// most recent message per sender, newest first. Groups whose sender no
// longer exists are dropped.
func UnseenSenderSummaries(callerID uint) ([]UnseenSenderSummary, error) {
	messages := []Message{}
	err := db.Where("recipient_id = ? AND seen_time IS NULL", callerID).
		Order("id asc").Find(&messages).Error
	if err != nil {
		return nil, err
	}

	senderIDs := []uint{}
	for _, message := range messages {
		senderIDs = append(senderIDs, message.SenderID)
	}

	senders := []User{}
	if len(senderIDs) > 0 {
		err = db.Select(allFieldsExceptPassword).Where("id IN ?", senderIDs).Find(&senders).Error
		if err != nil {
			return nil, err
		}
	}

	return summarizeUnseen(messages, senders), nil
}

// summarizeUnseen is the in-memory groupby + join behind
// UnseenSenderSummaries. Messages must be in insertion order:
// LatestMessage is the content of the last matched message per sender,
// while LatestMessageTime is the max SentTime over the same group.
func summarizeUnseen(messages []Message, senders []User) []UnseenSenderSummary {
	sendersByID := map[uint]User{}
	for _, sender := range senders {
		sendersByID[sender.ID] = sender
	}

	groups := map[uint]*UnseenSenderSummary{}
	order := []uint{}

	for _, message := range messages {
		group, ok := groups[message.SenderID]
		if !ok {
			group = &UnseenSenderSummary{SenderID: message.SenderID}
			groups[message.SenderID] = group
			order = append(order, message.SenderID)
		}

		group.UnseenCount++
		group.LatestMessage = message.Content
		if message.SentTime.After(group.LatestMessageTime) {
			group.LatestMessageTime = message.SentTime
		}
	}

	summaries := []UnseenSenderSummary{}
	for _, senderID := range order {
		sender, ok := sendersByID[senderID]
		if !ok {
			// orphaned reference, drop the group
			continue
		}

		group := groups[senderID]
		group.Name = sender.Name
		group.PhoneNumber = sender.PhoneNumber
		group.Role = sender.Role
		summaries = append(summaries, *group)
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].LatestMessageTime.After(summaries[j].LatestMessageTime)
	})

	return summaries
}
