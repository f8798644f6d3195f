// Package notification keeps the client's view of the user's notifications and
// the unread badge consistent with it.
package notification

import (
	"encoding/json"
	"time"
)

// Type is the kind of activity a notification reports.
type Type string

// Notification types. The set is closed; anything else decodes as TypeUnknown.
const (
	TypeFriendRequest   Type = "friend_request"
	TypeFriendAccepted  Type = "friend_accepted"
	TypeLike            Type = "like"
	TypeComment         Type = "comment"
	TypeMention         Type = "mention"
	TypeCheckIn         Type = "check_in"
	TypePaymentReceived Type = "payment_received"
	TypePaymentSent     Type = "payment_sent"
	TypeReward          Type = "reward"
	TypeMessage         Type = "message"
	TypeUnknown         Type = "unknown"
)

var knownTypes = map[Type]bool{
	TypeFriendRequest:   true,
	TypeFriendAccepted:  true,
	TypeLike:            true,
	TypeComment:         true,
	TypeMention:         true,
	TypeCheckIn:         true,
	TypePaymentReceived: true,
	TypePaymentSent:     true,
	TypeReward:          true,
	TypeMessage:         true,
}

// UnmarshalText maps unrecognised types to TypeUnknown instead of failing,
// so one odd record does not break the whole list.
func (t *Type) UnmarshalText(b []byte) error {
	v := Type(b)
	if !knownTypes[v] {
		v = TypeUnknown
	}
	*t = v
	return nil
}

// Notification is one activity record owned by the backend.
type Notification struct {
	ID            string    `json:"id"`
	ActorID       string    `json:"actorId"`
	Type          Type      `json:"type"`
	Content       string    `json:"content"`
	RelatedPostID *string   `json:"relatedPostId,omitempty"`
	Read          bool      `json:"read"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Decode parses a notification pushed over the realtime channel.
func Decode(data []byte) (Notification, error) {
	var n Notification
	err := json.Unmarshal(data, &n)
	return n, err
}
