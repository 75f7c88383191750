package events

import (
	"encoding/json"
	"errors"
	"time"
)

// ChangeMessage tells other clients of the same identity that its
// expenses changed. It carries no record data: receivers reload.
type ChangeMessage struct {
	Origin    string    `json:"origin"`
	Username  string    `json:"username"`
	ExpenseID string    `json:"expenseId,omitempty"`
	Operation string    `json:"operation"`
	Timestamp time.Time `json:"timestamp"`
}

func NewChangeMessage(origin, username, expenseID, op string) *ChangeMessage {
	return &ChangeMessage{
		Origin:    origin,
		Username:  username,
		ExpenseID: expenseID,
		Operation: op,
		Timestamp: time.Now().UTC(),
	}
}

func (m *ChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ChangeMessageFromJSON decodes and checks a message body.
func ChangeMessageFromJSON(data []byte) (*ChangeMessage, error) {
	var msg ChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Username == "" {
		return nil, errors.New("change message without username")
	}
	if msg.Operation == "" {
		return nil, errors.New("change message without operation")
	}
	return &msg, nil
}
