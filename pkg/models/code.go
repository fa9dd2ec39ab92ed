package models

import "time"

// Code represents one verification code extracted from a message
type Code struct {
	ID        int64     `db:"id" json:"id"`
	MessageID string    `db:"message_id" json:"message_id"` // FK to Message
	Code      string    `db:"code" json:"code"`             // 4-8 digit value
	Consumed  bool      `db:"consumed" json:"consumed"`     // Never reverts once set
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// DispensedCode is a consumed code joined with its source message,
// as returned by the consume-on-read queries.
type DispensedCode struct {
	Code
	FromAddr   string    `db:"from_addr" json:"from"`
	ToAddr     string    `db:"to_addr" json:"to"`
	Subject    string    `db:"subject" json:"subject"`
	ReceivedAt time.Time `db:"received_at" json:"received_at"`
}
