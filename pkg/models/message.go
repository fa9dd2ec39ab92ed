package models

import "time"

// Message represents one ingested email message
type Message struct {
	ID         string    `db:"id" json:"id"`                   // UUID assigned at ingestion
	Account    string    `db:"account" json:"account"`         // Owning mailbox address
	Subject    string    `db:"subject" json:"subject"`         // Email subject
	FromAddr   string    `db:"from_addr" json:"from"`          // Sender address
	ToAddr     string    `db:"to_addr" json:"to"`              // Envelope recipient, may be empty
	BodyText   string    `db:"body_text" json:"body"`          // Plain text body
	UID        uint32    `db:"uid" json:"uid"`                 // IMAP UID within the mailbox
	ReceivedAt time.Time `db:"received_at" json:"received_at"` // Date reported by the mail server
	CreatedAt  time.Time `db:"created_at" json:"ingested_at"`  // When the row was created
}
