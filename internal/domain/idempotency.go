package domain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"
)

// Idempotency remembers the answer produced for one client-supplied key, so
// a retried submission replays it instead of spending another question.
// RequestHash fingerprints the original request; the same key carrying a
// different request is refused rather than replayed. A record with no
// MessageID is a claim held by a submission that has not finished yet.
type Idempotency struct {
	ID             string    `gorm:"type:char(36);primaryKey"`
	AccountID      string    `gorm:"type:varchar(128);not null;uniqueIndex:ux_idem_account_scope_key,priority:1"`
	Scope          string    `gorm:"type:varchar(32);not null;uniqueIndex:ux_idem_account_scope_key,priority:2"`
	Key            string    `gorm:"type:varchar(128);not null;uniqueIndex:ux_idem_account_scope_key,priority:3"`
	RequestHash    string    `gorm:"type:char(64);not null"`
	ConversationID string    `gorm:"type:char(36);not null"`
	MessageID      string    `gorm:"type:char(36);not null"`
	CreatedAt      time.Time `gorm:"not null"`
	ExpiresAt      time.Time `gorm:"not null;index"`
}

// TableName returns the database table name for Idempotency.
func (Idempotency) TableName() string { return "idempotency" }

// Live reports whether the record can still be replayed at now.
func (r Idempotency) Live(now time.Time) bool { return now.Before(r.ExpiresAt) }

// Pending reports whether the record is a claim whose answer is still being
// produced.
func (r Idempotency) Pending() bool { return r.MessageID == "" }

// HashRequest fingerprints the request parts. Parts are length-prefixed so
// ("ab","c") and ("a","bc") differ.
func HashRequest(parts ...string) string {
	h := sha256.New()
	var n [8]byte
	for _, p := range parts {
		binary.LittleEndian.PutUint64(n[:], uint64(len(p)))
		h.Write(n[:])
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
