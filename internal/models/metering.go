package models

import "time"

type MeteringAccount struct {
	OwnerID   string
	Consumed  int
	Limit     int
	UpdatedAt time.Time
}

func (a MeteringAccount) Remaining() int {
	if r := a.Limit - a.Consumed; r > 0 {
		return r
	}
	return 0
}

type TransactionType string

const (
	TxTypeUpload TransactionType = "upload"
	TxTypeFix    TransactionType = "fix"
)

// MeteringTransaction is an append-only audit entry per reservation.
type MeteringTransaction struct {
	ID           string
	OwnerID      string
	Type         TransactionType
	Amount       int
	ResourceRef  string
	BalanceAfter int
	CreatedAt    time.Time
}

// PolicyStrike records a moderation rejection against an account.
type PolicyStrike struct {
	ID        string
	OwnerID   string
	FixID     *string
	Category  string
	CreatedAt time.Time
}
