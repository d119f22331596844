package model

import (
	"time"

	"github.com/google/uuid"
)

// Session statuses. The session lifecycle is owned by the surrounding
// product; this core only advances in_progress -> finalized.
const (
	SessionInProgress = "in_progress"
	SessionFinalized  = "finalized"
)

// AssessmentSession is the external session record. Finalize updates its
// completion bookkeeping and share-token fields as a side effect but does not
// own the rest of its lifecycle.
type AssessmentSession struct {
	ID                  uuid.UUID  `json:"id"`
	Status              string     `json:"status"`
	CompletedQuestions  int        `json:"completed_questions"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	ShareToken          *string    `json:"share_token,omitempty"`
	ShareTokenExpiresAt *time.Time `json:"share_token_expires_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}
