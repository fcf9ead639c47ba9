package domain

import "time"

// IdempotencyLog is the durable record of a mutation's response, keyed by
// the client reference. It is written inside the same unit of work as the
// mutation so a replayed request observes either the full effect or none.
type IdempotencyLog struct {
	Key           string    `json:"key"`
	TransactionID int64     `json:"transaction_id"`
	ResponseJSON  []byte    `json:"response_json"`
	CreatedAt     time.Time `json:"created_at"`
}
