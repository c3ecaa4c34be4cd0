// Package queue implements the durable, idempotent job store that executes
// planned steps. Jobs are persisted through the store.KV contract, deduped
// on an idempotency key, retried with exponential backoff, and moved to a
// dead-letter state when their retry budget is exhausted.
package queue

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"
)

// Status is the lifecycle state of a queue job.
type Status string

const (
	// StatusPending jobs are waiting for a worker.
	StatusPending Status = "pending"

	// StatusRunning jobs are held by a worker.
	StatusRunning Status = "running"

	// StatusSucceeded jobs were acked.
	StatusSucceeded Status = "succeeded"

	// StatusFailed jobs failed an attempt and are awaiting their next one.
	StatusFailed Status = "failed"

	// StatusDeadLettered jobs exhausted their retry budget or were
	// drained by a cancellation; they never run again.
	StatusDeadLettered Status = "dead_lettered"
)

// Terminal reports whether a status is terminal.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusDeadLettered
}

// Job is one durable unit of work.
type Job struct {
	ID             string    `json:"id"`
	PlanID         string    `json:"plan_id"`
	Step           int       `json:"step"`
	IdempotencyKey string    `json:"idempotency_key"`
	Payload        []byte    `json:"payload,omitempty"`
	Status         Status    `json:"status"`
	Retries        int       `json:"retries"`
	NextAttemptAt  time.Time `json:"next_attempt_at"`
	LastError      string    `json:"last_error,omitempty"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// AttemptID identifies one attempt of a job for outcome deduplication:
// a redelivered attempt shares its AttemptID, a fresh retry gets a new one.
func (j *Job) AttemptID() string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(j.Retries))
	return j.ID + "." + hex.EncodeToString(buf[4:])
}

// IdempotencyKey derives the deterministic identity of a step execution
// from the plan, step number, and payload. Enqueuing the same identity
// twice yields the same job.
func IdempotencyKey(planID string, step int, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(planID))
	h.Write([]byte{0})
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(step))
	h.Write(buf[:])
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
