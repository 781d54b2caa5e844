package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type identifies an envelope on the wire.
type Type string

// Control types, consumed by the client itself.
const (
	TypeConnected Type = "connected" // connection ack, sent once after dial
	TypePong      Type = "pong"      // heartbeat ack, not specially handled
)

// Domain types, delivered to sinks.
const (
	TypeExercisePublished  Type = "exercise_published"
	TypeExerciseDeleted    Type = "exercise_deleted"
	TypeSubmissionCreated  Type = "submission_created"
	TypeSubmissionUpdated  Type = "submission_updated"
	TypeSubmissionDeleted  Type = "submission_deleted"
	TypeStudentJoined      Type = "student_joined"
	TypeStudentRemoved     Type = "student_removed"
	TypeJoinRequest        Type = "join_request"
	TypeObservationCreated Type = "observation_created"
	TypeEvaluationCreated  Type = "evaluation_created"
	TypeEvaluationUpdated  Type = "evaluation_updated"
)

// Dedup windows per type family. Multiple server-side paths can emit the
// same notification within a short burst; the window only needs to absorb
// that burst, not provide long-term idempotence.
const (
	exerciseTTL   = 5 * time.Second
	submissionTTL = 3 * time.Second
)

// DomainTypes lists every type the router delivers to sinks.
var DomainTypes = []Type{
	TypeExercisePublished,
	TypeExerciseDeleted,
	TypeSubmissionCreated,
	TypeSubmissionUpdated,
	TypeSubmissionDeleted,
	TypeStudentJoined,
	TypeStudentRemoved,
	TypeJoinRequest,
	TypeObservationCreated,
	TypeEvaluationCreated,
	TypeEvaluationUpdated,
}

// SubmissionTypes lists the submission-family types (therapist-facing).
var SubmissionTypes = []Type{
	TypeSubmissionCreated,
	TypeSubmissionUpdated,
	TypeSubmissionDeleted,
}

// ExerciseTypes lists the exercise-family types (student-facing).
var ExerciseTypes = []Type{
	TypeExercisePublished,
	TypeExerciseDeleted,
}

// Control reports whether t is consumed internally and never reaches sinks.
func (t Type) Control() bool {
	return t == TypeConnected || t == TypePong
}

// Domain reports whether t is one of the enumerated domain types.
func (t Type) Domain() bool {
	for _, d := range DomainTypes {
		if t == d {
			return true
		}
	}
	return false
}

// TTL returns the dedup window for this type.
func (t Type) TTL() time.Duration {
	switch t {
	case TypeExercisePublished, TypeExerciseDeleted:
		return exerciseTTL
	default:
		return submissionTTL
	}
}

// Envelope is the unit of transport: a typed message plus an opaque,
// type-specific payload. Produced by the backend; read-only here.
type Envelope struct {
	Type    Type            `json:"type"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ErrWrongType is returned by variant accessors when the envelope carries a
// different type than the one requested.
var ErrWrongType = errors.New("envelope has different type")

// Decode parses a raw frame into an Envelope. The type may be unknown;
// callers filter with Type.Domain.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, errors.New("decode envelope: missing type")
	}
	return env, nil
}

// meta carries the id-bearing fields common to all payloads. Only the fields
// a given type actually sends are populated; the rest stay zero.
type meta struct {
	CourseID         int64 `json:"course_id"`
	TherapistID      int64 `json:"therapist_id"`
	ExerciseID       int64 `json:"exercise_id"`
	ID               int64 `json:"id"`
	CourseExerciseID int64 `json:"course_exercise_id"`
	SubmissionID     int64 `json:"submission_id"`
	StudentID        int64 `json:"student_id"`
	RequestID        int64 `json:"request_id"`
	ObservationID    int64 `json:"observation_id"`
	EvaluationID     int64 `json:"evaluation_id"`
	Timestamp        int64 `json:"timestamp"`
}

func (e Envelope) meta() meta {
	var m meta
	if len(e.Data) > 0 {
		// Best effort: a payload that doesn't decode yields zero ids,
		// which downstream treats as "not present".
		_ = json.Unmarshal(e.Data, &m)
	}
	return m
}

// EntityID returns the id of the entity this envelope is about, used as the
// dedup key component. Zero means the payload carried no usable id.
func (e Envelope) EntityID() int64 {
	m := e.meta()
	switch e.Type {
	case TypeExercisePublished, TypeExerciseDeleted:
		if m.ExerciseID != 0 {
			return m.ExerciseID
		}
		return m.ID
	case TypeSubmissionCreated, TypeSubmissionUpdated, TypeSubmissionDeleted:
		if m.SubmissionID != 0 {
			return m.SubmissionID
		}
		return m.CourseExerciseID
	case TypeStudentJoined, TypeStudentRemoved:
		return m.StudentID
	case TypeJoinRequest:
		if m.RequestID != 0 {
			return m.RequestID
		}
		return m.StudentID
	case TypeObservationCreated:
		return m.ObservationID
	case TypeEvaluationCreated, TypeEvaluationUpdated:
		return m.EvaluationID
	default:
		return m.ID
	}
}

// TargetChannel returns the channel id the payload names, if any. The router
// drops envelopes whose target differs from the connection's own channel.
func (e Envelope) TargetChannel() (int64, bool) {
	m := e.meta()
	return m.CourseID, m.CourseID != 0
}

// Addressee returns the user id the envelope is scoped to, if any.
// Submission-family events are addressed to the course's therapist.
func (e Envelope) Addressee() (int64, bool) {
	m := e.meta()
	return m.TherapistID, m.TherapistID != 0
}

// ServerTimestamp returns the backend's emit time when the payload carries
// one. Absence is normal; the dedup key then falls back to a fixed token so
// duplicates without timestamps still collapse.
func (e Envelope) ServerTimestamp() (time.Time, bool) {
	m := e.meta()
	if m.Timestamp == 0 {
		return time.Time{}, false
	}
	return time.Unix(m.Timestamp, 0), true
}
