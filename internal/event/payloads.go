package event

import "encoding/json"

// Typed payload variants. Each accessor checks the envelope type first so
// sinks never have to guess which fields are present.

// ExercisePayload is the data behind exercise_published / exercise_deleted.
type ExercisePayload struct {
	ExerciseID    int64  `json:"exercise_id"`
	ID            int64  `json:"id"` // legacy field name, same entity
	CourseID      int64  `json:"course_id"`
	ExerciseName  string `json:"exercise_name"`
	Name          string `json:"name"` // legacy field name
	CourseName    string `json:"course_name"`
	TherapistName string `json:"therapist_name"`
	Timestamp     int64  `json:"timestamp"`
}

// EntityID returns the exercise id, preferring the modern field.
func (p ExercisePayload) EntityID() int64 {
	if p.ExerciseID != 0 {
		return p.ExerciseID
	}
	return p.ID
}

// DisplayName returns the exercise name, preferring the modern field.
func (p ExercisePayload) DisplayName() string {
	if p.ExerciseName != "" {
		return p.ExerciseName
	}
	return p.Name
}

// SubmissionPayload is the data behind the submission_* types.
type SubmissionPayload struct {
	SubmissionID     int64  `json:"submission_id"`
	CourseID         int64  `json:"course_id"`
	CourseExerciseID int64  `json:"course_exercise_id"`
	StudentID        int64  `json:"student_id"`
	StudentName      string `json:"student_name"`
	ExerciseName     string `json:"exercise_name"`
	TherapistID      int64  `json:"therapist_id"`
	HasMedia         bool   `json:"has_media"`
	Timestamp        int64  `json:"timestamp"`
}

// RosterPayload is the data behind student_joined / student_removed /
// join_request.
type RosterPayload struct {
	StudentID   int64  `json:"student_id"`
	StudentName string `json:"student_name"`
	CourseID    int64  `json:"course_id"`
	RequestID   int64  `json:"request_id"`
	Timestamp   int64  `json:"timestamp"`
}

// ObservationPayload is the data behind observation_created.
type ObservationPayload struct {
	ObservationID int64 `json:"observation_id"`
	SubmissionID  int64 `json:"submission_id"`
	CourseID      int64 `json:"course_id"`
	TherapistID   int64 `json:"therapist_id"`
	Timestamp     int64 `json:"timestamp"`
}

// EvaluationPayload is the data behind evaluation_created /
// evaluation_updated.
type EvaluationPayload struct {
	EvaluationID int64 `json:"evaluation_id"`
	SubmissionID int64 `json:"submission_id"`
	CourseID     int64 `json:"course_id"`
	StudentID    int64 `json:"student_id"`
	TherapistID  int64 `json:"therapist_id"`
	Timestamp    int64 `json:"timestamp"`
}

// Exercise decodes the exercise variant.
func (e Envelope) Exercise() (ExercisePayload, error) {
	var p ExercisePayload
	if e.Type != TypeExercisePublished && e.Type != TypeExerciseDeleted {
		return p, ErrWrongType
	}
	err := json.Unmarshal(e.Data, &p)
	return p, err
}

// Submission decodes the submission variant.
func (e Envelope) Submission() (SubmissionPayload, error) {
	var p SubmissionPayload
	switch e.Type {
	case TypeSubmissionCreated, TypeSubmissionUpdated, TypeSubmissionDeleted:
	default:
		return p, ErrWrongType
	}
	err := json.Unmarshal(e.Data, &p)
	return p, err
}

// Roster decodes the roster variant.
func (e Envelope) Roster() (RosterPayload, error) {
	var p RosterPayload
	switch e.Type {
	case TypeStudentJoined, TypeStudentRemoved, TypeJoinRequest:
	default:
		return p, ErrWrongType
	}
	err := json.Unmarshal(e.Data, &p)
	return p, err
}

// Observation decodes the observation variant.
func (e Envelope) Observation() (ObservationPayload, error) {
	var p ObservationPayload
	if e.Type != TypeObservationCreated {
		return p, ErrWrongType
	}
	err := json.Unmarshal(e.Data, &p)
	return p, err
}

// Evaluation decodes the evaluation variant.
func (e Envelope) Evaluation() (EvaluationPayload, error) {
	var p EvaluationPayload
	if e.Type != TypeEvaluationCreated && e.Type != TypeEvaluationUpdated {
		return p, ErrWrongType
	}
	err := json.Unmarshal(e.Data, &p)
	return p, err
}
