package event

import (
	"testing"
	"time"
)

func TestDecode(t *testing.T) {
	env, err := Decode([]byte(`{"type":"submission_created","data":{"submission_id":42,"course_id":7,"student_name":"Ana"}}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if env.Type != TypeSubmissionCreated {
		t.Errorf("Type = %q, want submission_created", env.Type)
	}
	if env.EntityID() != 42 {
		t.Errorf("EntityID = %d, want 42", env.EntityID())
	}

	target, ok := env.TargetChannel()
	if !ok || target != 7 {
		t.Errorf("TargetChannel = %d, %v, want 7, true", target, ok)
	}
}

func TestDecode_UnknownTypeAccepted(t *testing.T) {
	env, err := Decode([]byte(`{"type":"course_archived","data":{"id":1}}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if env.Type.Domain() {
		t.Error("unknown type must not classify as domain")
	}
	if env.Type.Control() {
		t.Error("unknown type must not classify as control")
	}
}

func TestDecode_Malformed(t *testing.T) {
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Error("expected error for malformed frame")
	}
	if _, err := Decode([]byte(`{"data":{}}`)); err == nil {
		t.Error("expected error for missing type")
	}
}

func TestType_Classification(t *testing.T) {
	for _, tt := range []struct {
		typ     Type
		control bool
		domain  bool
	}{
		{TypeConnected, true, false},
		{TypePong, true, false},
		{TypeSubmissionCreated, false, true},
		{TypeExercisePublished, false, true},
		{TypeJoinRequest, false, true},
		{TypeEvaluationUpdated, false, true},
		{Type("mystery"), false, false},
	} {
		if got := tt.typ.Control(); got != tt.control {
			t.Errorf("%s.Control() = %v, want %v", tt.typ, got, tt.control)
		}
		if got := tt.typ.Domain(); got != tt.domain {
			t.Errorf("%s.Domain() = %v, want %v", tt.typ, got, tt.domain)
		}
	}
}

func TestType_TTL(t *testing.T) {
	if got := TypeExercisePublished.TTL(); got != 5*time.Second {
		t.Errorf("exercise TTL = %v, want 5s", got)
	}
	if got := TypeExerciseDeleted.TTL(); got != 5*time.Second {
		t.Errorf("exercise TTL = %v, want 5s", got)
	}
	if got := TypeSubmissionCreated.TTL(); got != 3*time.Second {
		t.Errorf("submission TTL = %v, want 3s", got)
	}
	if got := TypeObservationCreated.TTL(); got != 3*time.Second {
		t.Errorf("observation TTL = %v, want 3s", got)
	}
}

func TestEnvelope_EntityID_Fallbacks(t *testing.T) {
	// submission without submission_id falls back to course_exercise_id
	env, _ := Decode([]byte(`{"type":"submission_deleted","data":{"course_exercise_id":9,"course_id":1}}`))
	if env.EntityID() != 9 {
		t.Errorf("EntityID = %d, want 9", env.EntityID())
	}

	// exercise under the legacy "id" field name
	env, _ = Decode([]byte(`{"type":"exercise_published","data":{"id":13,"course_id":1}}`))
	if env.EntityID() != 13 {
		t.Errorf("EntityID = %d, want 13", env.EntityID())
	}
}

func TestEnvelope_Addressee(t *testing.T) {
	env, _ := Decode([]byte(`{"type":"submission_created","data":{"submission_id":1,"therapist_id":55}}`))
	id, ok := env.Addressee()
	if !ok || id != 55 {
		t.Errorf("Addressee = %d, %v, want 55, true", id, ok)
	}

	env, _ = Decode([]byte(`{"type":"exercise_published","data":{"exercise_id":1}}`))
	if _, ok := env.Addressee(); ok {
		t.Error("expected no addressee for exercise event")
	}
}

func TestEnvelope_ServerTimestamp(t *testing.T) {
	env, _ := Decode([]byte(`{"type":"submission_created","data":{"submission_id":1,"timestamp":1705320000}}`))
	ts, ok := env.ServerTimestamp()
	if !ok {
		t.Fatal("expected server timestamp")
	}
	if ts.Unix() != 1705320000 {
		t.Errorf("timestamp = %d, want 1705320000", ts.Unix())
	}

	env, _ = Decode([]byte(`{"type":"submission_created","data":{"submission_id":1}}`))
	if _, ok := env.ServerTimestamp(); ok {
		t.Error("expected no server timestamp")
	}
}

func TestEnvelope_Variants(t *testing.T) {
	env, _ := Decode([]byte(`{"type":"submission_created","data":{"submission_id":42,"student_name":"Ana","exercise_name":"Vocales","has_media":true,"therapist_id":3}}`))

	sub, err := env.Submission()
	if err != nil {
		t.Fatalf("Submission() failed: %v", err)
	}
	if sub.SubmissionID != 42 || sub.StudentName != "Ana" || !sub.HasMedia || sub.TherapistID != 3 {
		t.Errorf("unexpected payload: %+v", sub)
	}

	if _, err := env.Exercise(); err != ErrWrongType {
		t.Errorf("Exercise() on submission envelope = %v, want ErrWrongType", err)
	}

	ex, _ := Decode([]byte(`{"type":"exercise_published","data":{"exercise_id":5,"exercise_name":"Silabas","course_name":"Curso A"}}`))
	p, err := ex.Exercise()
	if err != nil {
		t.Fatalf("Exercise() failed: %v", err)
	}
	if p.EntityID() != 5 || p.DisplayName() != "Silabas" {
		t.Errorf("unexpected payload: %+v", p)
	}
}
