package handler

import "testing"

func TestSchemaValidateRequiredField(t *testing.T) {
	s := Schema{Fields: []Field{{Name: "workerId", Type: TypeString, Required: true}}}

	if err := s.Validate(map[string]interface{}{}); err == nil {
		t.Fatal("expected an error for a missing required field")
	}
	if err := s.Validate(map[string]interface{}{"workerId": "w-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSchemaValidateOptionalFieldAbsent(t *testing.T) {
	s := Schema{Fields: []Field{{Name: "priority", Type: TypeInt}}}
	if err := s.Validate(map[string]interface{}{}); err != nil {
		t.Fatalf("optional field absent should not error: %v", err)
	}
}

func TestSchemaValidateWrongType(t *testing.T) {
	s := Schema{Fields: []Field{{Name: "priority", Type: TypeInt}}}
	if err := s.Validate(map[string]interface{}{"priority": "fifty"}); err == nil {
		t.Fatal("expected a type mismatch error")
	}
}

func TestSchemaValidateIntAcceptsNumericKinds(t *testing.T) {
	s := Schema{Fields: []Field{{Name: "priority", Type: TypeInt}}}
	for _, v := range []interface{}{50, int64(50), float64(50)} {
		if err := s.Validate(map[string]interface{}{"priority": v}); err != nil {
			t.Errorf("priority=%v (%T) should validate as TypeInt: %v", v, v, err)
		}
	}
}

func TestSchemaValidateNilValuePassesEvenIfRequired(t *testing.T) {
	// A present-but-nil field is treated as absent-of-type-check (the
	// Required gate already passed since the key is present).
	s := Schema{Fields: []Field{{Name: "metadata", Type: TypeObject, Required: true}}}
	if err := s.Validate(map[string]interface{}{"metadata": nil}); err != nil {
		t.Fatalf("nil value should skip type check: %v", err)
	}
}
