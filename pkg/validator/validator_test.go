package validator

import (
	"testing"

	"github.com/go-playground/validator/v10"
)

type testRecord struct {
	Message   string  `json:"message" validate:"required"`
	Kind      string  `json:"kind" validate:"oneof=note list blog"`
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

func TestValidateStructSuccess(t *testing.T) {
	payload := testRecord{
		Message:   "hello",
		Kind:      "note",
		Latitude:  51.5,
		Longitude: -0.12,
	}

	if err := ValidateStruct(payload); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateStructFailures(t *testing.T) {
	payload := testRecord{
		Message:   "",
		Kind:      "invalid",
		Latitude:  120,
		Longitude: 0,
	}

	err := ValidateStruct(payload)
	if err == nil {
		t.Fatal("expected validation error")
	}

	vErrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}

	if len(vErrs) != 3 {
		t.Fatalf("expected 3 validation errors, got %d", len(vErrs))
	}

	foundLatitude := false
	for _, v := range vErrs {
		if v.Field == "latitude" {
			foundLatitude = true
		}
	}

	if !foundLatitude {
		t.Fatal("expected latitude field to be present in validation errors")
	}
}

func TestHatDomainRule(t *testing.T) {
	valid := []string{"alice.hubofallthings.net", "bob.hat.direct", "localhost:9000"}
	for _, domain := range valid {
		if err := ValidateVar(domain, "required,hatdomain"); err != nil {
			t.Fatalf("expected %q to be valid, got %v", domain, err)
		}
	}

	invalid := []string{"", "https://alice.hubofallthings.net", "alice hub", "alice.hubofallthings.net/path"}
	for _, domain := range invalid {
		if err := ValidateVar(domain, "required,hatdomain"); err == nil {
			t.Fatalf("expected %q to be rejected", domain)
		}
	}
}

func TestHatNameRule(t *testing.T) {
	if err := ValidateVar("notablesv1", "hatname"); err != nil {
		t.Fatalf("expected table name to be valid, got %v", err)
	}
	if err := ValidateVar("../etc", "hatname"); err == nil {
		t.Fatal("expected path traversal name to be rejected")
	}
}

func TestRegisterValidation(t *testing.T) {
	err := RegisterValidation("hatsync", func(fl validator.FieldLevel) bool {
		return fl.Field().String() == "hatsync"
	})
	if err != nil {
		t.Fatalf("register validation: %v", err)
	}

	type custom struct {
		Value string `validate:"hatsync"`
	}

	if err := ValidateStruct(custom{Value: "hatsync"}); err != nil {
		t.Fatalf("expected validation to pass, got %v", err)
	}
	if err := ValidateStruct(custom{Value: "other"}); err == nil {
		t.Fatal("expected validation to fail for non-matching value")
	}
}
