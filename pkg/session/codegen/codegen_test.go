package codegen_test

import (
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/a-essam23/pairpad/pkg/session"
	"github.com/a-essam23/pairpad/pkg/session/codegen"
)

func TestGenerateShape(t *testing.T) {
	gen, err := codegen.New(6, codegen.DefaultAlphabet)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	pattern := regexp.MustCompile(`^[A-HJ-NP-Z2-9]{6}$`)
	for i := 0; i < 500; i++ {
		code, err := gen.Generate(nil)
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("Expected length 6, got %d (%q)", len(code), code)
		}
		if !pattern.MatchString(code) {
			t.Fatalf("Code %q contains characters outside the alphabet", code)
		}
	}
}

func TestGenerateCustomAlphabet(t *testing.T) {
	gen, err := codegen.New(4, "AB")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	code, err := gen.Generate(nil)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	for _, c := range code {
		if !strings.ContainsRune("AB", c) {
			t.Errorf("Code %q drew %q outside the alphabet", code, c)
		}
	}
}

func TestGenerateAvoidsTakenCodes(t *testing.T) {
	gen, err := codegen.New(6, codegen.DefaultAlphabet)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	taken := map[string]bool{}
	for i := 0; i < 100; i++ {
		code, err := gen.Generate(func(c string) bool { return taken[c] })
		if err != nil {
			t.Fatalf("Generate failed on iteration %d: %v", i, err)
		}
		if taken[code] {
			t.Fatalf("Generate returned an already-taken code %q", code)
		}
		taken[code] = true
	}
}

func TestGenerateExhaustion(t *testing.T) {
	gen, err := codegen.New(6, codegen.DefaultAlphabet)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	attempts := 0
	_, err = gen.Generate(func(string) bool {
		attempts++
		return true // everything collides
	})
	if !errors.Is(err, session.ErrGenerationExhausted) {
		t.Fatalf("Expected ErrGenerationExhausted, got %v", err)
	}
	if attempts != 100 {
		t.Errorf("Expected exactly 100 attempts, got %d", attempts)
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := codegen.New(0, codegen.DefaultAlphabet); err == nil {
		t.Error("Expected error for zero length")
	}
	if _, err := codegen.New(6, "A"); err == nil {
		t.Error("Expected error for single-character alphabet")
	}
}
