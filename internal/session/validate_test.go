package session

import (
	"errors"
	"strings"
	"testing"

	"github.com/matheus3301/gram/internal/errs"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "main", false},
		{"digits", "work123", false},
		{"hyphen", "my-session", false},
		{"underscore", "my_session", false},
		{"max length", strings.Repeat("a", 64), false},
		{"empty", "", true},
		{"uppercase", "Main", true},
		{"dot", "my.session", true},
		{"too long", strings.Repeat("a", 65), true},
		{"slash", "my/session", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, errs.ErrInvalidArgument) {
				t.Errorf("ValidateName(%q) error %v is not invalid argument", tt.input, err)
			}
		})
	}
}

func TestValidateUserID(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"u1", false},
		{"alice@example.com", false},
		{"6f1c2a40-8d0e-4f57-9c3e-0a4b1d2e3f50", false},
		{"", true},
		{"two words", true},
		{"a/b", true},
		{strings.Repeat("x", 129), true},
	}
	for _, tt := range tests {
		err := ValidateUserID(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateUserID(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
	}
}
