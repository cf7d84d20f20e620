package service

import (
	"strconv"
	"testing"
)

func TestGenerateCode(t *testing.T) {
	for i := 0; i < 1000; i++ {
		code, err := GenerateCode()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ValidCode(code) {
			t.Fatalf("generated invalid code %q", code)
		}
		n, _ := strconv.Atoi(code)
		if n < minShareCode || n > maxShareCode {
			t.Fatalf("code %d out of range", n)
		}
	}
}

func TestValidCode(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"10000", true},
		{"54321", true},
		{"99999", true},
		{"09999", false},
		{"1234", false},
		{"123456", false},
		{"12a45", false},
		{"", false},
		{" 1234", false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := ValidCode(tt.code); got != tt.want {
				t.Errorf("ValidCode(%q) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{ErrFileTooLarge, "validation"},
		{ErrNotFound, "not_found"},
		{ErrExpired, "expired"},
		{ErrPasswordRequired, "password_required"},
		{ErrInvalidPassword, "invalid_password"},
		{ErrDecryption, "decryption"},
		{backendErr("op", errBoom), "storage"},
		{errBoom, "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := Kind(tt.err); got != tt.want {
				t.Errorf("Kind(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
