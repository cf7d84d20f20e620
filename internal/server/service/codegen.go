package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
)

const (
	minShareCode = 10000
	maxShareCode = 99999
)

// GenerateCode draws a share code uniformly from [10000, 99999].
// Uniqueness is checked by the caller.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(maxShareCode-minShareCode+1))
	if err != nil {
		return "", fmt.Errorf("crypto/rand failure: %w", err)
	}
	return strconv.FormatInt(n.Int64()+minShareCode, 10), nil
}

// ValidCode reports whether s is a well-formed share code.
func ValidCode(s string) bool {
	if len(s) != 5 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s[0] != '0'
}
