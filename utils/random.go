package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// GenerateCode returns n random bytes as upper-case hex.
func GenerateCode(n int) (string, error) {
	byt := make([]byte, n)
	if _, err := rand.Read(byt); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(byt)), nil
}

// InstanceID names one running client, e.g. "user-7-9F2C01AB". Push
// backends use it to tell two sessions of the same user apart.
func InstanceID(prefix string) string {
	code, err := GenerateCode(4)
	if err != nil {
		return prefix
	}
	return prefix + "-" + code
}
