package utils

import (
	rndm "math/rand"
	"time"
)

var digitRunes = []rune("0123456789")

// GenerateRandomDigitString creates a random numeric string of length n.
func GenerateRandomDigitString(n int) string {
	b := make([]rune, n)
	for i := range b {
		b[i] = digitRunes[rndm.Intn(len(digitRunes))]
	}
	return string(b)
}

// HumanID builds a readable external id such as COL-20240101-123456.
func HumanID(prefix string, at time.Time) string {
	return prefix + "-" + at.UTC().Format("20060102") + "-" + GenerateRandomDigitString(6)
}
