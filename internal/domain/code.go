package domain

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const (
	RoomCodeLength   = 6
	roomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// GenerateRoomCode returns a short code that is easy to type on a phone.
func GenerateRoomCode() (string, error) {
	var b strings.Builder
	size := big.NewInt(int64(len(roomCodeAlphabet)))
	for range RoomCodeLength {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		b.WriteByte(roomCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeRoomCode upper-cases user input before lookup.
func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func ValidRoomCode(code string) bool {
	if len(code) != RoomCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(roomCodeAlphabet, rune(code[i])) {
			return false
		}
	}
	return true
}
