package domain

import "crypto/rand"

// RoomCodeAlphabet excludes visually confusable glyphs (0/O, 1/I).
const RoomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const RoomCodeLength = 6

// GenerateRoomCode returns a short human-typeable room identifier.
// Not globally unique; the registry retries on collision.
func GenerateRoomCode() string {
	buf := make([]byte, RoomCodeLength)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	for i, b := range buf {
		buf[i] = RoomCodeAlphabet[int(b)%len(RoomCodeAlphabet)]
	}
	return string(buf)
}
