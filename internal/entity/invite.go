package domain

import (
	"crypto/rand"
	"time"
)

// codeAlphabet is uppercase alphanumeric with no lookalikes so codes stay
// easy to read off a phone screen.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const InviteCodeLength = 6

// NewInviteCode returns a short shareable code. Collisions among active
// sessions are possible in principle; the store's unique constraint catches
// them and the caller regenerates.
func NewInviteCode() string {
	return randomCode(InviteCodeLength)
}

func randomCode(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the platform entropy source is broken.
		panic(err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf)
}

// newOrderNumber builds the human-readable order reference stamped on
// submission, e.g. GO-20260823-K7Q2.
func newOrderNumber(now time.Time) string {
	return "GO-" + now.UTC().Format("20060102") + "-" + randomCode(4)
}
