package booking

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"
	"time"
)

const (
	confirmationSuffixLen = 4
	base36Alphabet        = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// ConfirmationGenerator produces a new candidate confirmation number.
type ConfirmationGenerator func() string

// NewConfirmationNumber returns base36(now in ns) followed by four random base36
// characters, upper-cased. Uniqueness is enforced by the store, not here.
func NewConfirmationNumber(now time.Time) string {
	var sb strings.Builder
	sb.WriteString(strconv.FormatInt(now.UnixNano(), 36))
	max := big.NewInt(int64(len(base36Alphabet)))
	for i := 0; i < confirmationSuffixLen; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			n = big.NewInt(time.Now().UnixNano() % int64(len(base36Alphabet)))
		}
		sb.WriteByte(base36Alphabet[n.Int64()])
	}
	return strings.ToUpper(sb.String())
}

// DefaultConfirmationGenerator uses the wall clock.
func DefaultConfirmationGenerator() string {
	return NewConfirmationNumber(time.Now())
}

// ValidConfirmationNumber reports whether s has the shape NewConfirmationNumber produces.
func ValidConfirmationNumber(s string) bool {
	if len(s) <= confirmationSuffixLen {
		return false
	}
	for _, r := range s {
		if !(r >= '0' && r <= '9') && !(r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return true
}
