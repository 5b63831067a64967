package service

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

const (
	challengeMin    = 1000
	challengeMax    = 9999
	confirmationMin = 100000
	confirmationMax = 999999
)

// randomCode returns a uniformly distributed decimal code in [min,max].
func randomCode(min, max int64) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(max-min+1))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return strconv.FormatInt(n.Int64()+min, 10), nil
}

func newChallengeCode() (string, error) { return randomCode(challengeMin, challengeMax) }

func newConfirmationCode() (string, error) { return randomCode(confirmationMin, confirmationMax) }

// digitsOnly strips everything but 0-9, so transcripts like "4 2 1 7" compare equal to "4217".
func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

func codesEqual(want, got string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(digitsOnly(got))) == 1
}
