package auth

import (
	"strings"
	"unicode"

	"github.com/nbutton23/zxcvbn-go"

	"github.com/Hussein-Mazeh/passvault/krypto"
)

// MinPasswordLength is the shortest master password accepted, in characters.
const MinPasswordLength = 6

const specialChars = "!\"#$%&'()*+,-./:;<=>?@[\\]^_{|}~`"

// ValidateMasterPassword applies the master password policy requirements.
func ValidateMasterPassword(pw krypto.Secret) error {
	if pw.RuneCount() < MinPasswordLength {
		return ErrPasswordTooWeak
	}
	return nil
}

// Strength is a local, offline estimate of how guessable a password is.
type Strength struct {
	Score     int // 0 (trivial) to 4 (strong)
	Entropy   float64
	CrackTime string
	Hints     []string
}

// EstimateStrength scores pw with zxcvbn. userInputs are words the estimator
// should treat as already known to an attacker, such as service names.
// The result is advisory only; enrollment is gated by ValidateMasterPassword.
func EstimateStrength(pw string, userInputs ...string) Strength {
	m := zxcvbn.PasswordStrength(pw, userInputs)

	s := Strength{
		Score:     m.Score,
		Entropy:   m.Entropy,
		CrackTime: m.CrackTimeDisplay,
	}
	if len([]rune(pw)) < 12 {
		s.Hints = append(s.Hints, "use at least 12 characters")
	}
	if !hasUpper(pw) {
		s.Hints = append(s.Hints, "add an uppercase letter")
	}
	if !hasDigit(pw) {
		s.Hints = append(s.Hints, "add a digit")
	}
	if !hasSpecial(pw) {
		s.Hints = append(s.Hints, "add a special character")
	}
	return s
}

func hasUpper(s string) bool {
	for _, r := range s {
		if unicode.IsUpper(r) {
			return true
		}
	}
	return false
}

func hasDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func hasSpecial(s string) bool {
	for _, r := range s {
		if strings.ContainsRune(specialChars, r) {
			return true
		}
	}
	return false
}
