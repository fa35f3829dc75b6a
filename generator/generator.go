package generator

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Hussein-Mazeh/passvault/krypto"
)

const (
	// MinLength is the shortest password Generate produces.
	MinLength = 4
	// MaxLength is the longest password Generate produces.
	MaxLength = 128
	// DefaultLength matches the interactive default.
	DefaultLength = 12
)

var (
	// ErrGenerator groups every PasswordGenerator failure.
	ErrGenerator = errors.New("generator")
	// ErrNoCharacterClassSelected is returned when every class is disabled.
	ErrNoCharacterClassSelected = fmt.Errorf("%w: no character class selected", ErrGenerator)
	// ErrLengthOutOfRange is returned for lengths outside [MinLength, MaxLength].
	ErrLengthOutOfRange = fmt.Errorf("%w: length must be between %d and %d", ErrGenerator, MinLength, MaxLength)
)

// Character class alphabets.
const (
	Uppercase = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	Lowercase = "abcdefghijklmnopqrstuvwxyz"
	Digits    = "0123456789"
	Special   = "!@#$%^&*()-_=+[]{}|;:,.<>?/~"
)

// Classes selects the alphabets a password is drawn from.
type Classes struct {
	Upper   bool
	Lower   bool
	Digits  bool
	Special bool
}

// AllClasses enables every alphabet.
func AllClasses() Classes {
	return Classes{Upper: true, Lower: true, Digits: true, Special: true}
}

// alphabets returns the enabled class alphabets in a fixed order.
func (c Classes) alphabets() []string {
	var out []string
	if c.Upper {
		out = append(out, Uppercase)
	}
	if c.Lower {
		out = append(out, Lowercase)
	}
	if c.Digits {
		out = append(out, Digits)
	}
	if c.Special {
		out = append(out, Special)
	}
	return out
}

// Policy decides how characters are drawn.
type Policy int

const (
	// PolicyUniform draws every character uniformly from the union of the
	// enabled alphabets.
	PolicyUniform Policy = iota
	// PolicyEachClass guarantees at least one character from every enabled
	// class, at random positions.
	PolicyEachClass
)

func (p Policy) String() string {
	switch p {
	case PolicyUniform:
		return "uniform"
	case PolicyEachClass:
		return "each-class"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy maps a configuration value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "uniform":
		return PolicyUniform, nil
	case "each-class", "each_class":
		return PolicyEachClass, nil
	default:
		return 0, fmt.Errorf("%w: unknown policy %q", ErrGenerator, s)
	}
}

// Options tune GenerateWith.
type Options struct {
	Policy Policy
	// Rand overrides the random source.
	Rand io.Reader
}

// Generate returns a password of length characters using the uniform policy.
func Generate(length int, classes Classes) (string, error) {
	return GenerateWith(length, classes, Options{})
}

// GenerateWith returns a password of length characters drawn from the
// enabled classes.
func GenerateWith(length int, classes Classes, opts Options) (string, error) {
	if length < MinLength || length > MaxLength {
		return "", ErrLengthOutOfRange
	}
	sets := classes.alphabets()
	if len(sets) == 0 {
		return "", ErrNoCharacterClassSelected
	}
	union := strings.Join(sets, "")

	out := make([]byte, 0, length)
	if opts.Policy == PolicyEachClass {
		for _, set := range sets {
			c, err := pick(opts.Rand, set)
			if err != nil {
				return "", err
			}
			out = append(out, c)
		}
	}
	for len(out) < length {
		c, err := pick(opts.Rand, union)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}

	if opts.Policy == PolicyEachClass {
		if err := shuffle(opts.Rand, out); err != nil {
			return "", err
		}
	}
	pw := string(out)
	krypto.Wipe(out)
	return pw, nil
}

func pick(r io.Reader, alphabet string) (byte, error) {
	i, err := krypto.RandomIndex(r, len(alphabet))
	if err != nil {
		return 0, err
	}
	return alphabet[i], nil
}

// shuffle is a Fisher-Yates shuffle driven by r.
func shuffle(r io.Reader, b []byte) error {
	for i := len(b) - 1; i > 0; i-- {
		j, err := krypto.RandomIndex(r, i+1)
		if err != nil {
			return err
		}
		b[i], b[j] = b[j], b[i]
	}
	return nil
}
