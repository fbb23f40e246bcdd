// Package credential produces voting token secrets and their one-way hashes.
package credential

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/sha3"
)

const (
	// Length of every plaintext token.
	Length = 16
	// Upper-case letters and digits without look-alikes (0/O, 1/I/L).
	Alphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"
)

// Generator draws tokens from a random source. The zero value uses crypto/rand.
type Generator struct {
	Rand io.Reader
}

func (g Generator) Generate() (string, string, error) {
	plain, err := g.plaintext()
	if err != nil {
		return "", "", err
	}
	return plain, Hash(plain), nil
}

func (g Generator) plaintext() (string, error) {
	src := g.Rand
	if src == nil {
		src = rand.Reader
	}
	// rejection sampling keeps the distribution uniform over the alphabet
	limit := 256 - 256%len(Alphabet)
	out := make([]byte, 0, Length)
	buf := make([]byte, Length*2)
	for len(out) < Length {
		if _, err := io.ReadFull(src, buf); err != nil {
			return "", fmt.Errorf("read entropy: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, Alphabet[int(b)%len(Alphabet)])
			if len(out) == Length {
				break
			}
		}
	}
	return string(out), nil
}

// Hash is deterministic so tokens can be looked up by their hash.
func Hash(plain string) string {
	sum := sha3.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

func Generate() (string, string, error) {
	return Generator{}.Generate()
}
