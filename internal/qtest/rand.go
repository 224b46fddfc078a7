package qtest

import (
	"crypto/sha256"
	"math/rand/v2"
	"testing"
)

// testSeed derives a ChaCha8 seed from the test name.
//
// A SHA-256 digest is exactly the size of a ChaCha8 seed,
// and hashing means any test name works,
// however short or long it is.
func testSeed(t *testing.T) [32]byte {
	return sha256.Sum256([]byte(t.Name()))
}

// Rand returns a pseudorandom source seeded from the test name,
// so that failures reproduce exactly on rerun.
func Rand(t *testing.T) *rand.Rand {
	return rand.New(rand.NewChaCha8(testSeed(t)))
}

// RandomDataForTest returns sz bytes of pseudorandom data
// derived from the test name.
func RandomDataForTest(t *testing.T, sz int) []byte {
	chacha := rand.NewChaCha8(testSeed(t))

	out := make([]byte, sz)
	if _, err := chacha.Read(out); err != nil {
		panic(err)
	}

	return out
}

// SplitRandomly cuts data into consecutive chunks
// of between 1 and maxChunk bytes each.
func SplitRandomly(r *rand.Rand, data []byte, maxChunk int) [][]byte {
	var out [][]byte
	for len(data) > 0 {
		n := 1 + r.IntN(maxChunk)
		if n > len(data) {
			n = len(data)
		}
		out = append(out, data[:n])
		data = data[n:]
	}
	return out
}
