package game

import "math/rand"

const privateCodeLength = 4

// generatePrivateCode returns an uppercase code not present in used.
func generatePrivateCode(rng *rand.Rand, used map[string]bool) string {
	for {
		code := make([]byte, privateCodeLength)
		for i := range code {
			code[i] = 'A' + byte(rng.Intn(26))
		}
		if !used[string(code)] {
			return string(code)
		}
	}
}
