package deviceflow

import "crypto/rand"

// codeAlphabet excludes characters easily confused when hand-typed from a
// terminal: 0/O, 1/I/L.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// GenerateCode produces an 8-character activation code in two groups of
// four, e.g. "AB23-CD45".
func GenerateCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, 9)
	for i, b := range buf {
		pos := i
		if i >= 4 {
			pos++
		}
		out[pos] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	out[4] = '-'
	return string(out), nil
}
