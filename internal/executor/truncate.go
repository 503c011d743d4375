package executor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"unicode/utf8"
)

// truncateOutput cuts output to maxBytes, reserving room for a marker so
// the result never exceeds the cap even after annotation. The hex sha256
// of the full output is always returned so a truncated result still
// identifies what the tool produced.
func truncateOutput(output string, maxBytes int64) (data string, truncated bool, hash string) {
	sum := sha256.Sum256([]byte(output))
	hash = hex.EncodeToString(sum[:])

	if maxBytes <= 0 || int64(len(output)) <= maxBytes {
		return output, false, hash
	}

	marker := fmt.Sprintf("\n... [truncated, %d bytes total]", len(output))
	keep := maxBytes - int64(len(marker))
	if keep < 0 {
		keep = 0
	}
	// Back off to a utf8 boundary so the cut never splits a rune. Both
	// trailing continuation bytes and a dangling multi-byte leader
	// decode as RuneError with size 1.
	cut := output[:keep]
	for len(cut) > 0 {
		if r, size := utf8.DecodeLastRuneInString(cut); r != utf8.RuneError || size > 1 {
			break
		}
		cut = cut[:len(cut)-1]
	}
	return cut + marker, true, hash
}
