// Package dedup implements near-duplicate detection over 64-bit simhash
// fingerprints compared by Hamming distance.
package dedup

import (
	"hash/fnv"
	"math/bits"
	"strings"
)

const (
	// simhashTextLimit bounds how much of the article body contributes to
	// the fingerprint.
	simhashTextLimit = 400
	minTokenLen      = 2
)

// Simhash computes a 64-bit locality-sensitive fingerprint of title plus the
// first 400 characters of text. Tokens are lowercased, whitespace-split and
// must be longer than two characters.
func Simhash(title, text string) uint64 {
	runes := []rune(text)
	if len(runes) > simhashTextLimit {
		text = string(runes[:simhashTextLimit])
	}

	var counts [64]int
	for _, token := range strings.Fields(strings.ToLower(title + " " + text)) {
		if len([]rune(token)) <= minTokenLen {
			continue
		}
		h := fnv.New64a()
		h.Write([]byte(token))
		sum := h.Sum64()
		for bit := 0; bit < 64; bit++ {
			if sum&(1<<uint(bit)) != 0 {
				counts[bit]++
			} else {
				counts[bit]--
			}
		}
	}

	var fingerprint uint64
	for bit := 0; bit < 64; bit++ {
		if counts[bit] > 0 {
			fingerprint |= 1 << uint(bit)
		}
	}
	return fingerprint
}

// HammingDistance counts differing bits between two fingerprints.
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}
