package dpgbdt

import "math/rand"

// subSeed derives a deterministic sub-seed from a root seed and up to three
// integer coordinates (round, class, node), splitmix64-style. Identical
// coordinates from identical roots always produce identical seeds, which is
// what lets Fit reproduce bit-identical ensembles under a fixed Config.Seed.
func subSeed(root int64, a, b, c int) int64 {
	x := uint64(root)
	x += uint64(uint32(a)) * 0x9E3779B97F4A7C15
	x ^= uint64(uint32(b))*0xBF58476D1CE4E5B9 + (x >> 27)
	x += uint64(uint32(c)) * 0x94D049BB133111EB
	x ^= x >> 31
	x *= 0xFF51AFD7ED558CCD
	x ^= x >> 33
	return int64(x)
}

// subRNG returns a fresh *rand.Rand seeded deterministically from (root, a,
// b, c). Callers key a by round index, b by class index, and c by a node
// counter, per the substream convention in the concurrency model.
func subRNG(root int64, a, b, c int) *rand.Rand {
	return rand.New(rand.NewSource(subSeed(root, a, b, c)))
}
