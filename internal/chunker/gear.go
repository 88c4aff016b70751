package chunker

// gearTable holds the 256-entry, 64-bit gear hash table used by the FastCDC
// rolling hash: h = (h << 1) + gearTable[b]. The table is generated once at
// package init time from a fixed seed via splitmix64, so every process
// produces byte-identical boundaries for the same input.
var gearTable [256]uint64

// gearSeed is the constant seed the table is derived from. Changing it
// changes every chunk boundary ever produced, so it must never change
// between releases that share on-disk chunk stores.
const gearSeed uint64 = 0x9E3779B97F4A7C15

func init() {
	s := gearSeed
	for i := range gearTable {
		s = splitmix64(s)
		gearTable[i] = s
	}
}

// splitmix64 is a fast, fixed-point PRNG step used only to derive the gear
// table deterministically from gearSeed. It has no cryptographic role.
func splitmix64(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	z := x
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	z = z ^ (z >> 31)
	return z
}

// masks holds the two FastCDC boundary masks derived from the target
// average chunk size. maskS (used between min and avg) carries more 1-bits
// than maskL (used between avg and max): it is harder to satisfy, so
// boundaries found under maskS bias shorter chunks and boundaries found
// under maskL bias longer ones, matching the target average.
type masks struct {
	small uint64
	large uint64
}

// deriveMasks builds maskS/maskL to target the given average size. bits is
// the number of trailing hash bits checked against zero; maskS checks
// bits+1 (stricter), maskL checks bits-1 (looser), both clustered in the
// low bits of the gear hash.
func deriveMasks(avg int) masks {
	bits := 0
	for v := avg; v > 1; v >>= 1 {
		bits++
	}
	return masks{
		small: onesMask(bits + 1),
		large: onesMask(bits - 1),
	}
}

func onesMask(n int) uint64 {
	if n <= 0 {
		return 0
	}
	if n >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(n)) - 1
}
