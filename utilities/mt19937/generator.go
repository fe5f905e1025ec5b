// Package mt19937 implements the 32-bit Mersenne Twister used to derive volume
// serial numbers and GUIDs.
//
// A Generator is a plain value owned by exactly one caller. There is no package
// level instance; anything that needs randomness takes a *Generator argument.
package mt19937

const (
	stateSize   = 624
	shiftSize   = 397
	matrixA     = 0x9908b0df
	upperMask   = 0x80000000
	lowerMask   = 0x7fffffff
	temperMaskB = 0x9d2c5680
	temperMaskC = 0xefc60000
	initMult    = 1812433253
)

// DefaultSeed is the seed the reference implementation uses when none is given.
const DefaultSeed = 5489

// Generator is an MT19937 generator. It's not safe for concurrent use.
type Generator struct {
	state [stateSize]uint32
	index int
}

// New creates a generator seeded with `seed`. Two generators created with the
// same seed produce the same sequence.
func New(seed uint32) *Generator {
	g := &Generator{}
	g.state[0] = seed
	for i := 1; i < stateSize; i++ {
		previous := g.state[i-1]
		g.state[i] = initMult*(previous^(previous>>30)) + uint32(i)
	}
	return g
}

// Uint32 advances the state by one word and returns the tempered result.
//
// The state is twisted one word at a time instead of all 624 at once. The
// output is identical to the batch formulation because every word is
// regenerated from the same neighbors in the same order.
func (g *Generator) Uint32() uint32 {
	i := g.index
	y := (g.state[i] & upperMask) | (g.state[(i+1)%stateSize] & lowerMask)
	next := g.state[(i+shiftSize)%stateSize] ^ (y >> 1)
	if y&1 != 0 {
		next ^= matrixA
	}
	g.state[i] = next
	g.index = (i + 1) % stateSize

	return temper(next)
}

// Uint16 returns the upper half of the next 32-bit output.
func (g *Generator) Uint16() uint16 {
	return uint16(g.Uint32() >> 16)
}

func temper(y uint32) uint32 {
	y ^= y >> 11
	y ^= (y << 7) & temperMaskB
	y ^= (y << 15) & temperMaskC
	y ^= y >> 18
	return y
}
