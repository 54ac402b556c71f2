package pair

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPair(t *testing.T) {
	a := common.HexToAddress("0x0000000000000000000000000000000000000001")
	b := common.HexToAddress("0x0000000000000000000000000000000000000002")

	t.Run("Ordered_CanonicalForm", func(t *testing.T) {
		forward := New(a, b)
		backward := New(b, a)

		// Any two representations of the same unordered pair must compare
		// equal after Ordered().
		assert.Equal(t, forward.Ordered(), backward.Ordered())
		assert.Equal(t, a, forward.Ordered().Token0, "smaller address should come first")

		// Ordered pairs are usable as identical map keys.
		m := map[Pair]int{forward.Ordered(): 1}
		_, ok := m[backward.Ordered()]
		assert.True(t, ok)
	})

	t.Run("OrderedChanged", func(t *testing.T) {
		changed, ordered := New(b, a).OrderedChanged()
		assert.True(t, changed)
		assert.Equal(t, New(a, b), ordered)

		changed, ordered = New(a, b).OrderedChanged()
		assert.False(t, changed)
		assert.Equal(t, New(a, b), ordered)
	})

	t.Run("Flip", func(t *testing.T) {
		p := New(a, b)
		assert.Equal(t, New(b, a), p.Flip())
		assert.Equal(t, p, p.Flip().Flip())
	})

	t.Run("EqUnordered_IsDirectionSensitive", func(t *testing.T) {
		assert.True(t, New(a, b).EqUnordered(New(a, b)))
		assert.False(t, New(a, b).EqUnordered(New(b, a)))
	})

	t.Run("IsZero", func(t *testing.T) {
		assert.True(t, Pair{}.IsZero())
		assert.False(t, New(a, b).IsZero())
	})

	t.Run("Contains", func(t *testing.T) {
		p := New(a, b)
		assert.True(t, p.Contains(a))
		assert.True(t, p.Contains(b))
		assert.False(t, p.Contains(common.HexToAddress("0x03")))
	})

	t.Run("String_Parse_RoundTrip", func(t *testing.T) {
		p := New(a, b)
		parsed, err := Parse(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, parsed)
	})

	t.Run("Parse_Validation", func(t *testing.T) {
		_, err := Parse("not-a-pair")
		assert.Error(t, err)

		_, err = Parse("0xzz:0x01")
		assert.Error(t, err)
	})
}
