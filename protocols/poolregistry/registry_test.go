package poolregistry

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defistate/defi-pricing-go/protocols"
)

func TestRegistry(t *testing.T) {
	pool := common.HexToAddress("0x0a")
	view := PoolView{
		Key:            AddressToPoolKey(pool),
		Protocol:       protocols.UniswapV2,
		Token0:         common.HexToAddress("0x01"),
		Token1:         common.HexToAddress("0x02"),
		FeeBps:         30,
		FirstSeenBlock: 100,
	}

	t.Run("AddAndLookup", func(t *testing.T) {
		r := NewRegistry(nil)
		assert.True(t, r.Add(view))
		assert.Equal(t, 1, r.Len())

		got, ok := r.GetByAddress(pool)
		require.True(t, ok)
		assert.Equal(t, view, got)

		got, ok = r.GetByKey(view.Key)
		require.True(t, ok)
		assert.Equal(t, view, got)

		_, ok = r.GetByAddress(common.HexToAddress("0x0b"))
		assert.False(t, ok)
	})

	t.Run("FirstEntryWins", func(t *testing.T) {
		r := NewRegistry([]PoolView{view})

		moved := view
		moved.Token1 = common.HexToAddress("0x03")
		assert.False(t, r.Add(moved), "re-announcing a pool must not replace its metadata")

		got, ok := r.GetByKey(view.Key)
		require.True(t, ok)
		assert.Equal(t, view.Token1, got.Token1)
	})

	t.Run("AllIsACopy", func(t *testing.T) {
		r := NewRegistry([]PoolView{view})
		all := r.All()
		require.Len(t, all, 1)
		all[0].FeeBps = 100

		got, _ := r.GetByKey(view.Key)
		assert.Equal(t, uint16(30), got.FeeBps)
	})
}
