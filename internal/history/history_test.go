package history

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/whalebot/internal/types"
)

func alert(tx string) types.StoredAlert {
	return types.StoredAlert{Candidate: types.Candidate{TxHash: tx}}
}

func TestAppendAssignsSequence(t *testing.T) {
	b := New(10)
	first := b.Append(alert("a"))
	second := b.Append(alert("b"))

	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(1), first.Message.Record.Seq)
	assert.Equal(t, uint64(2), second.Seq)
}

func TestRecent(t *testing.T) {
	b := New(10)
	for i := 0; i < 5; i++ {
		b.Append(alert(fmt.Sprintf("tx%d", i)))
	}

	got := b.Recent(3)
	require.Len(t, got, 3)
	assert.Equal(t, "tx4", got[0].Candidate.TxHash)
	assert.Equal(t, "tx2", got[2].Candidate.TxHash)

	assert.Len(t, b.Recent(0), 5)
	assert.Len(t, b.Recent(100), 5)
}

func TestCapacityEvictsOldest(t *testing.T) {
	b := New(DefaultCapacity)
	for i := 0; i < 1001; i++ {
		b.Append(alert(fmt.Sprintf("tx%d", i)))
	}

	assert.Equal(t, 1000, b.Len())
	assert.Equal(t, 1000, b.Cap())
	assert.Empty(t, b.ByTxID("tx0"), "the first alert was evicted")

	all := b.Recent(0)
	assert.Equal(t, "tx1000", all[0].Candidate.TxHash)
	assert.Equal(t, "tx1", all[len(all)-1].Candidate.TxHash)
	assert.Equal(t, uint64(1001), all[0].Seq)
}

func TestByTxID(t *testing.T) {
	b := New(10)
	b.Append(alert("x"))
	b.Append(alert("y"))
	b.Append(alert("x"))

	got := b.ByTxID("x")
	require.Len(t, got, 2)
	assert.Greater(t, got[0].Seq, got[1].Seq)
	assert.Empty(t, b.ByTxID("missing"))
}
