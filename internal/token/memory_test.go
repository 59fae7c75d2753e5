package token

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func balance(t *testing.T, l *Ledger, who common.Address) uint64 {
	t.Helper()
	b, err := l.BalanceOf(context.Background(), who)
	require.NoError(t, err)
	return b.Uint64()
}

func TestTransferFrom(t *testing.T) {
	l := NewLedger("USDC", 6, 0)
	l.Mint(alice, uint256.NewInt(100))

	require.NoError(t, l.TransferFrom(context.Background(), alice, bob, uint256.NewInt(60)))

	assert.Equal(t, uint64(40), balance(t, l, alice))
	assert.Equal(t, uint64(60), balance(t, l, bob))
}

func TestTransferFrom_InsufficientBalance(t *testing.T) {
	l := NewLedger("USDC", 6, 0)
	l.Mint(alice, uint256.NewInt(10))

	err := l.TransferFrom(context.Background(), alice, bob, uint256.NewInt(11))

	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, uint64(10), balance(t, l, alice))
}

func TestTransfer_ChargesFee(t *testing.T) {
	l := NewLedger("FOT", 18, 100) // 1%
	l.Mint(alice, uint256.NewInt(1000))

	require.NoError(t, l.Account(alice).Transfer(context.Background(), bob, uint256.NewInt(1000)))

	assert.Equal(t, uint64(0), balance(t, l, alice))
	assert.Equal(t, uint64(990), balance(t, l, bob))
	assert.Equal(t, uint256.NewInt(10), l.Burned())
}

func TestTransfer_ZeroAddress(t *testing.T) {
	l := NewLedger("USDC", 6, 0)
	l.Mint(alice, uint256.NewInt(1))

	err := l.Account(alice).Transfer(context.Background(), common.Address{}, uint256.NewInt(1))
	assert.ErrorIs(t, err, ErrZeroAddress)
}
