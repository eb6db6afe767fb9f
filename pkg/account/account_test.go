package account

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/citizenwallet/aa-gateway/pkg/flow"
	"github.com/citizenwallet/aa-gateway/pkg/userop"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

type fakeChain struct {
	code  []byte
	nonce *big.Int
	err   error

	calls []ethereum.CallMsg
}

func (c *fakeChain) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return c.code, c.err
}

func (c *fakeChain) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	c.calls = append(c.calls, msg)
	if c.err != nil {
		return nil, c.err
	}
	return common.LeftPadBytes(c.nonce.Bytes(), 32), nil
}

var (
	sender     = common.HexToAddress("0x1234567890123456789012345678901234567890")
	factory    = common.HexToAddress("0xabcdefabcdefabcdefabcdefabcdefabcdefabcd")
	entryPoint = common.HexToAddress(userop.DefaultEntryPoint)
)

func newTestAccount(t *testing.T, chain Chain) *Account {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	a, err := New(key, chain, Config{
		Sender:      sender,
		EntryPoint:  entryPoint,
		ChainID:     big.NewInt(1946),
		Factory:     &factory,
		FactoryData: []byte{0x01, 0x02},
	})
	require.NoError(t, err)

	return a
}

func TestNew(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	_, err = New(key, nil, Config{ChainID: big.NewInt(1)})
	require.ErrorIs(t, err, ErrNoSender)

	_, err = New(key, nil, Config{Sender: sender})
	require.Error(t, err)
}

func TestSignUserOperation(t *testing.T) {
	a := newTestAccount(t, nil)

	op := userop.UserOperation{
		Sender:               sender.Hex(),
		Nonce:                "0x0",
		CallData:             "0x",
		CallGasLimit:         flow.DefaultCallGasLimit,
		VerificationGasLimit: flow.DefaultVerificationGasLimit,
		PreVerificationGas:   flow.DefaultPreVerificationGas,
		MaxFeePerGas:         flow.DefaultMaxFeePerGas,
		MaxPriorityFeePerGas: flow.DefaultMaxPriorityFeePerGas,
		Signature:            userop.PlaceholderSignature,
		Paymaster:            userop.Optional("0x1234567890123456789012345678901234567890"),
		PaymasterData:        userop.Optional("0xdeadbeef"),
	}

	sigHex, err := a.SignUserOperation(context.Background(), op)
	require.NoError(t, err)

	sig, err := hexutil.Decode(sigHex)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	require.Contains(t, []byte{27, 28}, sig[64])

	hash, err := op.Hash(entryPoint, big.NewInt(1946))
	require.NoError(t, err)

	sig[64] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash(hash.Bytes()), sig)
	require.NoError(t, err)
	require.Equal(t, a.Owner(), crypto.PubkeyToAddress(*pub))
}

func TestEncodeExecute(t *testing.T) {
	a := newTestAccount(t, nil)

	data, err := a.EncodeExecute(context.Background(), flow.Call{
		To:   "0x1111111111111111111111111111111111111111",
		Data: []byte{0xde, 0xad},
	})
	require.NoError(t, err)

	b, err := hexutil.Decode(data)
	require.NoError(t, err)
	require.Equal(t, "0xb61d27f6", hexutil.Encode(b[:4]))

	args, err := accABI.Methods["execute"].Inputs.Unpack(b[4:])
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress("0x1111111111111111111111111111111111111111"), args[0])
	require.Equal(t, 0, args[1].(*big.Int).Sign())
	require.Equal(t, []byte{0xde, 0xad}, args[2])
}

func TestNonce(t *testing.T) {
	chain := &fakeChain{nonce: big.NewInt(7)}
	a := newTestAccount(t, chain)

	nonce, err := a.Nonce(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(7), nonce.Int64())

	require.Len(t, chain.calls, 1)
	require.Equal(t, entryPoint, *chain.calls[0].To)
	require.Equal(t, epABI.Methods["getNonce"].ID, chain.calls[0].Data[:4])

	t.Run("without chain", func(t *testing.T) {
		nonce, err := newTestAccount(t, nil).Nonce(context.Background())
		require.NoError(t, err)
		require.Equal(t, 0, nonce.Sign())
	})

	t.Run("call error", func(t *testing.T) {
		_, err := newTestAccount(t, &fakeChain{err: errors.New("boom")}).Nonce(context.Background())
		require.ErrorContains(t, err, "boom")
	})
}

func TestFactoryArgs(t *testing.T) {
	t.Run("undeployed", func(t *testing.T) {
		f, data, err := newTestAccount(t, &fakeChain{}).FactoryArgs(context.Background())
		require.NoError(t, err)
		require.Equal(t, factory.Hex(), f)
		require.Equal(t, "0x0102", data)
	})

	t.Run("deployed", func(t *testing.T) {
		f, data, err := newTestAccount(t, &fakeChain{code: []byte{0x60}}).FactoryArgs(context.Background())
		require.NoError(t, err)
		require.Empty(t, f)
		require.Empty(t, data)
	})

	t.Run("no factory", func(t *testing.T) {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)

		a, err := New(key, &fakeChain{}, Config{Sender: sender, EntryPoint: entryPoint, ChainID: big.NewInt(1)})
		require.NoError(t, err)

		f, _, err := a.FactoryArgs(context.Background())
		require.NoError(t, err)
		require.Empty(t, f)
	})
}
