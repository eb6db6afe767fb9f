// Package account is a minimal ECDSA owned smart account, enough to build
// and sign user operations from the command line.
package account

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/citizenwallet/aa-gateway/pkg/flow"
	"github.com/citizenwallet/aa-gateway/pkg/userop"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const accountABI = `[
	{"type":"function","name":"execute","inputs":[{"name":"dest","type":"address"},{"name":"value","type":"uint256"},{"name":"func","type":"bytes"}],"outputs":[]}
]`

const entryPointABI = `[
	{"type":"function","name":"getNonce","stateMutability":"view","inputs":[{"name":"sender","type":"address"},{"name":"key","type":"uint192"}],"outputs":[{"name":"nonce","type":"uint256"}]}
]`

var (
	accABI = mustParse(accountABI)
	epABI  = mustParse(entryPointABI)

	ErrNoSender = errors.New("account: sender address is required")
)

func mustParse(s string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return a
}

// Chain is the part of an ethclient.Client the account reads from. A nil
// Chain treats the account as deployed with nonce 0.
type Chain interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

type Config struct {
	Sender     common.Address
	EntryPoint common.Address
	ChainID    *big.Int
	// Factory and FactoryData deploy the account on its first operation
	Factory     *common.Address
	FactoryData []byte
	NonceKey    *big.Int
}

type Account struct {
	key   *ecdsa.PrivateKey
	chain Chain
	conf  Config
}

func New(key *ecdsa.PrivateKey, chain Chain, conf Config) (*Account, error) {
	if conf.Sender == (common.Address{}) {
		return nil, ErrNoSender
	}

	if conf.ChainID == nil {
		return nil, errors.New("account: chain id is required")
	}

	if conf.NonceKey == nil {
		conf.NonceKey = new(big.Int)
	}

	return &Account{key: key, chain: chain, conf: conf}, nil
}

// Owner is the address of the signing key
func (a *Account) Owner() common.Address {
	return crypto.PubkeyToAddress(a.key.PublicKey)
}

func (a *Account) Address(ctx context.Context) (string, error) {
	return a.conf.Sender.Hex(), nil
}

// Nonce reads the next nonce from the entry point
func (a *Account) Nonce(ctx context.Context) (*big.Int, error) {
	if a.chain == nil {
		return new(big.Int), nil
	}

	data, err := epABI.Pack("getNonce", a.conf.Sender, a.conf.NonceKey)
	if err != nil {
		return nil, err
	}

	out, err := a.chain.CallContract(ctx, ethereum.CallMsg{To: &a.conf.EntryPoint, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("calling getNonce: %w", err)
	}

	res, err := epABI.Unpack("getNonce", out)
	if err != nil {
		return nil, fmt.Errorf("decoding getNonce: %w", err)
	}

	nonce, ok := res[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected getNonce result %T", res[0])
	}

	return nonce, nil
}

// FactoryArgs returns the deployment arguments until the account has code
func (a *Account) FactoryArgs(ctx context.Context) (string, string, error) {
	if a.conf.Factory == nil {
		return "", "", nil
	}

	if a.chain != nil {
		code, err := a.chain.CodeAt(ctx, a.conf.Sender, nil)
		if err != nil {
			return "", "", fmt.Errorf("checking account code: %w", err)
		}

		if len(code) > 0 {
			return "", "", nil
		}
	}

	return a.conf.Factory.Hex(), hexutil.Encode(a.conf.FactoryData), nil
}

// EncodeExecute encodes call as execute(address,uint256,bytes)
func (a *Account) EncodeExecute(ctx context.Context, call flow.Call) (string, error) {
	value := call.Value
	if value == nil {
		value = new(big.Int)
	}

	data := call.Data
	if data == nil {
		data = []byte{}
	}

	b, err := accABI.Pack("execute", common.HexToAddress(call.To), value, data)
	if err != nil {
		return "", err
	}

	return hexutil.Encode(b), nil
}

// SignUserOperation signs the user operation hash as an eth_sign message
func (a *Account) SignUserOperation(ctx context.Context, op userop.UserOperation) (string, error) {
	hash, err := op.Hash(a.conf.EntryPoint, a.conf.ChainID)
	if err != nil {
		return "", err
	}

	sig, err := crypto.Sign(accounts.TextHash(hash.Bytes()), a.key)
	if err != nil {
		return "", err
	}

	sig[crypto.RecoveryIDOffset] += 27

	return hexutil.Encode(sig), nil
}
