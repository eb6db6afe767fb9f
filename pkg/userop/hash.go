package userop

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	addressTy, _ = abi.NewType("address", "address", nil)
	uint256Ty, _ = abi.NewType("uint256", "uint256", nil)
	bytes32Ty, _ = abi.NewType("bytes32", "bytes32", nil)

	packedArgs = abi.Arguments{
		{Type: addressTy}, // sender
		{Type: uint256Ty}, // nonce
		{Type: bytes32Ty}, // keccak(initCode)
		{Type: bytes32Ty}, // keccak(callData)
		{Type: bytes32Ty}, // accountGasLimits
		{Type: uint256Ty}, // preVerificationGas
		{Type: bytes32Ty}, // gasFees
		{Type: bytes32Ty}, // keccak(paymasterAndData)
	}

	hashArgs = abi.Arguments{
		{Type: bytes32Ty}, // keccak(packed)
		{Type: addressTy}, // entry point
		{Type: uint256Ty}, // chain id
	}
)

// Hash computes the EntryPoint v0.7 hash of the operation, which is what
// the account owner signs.
func (u UserOperation) Hash(entryPoint common.Address, chainID *big.Int) (common.Hash, error) {
	nonce, err := decodeQuantity("nonce", u.Nonce)
	if err != nil {
		return common.Hash{}, err
	}

	preVerificationGas, err := decodeQuantity("preVerificationGas", u.PreVerificationGas)
	if err != nil {
		return common.Hash{}, err
	}

	callData, err := decodeBytes("callData", u.CallData)
	if err != nil {
		return common.Hash{}, err
	}

	initCode, err := u.initCode()
	if err != nil {
		return common.Hash{}, err
	}

	accountGasLimits, err := packUint128Pair("verificationGasLimit", u.VerificationGasLimit, "callGasLimit", u.CallGasLimit)
	if err != nil {
		return common.Hash{}, err
	}

	gasFees, err := packUint128Pair("maxPriorityFeePerGas", u.MaxPriorityFeePerGas, "maxFeePerGas", u.MaxFeePerGas)
	if err != nil {
		return common.Hash{}, err
	}

	paymasterAndData, err := u.paymasterAndData()
	if err != nil {
		return common.Hash{}, err
	}

	packed, err := packedArgs.Pack(
		common.HexToAddress(u.Sender),
		nonce,
		crypto.Keccak256Hash(initCode),
		crypto.Keccak256Hash(callData),
		accountGasLimits,
		preVerificationGas,
		gasFees,
		crypto.Keccak256Hash(paymasterAndData),
	)
	if err != nil {
		return common.Hash{}, err
	}

	encoded, err := hashArgs.Pack(crypto.Keccak256Hash(packed), entryPoint, chainID)
	if err != nil {
		return common.Hash{}, err
	}

	return crypto.Keccak256Hash(encoded), nil
}

func (u UserOperation) initCode() ([]byte, error) {
	if u.Factory == nil {
		return nil, nil
	}

	data, err := decodeBytes("factoryData", Value(u.FactoryData))
	if err != nil {
		return nil, err
	}

	return append(common.HexToAddress(*u.Factory).Bytes(), data...), nil
}

func (u UserOperation) paymasterAndData() ([]byte, error) {
	if u.Paymaster == nil {
		return nil, nil
	}

	gas, err := packUint128Pair(
		"paymasterVerificationGasLimit", Value(u.PaymasterVerificationGasLimit),
		"paymasterPostOpGasLimit", Value(u.PaymasterPostOpGasLimit),
	)
	if err != nil {
		return nil, err
	}

	data, err := decodeBytes("paymasterData", Value(u.PaymasterData))
	if err != nil {
		return nil, err
	}

	b := append(common.HexToAddress(*u.Paymaster).Bytes(), gas[:]...)
	return append(b, data...), nil
}

func decodeQuantity(field, v string) (*big.Int, error) {
	if v == "" {
		return new(big.Int), nil
	}
	n, err := hexutil.DecodeBig(v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", field, err)
	}
	return n, nil
}

func decodeBytes(field, v string) ([]byte, error) {
	if v == "" || v == "0x" {
		return []byte{}, nil
	}
	b, err := hexutil.Decode(v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", field, err)
	}
	return b, nil
}

// packUint128Pair places hi in the upper and lo in the lower 16 bytes of a word
func packUint128Pair(hiField, hi, loField, lo string) (common.Hash, error) {
	var out common.Hash

	h, err := decodeQuantity(hiField, hi)
	if err != nil {
		return out, err
	}

	l, err := decodeQuantity(loField, lo)
	if err != nil {
		return out, err
	}

	if h.BitLen() > 128 || l.BitLen() > 128 {
		return out, fmt.Errorf("%s or %s exceeds 128 bits", hiField, loField)
	}

	copy(out[:16], common.LeftPadBytes(h.Bytes(), 16))
	copy(out[16:], common.LeftPadBytes(l.Bytes(), 16))

	return out, nil
}
