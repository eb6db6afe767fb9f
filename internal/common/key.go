package common

import (
	"crypto/ecdsa"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// HexToPrivateKey parses a secp256k1 key, with or without a 0x prefix
func HexToPrivateKey(privateKeyHex string) (*ecdsa.PrivateKey, error) {
	if !strings.HasPrefix(privateKeyHex, "0x") {
		privateKeyHex = "0x" + privateKeyHex
	}

	privateKeyBytes, err := hexutil.Decode(privateKeyHex)
	if err != nil {
		return nil, err
	}

	return crypto.ToECDSA(privateKeyBytes)
}

// PrivateKeyToHex encodes a key without a 0x prefix
func PrivateKeyToHex(key *ecdsa.PrivateKey) string {
	return strings.TrimPrefix(hexutil.Encode(crypto.FromECDSA(key)), "0x")
}
