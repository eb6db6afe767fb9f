package main

import (
	"fmt"

	"github.com/citizenwallet/aa-gateway/internal/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "generate an owner key",
	Long:  `generate a new secp256k1 key to own a smart account`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := crypto.GenerateKey()
		if err != nil {
			return err
		}

		fmt.Printf("private key: %s\n", common.PrivateKeyToHex(key))
		fmt.Printf("owner: %s\n", crypto.PubkeyToAddress(key.PublicKey).Hex())

		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}
