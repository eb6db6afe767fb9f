package main

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/citizenwallet/aa-gateway/internal/common"
	"github.com/citizenwallet/aa-gateway/internal/logger"
	"github.com/citizenwallet/aa-gateway/pkg/account"
	"github.com/citizenwallet/aa-gateway/pkg/apiclient"
	"github.com/citizenwallet/aa-gateway/pkg/flow"
	"github.com/citizenwallet/aa-gateway/pkg/userop"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
)

var (
	sendKey         string
	sendSender      string
	sendRPC         string
	sendChainID     int64
	sendEntryPoint  string
	sendFactory     string
	sendFactoryData string
	sendTo          string
	sendValue       string
	sendData        string
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "sponsor, sign and submit a call",
	Long: `send builds a user operation executing a single call from the smart
account, has it sponsored by the gateway, signs it with the owner key,
submits it and waits for the receipt`,
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVarP(&sendKey, "key", "k", "", "owner private key (hex)")
	sendCmd.Flags().StringVarP(&sendSender, "sender", "s", "", "smart account address")
	sendCmd.Flags().StringVar(&sendRPC, "rpc", "", "chain rpc url, used for the nonce and deployment check")
	sendCmd.Flags().Int64Var(&sendChainID, "chain-id", 0, "chain id")
	sendCmd.Flags().StringVar(&sendEntryPoint, "entry-point", userop.DefaultEntryPoint, "entry point address")
	sendCmd.Flags().StringVar(&sendFactory, "factory", "", "account factory address, used while the account is not deployed")
	sendCmd.Flags().StringVar(&sendFactoryData, "factory-data", "0x", "account factory calldata")
	sendCmd.Flags().StringVar(&sendTo, "to", "", "call target")
	sendCmd.Flags().StringVar(&sendValue, "value", "0", "call value in wei")
	sendCmd.Flags().StringVar(&sendData, "data", "0x", "call data")

	for _, f := range []string{"key", "sender", "chain-id", "to"} {
		sendCmd.MarkFlagRequired(f)
	}

	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	key, err := common.HexToPrivateKey(sendKey)
	if err != nil {
		return fmt.Errorf("invalid key: %w", err)
	}

	if !ethcommon.IsHexAddress(sendSender) || !ethcommon.IsHexAddress(sendTo) {
		return errors.New("sender and to must be addresses")
	}

	value, ok := new(big.Int).SetString(sendValue, 10)
	if !ok {
		return fmt.Errorf("invalid value: %s", sendValue)
	}

	data, err := hexutil.Decode(sendData)
	if err != nil {
		return fmt.Errorf("invalid data: %w", err)
	}

	conf := account.Config{
		Sender:     ethcommon.HexToAddress(sendSender),
		EntryPoint: ethcommon.HexToAddress(sendEntryPoint),
		ChainID:    big.NewInt(sendChainID),
	}

	if sendFactory != "" {
		factory := ethcommon.HexToAddress(sendFactory)
		conf.Factory = &factory

		conf.FactoryData, err = hexutil.Decode(sendFactoryData)
		if err != nil {
			return fmt.Errorf("invalid factory data: %w", err)
		}
	}

	var chain account.Chain
	if sendRPC != "" {
		client, err := ethclient.DialContext(ctx, sendRPC)
		if err != nil {
			return err
		}
		defer client.Close()

		chain = client
	}

	acc, err := account.New(key, chain, conf)
	if err != nil {
		return err
	}

	logs := logger.New("aa", zapcore.InfoLevel, true)
	defer logs.Sync()

	res := flow.New(acc, apiclient.New(apiURL, timeout), sendChainID, logs).
		WithObserver(func(state flow.State, err error) {
			logs.Infow("state", "state", state)
		}).
		Run(ctx, flow.Call{To: sendTo, Value: value, Data: data})

	if res.Err != nil {
		return res.Err
	}

	fmt.Printf("user operation: %s\n", res.UserOpHash)
	fmt.Printf("transaction: %s (success: %v)\n", res.Receipt.TransactionHash, res.Receipt.Success)

	return nil
}
