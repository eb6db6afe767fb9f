package bundler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/citizenwallet/aa-gateway/internal/metrics"
	"github.com/citizenwallet/aa-gateway/pkg/userop"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

const (
	methodSendUserOperation       = "eth_sendUserOperation"
	methodGetUserOperationReceipt = "eth_getUserOperationReceipt"

	apiKeyHeader = "x-api-key"

	errSend    = "Failed to send UserOperation"
	errReceipt = "Failed to get UserOperation receipt"
)

type Config struct {
	Endpoint   string
	APIKey     string
	EntryPoint string
	ChainID    int64
	Timeout    time.Duration
}

type Bundler struct {
	rpc     *rpc.Client
	conf    Config
	metrics *metrics.Metrics
	logs    *zap.SugaredLogger
}

// New dials the bundler endpoint once. A missing endpoint is not an error
// here: every call reports the configuration problem instead.
func New(ctx context.Context, conf Config, m *metrics.Metrics, logger *zap.SugaredLogger) (*Bundler, error) {
	b := &Bundler{conf: conf, metrics: m, logs: logger}

	if conf.Endpoint == "" {
		return b, nil
	}

	opts := []rpc.ClientOption{
		rpc.WithHTTPClient(&http.Client{Timeout: conf.Timeout}),
	}
	if conf.APIKey != "" {
		opts = append(opts, rpc.WithHeader(apiKeyHeader, conf.APIKey))
	}

	client, err := rpc.DialOptions(ctx, conf.Endpoint, opts...)
	if err != nil {
		return nil, err
	}

	b.rpc = client

	logger.Infow("bundler client initialized", "endpoint", conf.Endpoint, "api_key", conf.APIKey != "")

	return b, nil
}

func (b *Bundler) Close() {
	if b.rpc != nil {
		b.rpc.Close()
	}
}

// Configured reports whether all the settings needed to talk to the bundler are present
func (b *Bundler) Configured() bool {
	return b.checkConfig() == nil
}

func (b *Bundler) checkConfig() error {
	switch {
	case b.conf.Endpoint == "" || b.rpc == nil:
		return userop.MissingSetting("BUNDLER_URL")
	case b.conf.EntryPoint == "":
		return userop.MissingSetting("ENTRY_POINT_ADDRESS")
	case b.conf.ChainID == 0:
		return userop.MissingSetting("CHAIN_ID")
	}
	return nil
}

func (b *Bundler) call(ctx context.Context, result any, method string, args ...any) error {
	start := time.Now()
	err := b.rpc.CallContext(ctx, result, method, args...)
	b.metrics.ObserveUpstream(metrics.ServiceBundler, method, start, err)
	return err
}

// Submit sends a signed operation to the bundler and returns its hash
func (b *Bundler) Submit(ctx context.Context, op userop.UserOperation) (string, error) {
	if err := b.checkConfig(); err != nil {
		return "", userop.WrapGateway(errSend, err)
	}

	b.logs.Infow("sending user operation to bundler",
		"sender", op.Sender,
		"nonce", op.Nonce,
		"call_data", preview(op.CallData, 20),
		"total_gas", op.TotalGas().String())

	var hash string
	err := b.call(ctx, &hash, methodSendUserOperation, op, b.conf.EntryPoint)
	if err != nil {
		b.logs.Errorw("failed to send user operation", "error", err, "sender", op.Sender)
		return "", userop.WrapGateway(errSend, err)
	}

	if hash == "" {
		return "", userop.WrapGateway(errSend, fmt.Errorf("bundler returned an empty hash"))
	}

	b.logs.Infow("user operation sent", "user_op_hash", hash)

	return hash, nil
}

type receiptTx struct {
	TransactionHash string `json:"transactionHash"`
	BlockNumber     string `json:"blockNumber"`
	Logs            []any  `json:"logs"`
}

type receiptResult struct {
	UserOpHash    string     `json:"userOpHash"`
	Success       bool       `json:"success"`
	ActualGasUsed string     `json:"actualGasUsed"`
	Receipt       *receiptTx `json:"receipt"`
}

// GetReceipt fetches the receipt of an operation. A nil receipt with a nil
// error means the operation has not been included yet.
func (b *Bundler) GetReceipt(ctx context.Context, hash string) (*userop.Receipt, error) {
	if err := b.checkConfig(); err != nil {
		return nil, userop.WrapGateway(errReceipt, err)
	}

	var res *receiptResult
	err := b.call(ctx, &res, methodGetUserOperationReceipt, hash)
	if err != nil {
		b.logs.Errorw("failed to get user operation receipt", "error", err, "user_op_hash", hash)
		return nil, userop.WrapGateway(errReceipt, err)
	}

	if res == nil || res.Receipt == nil || res.Receipt.TransactionHash == "" {
		b.logs.Infow("user operation pending", "user_op_hash", hash)
		return nil, nil
	}

	r := &userop.Receipt{
		UserOpHash:      hash,
		TransactionHash: res.Receipt.TransactionHash,
		BlockNumber:     res.Receipt.BlockNumber,
		Success:         res.Success,
		ActualGasUsed:   res.ActualGasUsed,
		Logs:            res.Receipt.Logs,
	}

	if r.ActualGasUsed == "" {
		r.ActualGasUsed = "0x0"
	}

	if r.Logs == nil {
		r.Logs = []any{}
	}

	b.logs.Infow("user operation included",
		"user_op_hash", hash,
		"transaction_hash", r.TransactionHash,
		"block_number", r.BlockNumber,
		"success", r.Success,
		"actual_gas_used", r.ActualGasUsed)

	return r, nil
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
