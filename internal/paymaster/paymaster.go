package paymaster

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/citizenwallet/aa-gateway/internal/metrics"
	"github.com/citizenwallet/aa-gateway/pkg/userop"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

const (
	methodGetPaymasterData = "pm_getPaymasterData"

	errSponsor = "Failed to sponsor UserOperation"
)

type Config struct {
	Endpoint    string
	PaymasterID string
	EntryPoint  string
	Timeout     time.Duration
}

type Paymaster struct {
	rpc     *rpc.Client
	conf    Config
	metrics *metrics.Metrics
	logs    *zap.SugaredLogger
}

// New dials the paymaster service once. Like the bundler, a missing
// endpoint is reported on first use.
func New(ctx context.Context, conf Config, m *metrics.Metrics, logger *zap.SugaredLogger) (*Paymaster, error) {
	p := &Paymaster{conf: conf, metrics: m, logs: logger}

	if conf.Endpoint == "" {
		return p, nil
	}

	client, err := rpc.DialOptions(ctx, conf.Endpoint, rpc.WithHTTPClient(&http.Client{Timeout: conf.Timeout}))
	if err != nil {
		return nil, err
	}

	p.rpc = client

	logger.Infow("paymaster client initialized", "endpoint", conf.Endpoint)

	return p, nil
}

func (p *Paymaster) Close() {
	if p.rpc != nil {
		p.rpc.Close()
	}
}

// Configured reports whether the paymaster service can be used
func (p *Paymaster) Configured() bool {
	return p.checkConfig() == nil
}

func (p *Paymaster) checkConfig() error {
	switch {
	case p.conf.Endpoint == "" || p.rpc == nil:
		return userop.MissingSetting("PAYMASTER_SERVICE_URL")
	case p.conf.PaymasterID == "":
		return userop.MissingSetting("PAYMASTER_ID")
	case p.conf.EntryPoint == "":
		return userop.MissingSetting("ENTRY_POINT_ADDRESS")
	}
	return nil
}

// sponsorResult is what pm_getPaymasterData returns. The gas limit
// revisions are only present when the service was asked to calculate them.
type sponsorResult struct {
	Paymaster                     string  `json:"paymaster"`
	PaymasterData                 string  `json:"paymasterData"`
	PaymasterVerificationGasLimit *string `json:"paymasterVerificationGasLimit"`
	PaymasterPostOpGasLimit       *string `json:"paymasterPostOpGasLimit"`
	CallGasLimit                  *string `json:"callGasLimit"`
	VerificationGasLimit          *string `json:"verificationGasLimit"`
	PreVerificationGas            *string `json:"preVerificationGas"`
}

// Sponsor asks the paymaster service to pay for op on chainID.
//
// The returned operation is a copy of op with the paymaster fields set and
// any revised gas limits applied. The signature is left as is, so the
// caller has to sign the sponsored operation.
func (p *Paymaster) Sponsor(ctx context.Context, op userop.UserOperation, chainID int64, calculateGasLimits bool) (*userop.UserOperation, error) {
	if err := p.checkConfig(); err != nil {
		p.logs.Errorw("paymaster is not configured", "error", err)
		return nil, userop.WrapGateway(errSponsor, err)
	}

	if chainID <= 0 {
		return nil, userop.WrapGateway(errSponsor, fmt.Errorf("invalid chain id %d", chainID))
	}

	sctx := userop.SponsorshipContext{
		PaymasterID:        p.conf.PaymasterID,
		CalculateGasLimits: calculateGasLimits,
	}

	p.logs.Infow("sponsoring user operation",
		"sender", op.Sender,
		"chain_id", chainID,
		"paymaster_id", sctx.PaymasterID)

	start := time.Now()

	var res *sponsorResult
	err := p.rpc.CallContext(ctx, &res, methodGetPaymasterData,
		op.WithoutPaymaster(),
		p.conf.EntryPoint,
		hexutil.EncodeUint64(uint64(chainID)),
		sctx,
	)
	p.metrics.ObserveUpstream(metrics.ServicePaymaster, methodGetPaymasterData, start, err)
	if err != nil {
		p.logs.Errorw("failed to sponsor user operation", "error", err, "sender", op.Sender)
		return nil, userop.WrapGateway(errSponsor, err)
	}

	if res == nil || res.Paymaster == "" {
		return nil, userop.WrapGateway(errSponsor, fmt.Errorf("paymaster service returned no paymaster"))
	}

	sponsored := op.Clone()
	sponsored.Paymaster = userop.Optional(res.Paymaster)
	sponsored.PaymasterData = userop.Optional(res.PaymasterData)
	sponsored.PaymasterVerificationGasLimit = userop.Optional(userop.Value(res.PaymasterVerificationGasLimit))
	sponsored.PaymasterPostOpGasLimit = userop.Optional(userop.Value(res.PaymasterPostOpGasLimit))

	if sponsored.PaymasterData == nil {
		sponsored.PaymasterData = userop.Optional("0x")
	}

	if res.CallGasLimit != nil {
		sponsored.CallGasLimit = *res.CallGasLimit
	}
	if res.VerificationGasLimit != nil {
		sponsored.VerificationGasLimit = *res.VerificationGasLimit
	}
	if res.PreVerificationGas != nil {
		sponsored.PreVerificationGas = *res.PreVerificationGas
	}

	p.logs.Infow("user operation sponsored",
		"sender", op.Sender,
		"paymaster", res.Paymaster,
		"total_gas", sponsored.TotalGas().String())

	return &sponsored, nil
}
