// Package flow drives a user operation from construction to its receipt:
// sponsor, sign, submit, then poll until the bundler reports inclusion.
package flow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/citizenwallet/aa-gateway/pkg/apiclient"
	"github.com/citizenwallet/aa-gateway/pkg/retry"
	"github.com/citizenwallet/aa-gateway/pkg/userop"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
)

type State string

const (
	StateIdle       State = "idle"
	StateSponsoring State = "sponsoring"
	StateSigning    State = "signing"
	StateSubmitting State = "submitting"
	StatePolling    State = "polling"
	StateSuccess    State = "success"
	StateError      State = "error"
)

const (
	MaxPollAttempts = 10
	PollInterval    = 3000 * time.Millisecond
)

// Gas values of a freshly built operation, the paymaster revises them
const (
	DefaultCallGasLimit         = "0x50000"
	DefaultVerificationGasLimit = "0x100000"
	DefaultPreVerificationGas   = "0x20000"
	DefaultMaxFeePerGas         = "0x3b9aca00"
	DefaultMaxPriorityFeePerGas = "0x3b9aca00"
)

var ErrReceiptNotFound = errors.New("UserOperation receipt not found after polling")

// Call is a single call executed by the smart account
type Call struct {
	To    string
	Value *big.Int
	Data  []byte
}

// SmartAccount is the account the operation is built for
type SmartAccount interface {
	Address(ctx context.Context) (string, error)
	Nonce(ctx context.Context) (*big.Int, error)
	// FactoryArgs returns empty values once the account is deployed
	FactoryArgs(ctx context.Context) (factory string, factoryData string, err error)
	EncodeExecute(ctx context.Context, call Call) (string, error)
	SignUserOperation(ctx context.Context, op userop.UserOperation) (string, error)
}

// Gateway is the sponsoring and submitting backend
type Gateway interface {
	Sponsor(ctx context.Context, op userop.UserOperation, chainID int64) (*userop.UserOperation, error)
	Send(ctx context.Context, op userop.UserOperation, chainID int64) (string, error)
	Status(ctx context.Context, hash string) (*apiclient.StatusResult, error)
}

// Observer is told about every state change
type Observer func(state State, err error)

type Result struct {
	State      State
	UserOp     *userop.UserOperation
	UserOpHash string
	Receipt    *userop.Receipt
	Err        error
}

type Flow struct {
	account SmartAccount
	gateway Gateway
	chainID int64
	policy  retry.Policy

	observer Observer
	logs     *zap.SugaredLogger
}

func New(account SmartAccount, gateway Gateway, chainID int64, logger *zap.SugaredLogger) *Flow {
	return &Flow{
		account: account,
		gateway: gateway,
		chainID: chainID,
		policy: retry.Policy{
			MaxAttempts: MaxPollAttempts,
			Delay:       PollInterval,
		},
		logs: logger,
	}
}

// WithObserver sets the state change callback
func (f *Flow) WithObserver(o Observer) *Flow {
	f.observer = o
	return f
}

// WithPolicy replaces the receipt polling policy
func (f *Flow) WithPolicy(p retry.Policy) *Flow {
	f.policy = p
	return f
}

func (f *Flow) transition(res *Result, state State) {
	res.State = state
	if f.observer != nil {
		f.observer(state, res.Err)
	}
}

func (f *Flow) fail(res *Result, err error) *Result {
	res.Err = err
	f.logs.Errorw("user operation flow failed", "state", res.State, "error", err)
	f.transition(res, StateError)
	return res
}

// Run executes call through the whole flow. The returned result is always
// non nil; on failure its state is StateError and Err holds the cause.
func (f *Flow) Run(ctx context.Context, call Call) *Result {
	res := &Result{State: StateIdle}

	if f.account == nil {
		return f.fail(res, errors.New("Smart Account not initialized"))
	}

	op, err := f.build(ctx, call)
	if err != nil {
		return f.fail(res, err)
	}

	f.logs.Infow("built user operation", "sender", op.Sender, "nonce", op.Nonce)

	f.transition(res, StateSponsoring)
	sponsored, err := f.gateway.Sponsor(ctx, op, f.chainID)
	if err != nil {
		return f.fail(res, err)
	}
	res.UserOp = sponsored

	f.logs.Infow("user operation sponsored", "paymaster", userop.Value(sponsored.Paymaster))

	f.transition(res, StateSigning)
	signed := sponsored.Clone()
	signed.Signature, err = f.account.SignUserOperation(ctx, signed)
	if err != nil {
		return f.fail(res, fmt.Errorf("signing user operation: %w", err))
	}
	res.UserOp = &signed

	f.transition(res, StateSubmitting)
	hash, err := f.gateway.Send(ctx, signed, f.chainID)
	if err != nil {
		return f.fail(res, err)
	}
	res.UserOpHash = hash

	f.logs.Infow("user operation submitted", "user_op_hash", hash)

	f.transition(res, StatePolling)
	receipt, err := f.poll(ctx, hash)
	if err != nil {
		return f.fail(res, err)
	}
	res.Receipt = receipt

	f.logs.Infow("user operation included",
		"user_op_hash", hash,
		"transaction_hash", receipt.TransactionHash,
		"block_number", receipt.BlockNumber,
		"success", receipt.Success,
		"actual_gas_used", receipt.ActualGasUsed)

	f.transition(res, StateSuccess)

	return res
}

func (f *Flow) build(ctx context.Context, call Call) (userop.UserOperation, error) {
	sender, err := f.account.Address(ctx)
	if err != nil {
		return userop.UserOperation{}, fmt.Errorf("getting account address: %w", err)
	}

	nonce, err := f.account.Nonce(ctx)
	if err != nil {
		return userop.UserOperation{}, fmt.Errorf("getting account nonce: %w", err)
	}
	if nonce == nil {
		nonce = new(big.Int)
	}

	factory, factoryData, err := f.account.FactoryArgs(ctx)
	if err != nil {
		return userop.UserOperation{}, fmt.Errorf("getting factory args: %w", err)
	}

	callData, err := f.account.EncodeExecute(ctx, call)
	if err != nil {
		return userop.UserOperation{}, fmt.Errorf("encoding call: %w", err)
	}

	return userop.UserOperation{
		Sender:               sender,
		Nonce:                hexutil.EncodeBig(nonce),
		Factory:              userop.Optional(factory),
		FactoryData:          userop.Optional(factoryData),
		CallData:             callData,
		CallGasLimit:         DefaultCallGasLimit,
		VerificationGasLimit: DefaultVerificationGasLimit,
		PreVerificationGas:   DefaultPreVerificationGas,
		MaxFeePerGas:         DefaultMaxFeePerGas,
		MaxPriorityFeePerGas: DefaultMaxPriorityFeePerGas,
		Signature:            userop.PlaceholderSignature,
	}, nil
}

// poll looks the receipt up until the operation is included. A pending
// status and a failed lookup are both retried.
func (f *Flow) poll(ctx context.Context, hash string) (*userop.Receipt, error) {
	receipt, err := retry.Until(ctx, f.policy, func(ctx context.Context, attempt int) (*userop.Receipt, bool, error) {
		if attempt > 1 {
			f.logs.Infow("polling for receipt", "attempt", attempt-1, "max_attempts", f.policy.MaxAttempts)
		}

		status, err := f.gateway.Status(ctx, hash)
		if err != nil {
			f.logs.Errorw("failed to get user operation status", "error", err, "user_op_hash", hash)
			return nil, false, nil
		}

		if status.Receipt == nil {
			return nil, false, nil
		}

		return status.Receipt, true, nil
	})
	if errors.Is(err, retry.ErrExhausted) {
		return nil, ErrReceiptNotFound
	}

	return receipt, err
}
