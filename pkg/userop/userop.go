package userop

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	// DefaultEntryPoint is the canonical EntryPoint v0.7 deployment
	DefaultEntryPoint = "0x0000000071727De22E5E9d8BAf0edAc6f37da032"

	// PlaceholderSignature is used for operations that have not been signed yet
	PlaceholderSignature = "0x"
)

// UserOperation is the ERC-4337 v0.7 operation envelope.
//
// All values are hex strings and are passed through as-is. Optional fields
// are pointers so that unset values are never serialized.
type UserOperation struct {
	Sender                        string  `json:"sender"`
	Nonce                         string  `json:"nonce"`
	CallData                      string  `json:"callData"`
	CallGasLimit                  string  `json:"callGasLimit"`
	VerificationGasLimit          string  `json:"verificationGasLimit"`
	PreVerificationGas            string  `json:"preVerificationGas"`
	MaxFeePerGas                  string  `json:"maxFeePerGas"`
	MaxPriorityFeePerGas          string  `json:"maxPriorityFeePerGas"`
	Signature                     string  `json:"signature"`
	Factory                       *string `json:"factory,omitempty"`
	FactoryData                   *string `json:"factoryData,omitempty"`
	Paymaster                     *string `json:"paymaster,omitempty"`
	PaymasterData                 *string `json:"paymasterData,omitempty"`
	PaymasterVerificationGasLimit *string `json:"paymasterVerificationGasLimit,omitempty"`
	PaymasterPostOpGasLimit       *string `json:"paymasterPostOpGasLimit,omitempty"`
}

// Optional returns a pointer to s, or nil when s is empty
func Optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Value dereferences an optional field, returning "" when unset
func Value(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// Clone returns a deep copy of the operation
func (u UserOperation) Clone() UserOperation {
	c := u
	c.Factory = cloneString(u.Factory)
	c.FactoryData = cloneString(u.FactoryData)
	c.Paymaster = cloneString(u.Paymaster)
	c.PaymasterData = cloneString(u.PaymasterData)
	c.PaymasterVerificationGasLimit = cloneString(u.PaymasterVerificationGasLimit)
	c.PaymasterPostOpGasLimit = cloneString(u.PaymasterPostOpGasLimit)
	return c
}

// WithoutPaymaster returns a copy of the operation with every paymaster field cleared
func (u UserOperation) WithoutPaymaster() UserOperation {
	c := u.Clone()
	c.Paymaster = nil
	c.PaymasterData = nil
	c.PaymasterVerificationGasLimit = nil
	c.PaymasterPostOpGasLimit = nil
	return c
}

// TotalGas sums the gas limits of the operation. Fields that cannot be
// decoded count as zero, the result is only meant for display.
func (u UserOperation) TotalGas() *big.Int {
	total := new(big.Int)
	for _, v := range []string{
		u.CallGasLimit,
		u.VerificationGasLimit,
		u.PreVerificationGas,
		Value(u.PaymasterVerificationGasLimit),
		Value(u.PaymasterPostOpGasLimit),
	} {
		if v == "" {
			continue
		}
		n, err := hexutil.DecodeBig(v)
		if err != nil {
			continue
		}
		total.Add(total, n)
	}
	return total
}

// SponsorshipContext is passed opaquely to the paymaster service
type SponsorshipContext struct {
	PaymasterID        string `json:"paymasterId"`
	CalculateGasLimits bool   `json:"calculateGasLimits"`
}

// Status of a submitted operation as reported to clients
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Receipt is the canonical shape of an included operation
type Receipt struct {
	UserOpHash      string `json:"userOpHash,omitempty"`
	TransactionHash string `json:"transactionHash"`
	BlockNumber     string `json:"blockNumber"`
	Success         bool   `json:"success"`
	ActualGasUsed   string `json:"actualGasUsed"`
	Logs            []any  `json:"logs"`
}

// StatusOf maps an optional receipt to the status reported to clients
func StatusOf(r *Receipt) Status {
	switch {
	case r == nil:
		return StatusPending
	case r.Success:
		return StatusConfirmed
	default:
		return StatusFailed
	}
}
