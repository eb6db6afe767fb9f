// Package testutil provides fake bundler and paymaster services for tests.
//
// Both fakes are registered on a go-ethereum rpc.Server under the "eth" and
// "pm" namespaces, so they speak the same JSON-RPC dialect as the real
// services.
package testutil

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
)

const (
	PaymasterAddress = "0x1234567890123456789012345678901234567890"
	PaymasterData    = "0xdeadbeef"
)

// Bundler fakes eth_sendUserOperation and eth_getUserOperationReceipt
type Bundler struct {
	mu sync.Mutex

	Sent        []map[string]any
	EntryPoints []string
	Receipts    map[string]map[string]any
	SendErr     error
	ReceiptErr  error

	// ReceiptCalls counts eth_getUserOperationReceipt calls per hash
	ReceiptCalls map[string]int
	// IncludeAfter makes a sent operation visible only after that many receipt lookups
	IncludeAfter int
	// Revert marks every included operation as failed
	Revert bool
}

func (b *Bundler) SendUserOperation(op map[string]any, entryPoint string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.SendErr != nil {
		return "", b.SendErr
	}

	b.Sent = append(b.Sent, op)
	b.EntryPoints = append(b.EntryPoints, entryPoint)

	hash := crypto.Keccak256Hash([]byte(fmt.Sprintf("%v-%d", op["sender"], len(b.Sent)))).Hex()

	if b.Receipts == nil {
		b.Receipts = map[string]map[string]any{}
	}
	b.Receipts[hash] = map[string]any{
		"userOpHash":    hash,
		"success":       !b.Revert,
		"actualGasUsed": "0x5208",
		"receipt": map[string]any{
			"transactionHash": crypto.Keccak256Hash([]byte(hash)).Hex(),
			"blockNumber":     "0x10",
			"logs":            []any{},
		},
	}

	return hash, nil
}

func (b *Bundler) GetUserOperationReceipt(hash string) (map[string]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ReceiptCalls == nil {
		b.ReceiptCalls = map[string]int{}
	}
	b.ReceiptCalls[hash]++

	if b.ReceiptErr != nil {
		return nil, b.ReceiptErr
	}

	if b.ReceiptCalls[hash] <= b.IncludeAfter {
		return nil, nil
	}

	return b.Receipts[hash], nil
}

// SetReceipt overrides the receipt returned for hash
func (b *Bundler) SetReceipt(hash string, r map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.Receipts == nil {
		b.Receipts = map[string]map[string]any{}
	}
	b.Receipts[hash] = r
}

// SetReceiptErr makes receipt lookups fail with err until reset with nil
func (b *Bundler) SetReceiptErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ReceiptErr = err
}

// ReceiptCallCount returns the number of receipt lookups made for hash
func (b *Bundler) ReceiptCallCount(hash string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.ReceiptCalls[hash]
}

// SentEntryPoints returns the entry point argument of every send so far
func (b *Bundler) SentEntryPoints() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]string(nil), b.EntryPoints...)
}

// SentOps returns a copy of the operations received so far
func (b *Bundler) SentOps() []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]map[string]any(nil), b.Sent...)
}

// Paymaster fakes pm_getPaymasterData
type Paymaster struct {
	mu sync.Mutex

	Requests []PaymasterRequest
	Err      error
	// OmitGasLimits leaves the gas limit revisions out of the response
	OmitGasLimits bool
}

type PaymasterRequest struct {
	UserOp     map[string]any
	EntryPoint string
	ChainID    string
	Context    map[string]any
}

func (p *Paymaster) GetPaymasterData(op map[string]any, entryPoint string, chainID string, context map[string]any) (map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Requests = append(p.Requests, PaymasterRequest{op, entryPoint, chainID, context})

	if p.Err != nil {
		return nil, p.Err
	}

	if id, _ := context["paymasterId"].(string); !strings.HasPrefix(id, "pm_") {
		return nil, errors.New("unknown paymaster id")
	}

	res := map[string]any{
		"paymaster":                     PaymasterAddress,
		"paymasterData":                 PaymasterData,
		"paymasterVerificationGasLimit": "0x186a0",
		"paymasterPostOpGasLimit":       "0xc350",
	}

	if calc, _ := context["calculateGasLimits"].(bool); calc && !p.OmitGasLimits {
		res["callGasLimit"] = "0x60000"
		res["verificationGasLimit"] = "0x110000"
		res["preVerificationGas"] = "0x21000"
	}

	return res, nil
}

// SetErr makes every paymaster call fail with err until reset with nil
func (p *Paymaster) SetErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Err = err
}

// PaymasterRequests returns a copy of the requests received so far
func (p *Paymaster) PaymasterRequests() []PaymasterRequest {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]PaymasterRequest(nil), p.Requests...)
}

// Upstream serves both fakes on a single httptest server
type Upstream struct {
	*httptest.Server

	Bundler   *Bundler
	Paymaster *Paymaster

	mu      sync.Mutex
	headers []http.Header
	delay   time.Duration
}

func NewUpstream(t *testing.T) *Upstream {
	t.Helper()

	u := &Upstream{
		Bundler:   &Bundler{},
		Paymaster: &Paymaster{},
	}

	srv := rpc.NewServer()
	if err := srv.RegisterName("eth", u.Bundler); err != nil {
		t.Fatal(err)
	}
	if err := srv.RegisterName("pm", u.Paymaster); err != nil {
		t.Fatal(err)
	}

	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		u.headers = append(u.headers, r.Header.Clone())
		delay := u.delay
		u.mu.Unlock()

		time.Sleep(delay)

		srv.ServeHTTP(w, r)
	}))

	t.Cleanup(func() {
		u.Server.Close()
		srv.Stop()
	})

	return u
}

// SetDelay makes every call wait d before it is served
func (u *Upstream) SetDelay(d time.Duration) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.delay = d
}

// Headers returns the request headers seen so far
func (u *Upstream) Headers() []http.Header {
	u.mu.Lock()
	defer u.mu.Unlock()

	return append([]http.Header(nil), u.headers...)
}

// UnreachableURL returns an address nothing listens on
func UnreachableURL(t *testing.T) string {
	t.Helper()

	s := httptest.NewServer(http.NotFoundHandler())
	url := s.URL
	s.Close()

	return url
}
