package bundler

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/citizenwallet/aa-gateway/internal/metrics"
	"github.com/citizenwallet/aa-gateway/internal/testutil"
	"github.com/citizenwallet/aa-gateway/pkg/userop"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var hashRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)

func signedOp() userop.UserOperation {
	return userop.UserOperation{
		Sender:               "0x1234567890123456789012345678901234567890",
		Nonce:                "0x0",
		CallData:             "0x",
		CallGasLimit:         "0x10000",
		VerificationGasLimit: "0x10000",
		PreVerificationGas:   "0x5000",
		MaxFeePerGas:         "0x3b9aca00",
		MaxPriorityFeePerGas: "0x3b9aca00",
		Signature:            "0x" + "11",
		Paymaster:            userop.Optional(testutil.PaymasterAddress),
		PaymasterData:        userop.Optional(testutil.PaymasterData),
	}
}

func newTestBundler(t *testing.T, conf Config) *Bundler {
	t.Helper()

	b, err := New(context.Background(), conf, metrics.New(prometheus.NewRegistry()), zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(b.Close)

	return b
}

func TestSubmit(t *testing.T) {
	up := testutil.NewUpstream(t)

	b := newTestBundler(t, Config{
		Endpoint:   up.URL,
		APIKey:     "secret-key",
		EntryPoint: userop.DefaultEntryPoint,
		ChainID:    1946,
	})

	hash, err := b.Submit(context.Background(), signedOp())
	require.NoError(t, err)
	require.Regexp(t, hashRegex, hash)

	sent := up.Bundler.SentOps()
	require.Len(t, sent, 1)
	require.Equal(t, testutil.PaymasterAddress, sent[0]["paymaster"])
	require.Equal(t, userop.DefaultEntryPoint, up.Bundler.SentEntryPoints()[0])

	t.Run("unset optional fields are omitted", func(t *testing.T) {
		for _, k := range []string{"factory", "factoryData", "paymasterVerificationGasLimit", "paymasterPostOpGasLimit"} {
			_, ok := sent[0][k]
			require.Falsef(t, ok, "%s should be omitted", k)
		}
	})

	t.Run("api key header is sent", func(t *testing.T) {
		headers := up.Headers()
		require.NotEmpty(t, headers)
		require.Equal(t, "secret-key", headers[0].Get("x-api-key"))
	})
}

func TestSubmitUpstreamError(t *testing.T) {
	up := testutil.NewUpstream(t)
	up.Bundler.SendErr = errors.New("AA21 didn't pay prefund")

	b := newTestBundler(t, Config{Endpoint: up.URL, EntryPoint: userop.DefaultEntryPoint, ChainID: 1946})

	_, err := b.Submit(context.Background(), signedOp())
	require.Error(t, err)
	require.ErrorIs(t, err, userop.ErrUpstream)
	require.Contains(t, err.Error(), "Failed to send UserOperation")
	require.Contains(t, err.Error(), "AA21 didn't pay prefund")
}

func TestConfiguration(t *testing.T) {
	up := testutil.NewUpstream(t)

	tests := []struct {
		name    string
		conf    Config
		missing string
	}{
		{"no endpoint", Config{EntryPoint: userop.DefaultEntryPoint, ChainID: 1946}, "BUNDLER_URL"},
		{"no entry point", Config{Endpoint: up.URL, ChainID: 1946}, "ENTRY_POINT_ADDRESS"},
		{"no chain id", Config{Endpoint: up.URL, EntryPoint: userop.DefaultEntryPoint}, "CHAIN_ID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBundler(t, tt.conf)
			require.False(t, b.Configured())

			_, err := b.Submit(context.Background(), signedOp())
			require.ErrorIs(t, err, userop.ErrConfiguration)
			require.EqualError(t, err, "Failed to send UserOperation: "+tt.missing+" is not set in environment variables")

			_, err = b.GetReceipt(context.Background(), "0x"+strings.Repeat("ab", 32))
			require.ErrorIs(t, err, userop.ErrConfiguration)
		})
	}

	require.Empty(t, up.Bundler.SentOps())
}

func TestGetReceipt(t *testing.T) {
	up := testutil.NewUpstream(t)

	b := newTestBundler(t, Config{Endpoint: up.URL, EntryPoint: userop.DefaultEntryPoint, ChainID: 1946})

	t.Run("unknown hash is pending", func(t *testing.T) {
		r, err := b.GetReceipt(context.Background(), "0x"+strings.Repeat("00", 32))
		require.NoError(t, err)
		require.Nil(t, r)
	})

	t.Run("included operation", func(t *testing.T) {
		hash, err := b.Submit(context.Background(), signedOp())
		require.NoError(t, err)

		r, err := b.GetReceipt(context.Background(), hash)
		require.NoError(t, err)
		require.NotNil(t, r)
		require.Equal(t, hash, r.UserOpHash)
		require.Regexp(t, hashRegex, r.TransactionHash)
		require.Equal(t, "0x10", r.BlockNumber)
		require.True(t, r.Success)
		require.Equal(t, "0x5208", r.ActualGasUsed)
		require.NotNil(t, r.Logs)
	})

	t.Run("missing fields get defaults", func(t *testing.T) {
		hash := "0x" + strings.Repeat("cd", 32)
		up.Bundler.SetReceipt(hash, map[string]any{
			"success": false,
			"receipt": map[string]any{
				"transactionHash": "0x" + strings.Repeat("ef", 32),
				"blockNumber":     "0x1",
			},
		})

		r, err := b.GetReceipt(context.Background(), hash)
		require.NoError(t, err)
		require.NotNil(t, r)
		require.False(t, r.Success)
		require.Equal(t, "0x0", r.ActualGasUsed)
		require.Equal(t, []any{}, r.Logs)
	})

	t.Run("receipt without transaction hash is pending", func(t *testing.T) {
		hash := "0x" + strings.Repeat("ee", 32)
		up.Bundler.SetReceipt(hash, map[string]any{"success": true})

		r, err := b.GetReceipt(context.Background(), hash)
		require.NoError(t, err)
		require.Nil(t, r)
	})

	t.Run("upstream error", func(t *testing.T) {
		up.Bundler.SetReceiptErr(errors.New("internal bundler error"))
		defer up.Bundler.SetReceiptErr(nil)

		r, err := b.GetReceipt(context.Background(), "0x"+strings.Repeat("00", 32))
		require.Nil(t, r)
		require.ErrorIs(t, err, userop.ErrUpstream)
		require.Contains(t, err.Error(), "Failed to get UserOperation receipt")
	})
}

func TestUnreachableBundler(t *testing.T) {
	b := newTestBundler(t, Config{Endpoint: testutil.UnreachableURL(t), EntryPoint: userop.DefaultEntryPoint, ChainID: 1946})

	_, err := b.Submit(context.Background(), signedOp())
	require.ErrorIs(t, err, userop.ErrUpstream)
	require.Contains(t, err.Error(), "Failed to send UserOperation")
}
