package payment_api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"eventtix/internal/payment"
	"eventtix/internal/payment/payment_api"
	"eventtix/internal/payment/wallet"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type railOnly payment.Rail

func (r railOnly) Rail() payment.Rail { return payment.Rail(r) }

func (r railOnly) Attempt(ctx context.Context, charge payment.Charge) (payment.Proof, error) {
	return payment.Proof{}, nil
}

func TestListMethods(t *testing.T) {
	h := &payment_api.Handler{Methods: payment.NewRegistry(railOnly(payment.RailWallet), railOnly(payment.RailGateway))}

	w := httptest.NewRecorder()
	h.ListMethods(w, httptest.NewRequest(http.MethodGet, "/payments/methods", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data struct {
			Methods []string `json:"methods"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []string{"gateway", "wallet"}, body.Data.Methods)
}

func TestWalletChain(t *testing.T) {
	chain := wallet.TelosTestnet()
	h := &payment_api.Handler{Methods: payment.NewRegistry(), Chain: &chain}

	w := httptest.NewRecorder()
	h.WalletChain(w, httptest.NewRequest(http.MethodGet, "/payments/wallet/chain", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data wallet.AddChainRequest `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "0x29", body.Data.ChainID)
	assert.Equal(t, "TLOS", body.Data.NativeCurrency.Symbol)
	assert.Equal(t, []string{"https://testnet.telos.net/evm"}, body.Data.RPCURLs)
}

func TestWalletChainWhenDisabled(t *testing.T) {
	h := &payment_api.Handler{Methods: payment.NewRegistry()}

	w := httptest.NewRecorder()
	h.WalletChain(w, httptest.NewRequest(http.MethodGet, "/payments/wallet/chain", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
