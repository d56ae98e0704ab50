package payment_api

import (
	"net/http"

	"eventtix/internal/payment"
	"eventtix/internal/payment/wallet"
	"eventtix/internal/utils"
)

type Handler struct {
	Methods *payment.Registry
	// Chain is nil when the wallet rail is disabled.
	Chain *wallet.ChainParams
}

type methodsResponse struct {
	Methods []string `json:"methods"`
}

func (h *Handler) ListMethods(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Payment methods", methodsResponse{Methods: h.Methods.Methods()}))
}

// WalletChain returns the network a browser wallet must be on, in the shape
// wallet_addEthereumChain expects.
func (h *Handler) WalletChain(w http.ResponseWriter, r *http.Request) {
	if h.Chain == nil {
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Wallet payments are disabled", ""))
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Wallet chain", h.Chain.AddChainRequest()))
}
