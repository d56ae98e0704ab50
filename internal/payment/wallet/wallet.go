// Package wallet collects payment as a native-coin transfer on an EVM chain,
// signed in the buyer's own browser wallet. The server never holds a key: it
// describes the transfer, waits for the buyer to report the transaction,
// and verifies on chain that it pays what was quoted.
package wallet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"eventtix/internal/logger"
	"eventtix/internal/models"
	"eventtix/internal/money"
	"eventtix/internal/payment"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// JSON-RPC error codes wallets and nodes use for the two failure classes.
const (
	codeUserRejected  = 4001
	codeInternalError = -32603
)

const (
	defaultSubmitTimeout  = 15 * time.Minute
	defaultConfirmTimeout = 10 * time.Minute
	defaultPollInterval   = 2 * time.Second
	// blocks are stamped by the chain's clock, not ours
	defaultClockSkew = 2 * time.Minute
)

// Backend is the subset of a node client verification needs.
// *ethclient.Client satisfies it.
type Backend interface {
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

var _ Backend = (*ethclient.Client)(nil)

// Dial connects to the chain's RPC endpoint.
func Dial(ctx context.Context, chain ChainParams) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, chain.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", chain.RPCURL, err)
	}
	return client, nil
}

// PaymentMemo is the calldata a transfer must carry to pay for sel on behalf
// of payer. It ties a transaction to one buyer and one selection, so a hash
// cannot be claimed by anyone else.
func PaymentMemo(payer string, sel models.TicketSelection) []byte {
	return crypto.Keccak256([]byte(fmt.Sprintf("eventtix:%s:%s:%s:%d", payer, sel.EventID, sel.Type, sel.Quantity)))
}

type Options struct {
	SubmitTimeout  time.Duration
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	ClockSkew      time.Duration
	Now            func() time.Time
}

type Strategy struct {
	backend        Backend
	submissions    *Submissions
	chain          ChainParams
	submitTimeout  time.Duration
	confirmTimeout time.Duration
	pollInterval   time.Duration
	clockSkew      time.Duration
	now            func() time.Time
	logger         *logger.Logger
}

func New(backend Backend, submissions *Submissions, chain ChainParams, opts Options, log *logger.Logger) *Strategy {
	s := &Strategy{
		backend:        backend,
		submissions:    submissions,
		chain:          chain,
		submitTimeout:  opts.SubmitTimeout,
		confirmTimeout: opts.ConfirmTimeout,
		pollInterval:   opts.PollInterval,
		clockSkew:      opts.ClockSkew,
		now:            opts.Now,
		logger:         log,
	}
	if s.submitTimeout <= 0 {
		s.submitTimeout = defaultSubmitTimeout
	}
	if s.confirmTimeout <= 0 {
		s.confirmTimeout = defaultConfirmTimeout
	}
	if s.pollInterval <= 0 {
		s.pollInterval = defaultPollInterval
	}
	if s.clockSkew <= 0 {
		s.clockSkew = defaultClockSkew
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Strategy) Rail() payment.Rail {
	return payment.RailWallet
}

func (s *Strategy) Chain() ChainParams {
	return s.chain
}

// expectation is what a transaction must look like to pay a charge.
type expectation struct {
	to        common.Address
	value     *big.Int
	memo      []byte
	notBefore time.Time
}

func (s *Strategy) expect(charge payment.Charge) (expectation, error) {
	if !common.IsHexAddress(charge.Receiver) {
		return expectation{}, fmt.Errorf("%w: %q", payment.ErrInvalidAddress, charge.Receiver)
	}
	if !charge.Amount.IsPositive() {
		return expectation{}, fmt.Errorf("%w: %s", payment.ErrInvalidAmount, charge.Amount)
	}
	value, err := money.ToBaseUnits(charge.Amount, int32(s.chain.NativeCurrency.Decimals))
	if err != nil {
		return expectation{}, fmt.Errorf("%w: %w", payment.ErrInvalidAmount, err)
	}
	return expectation{
		to:    common.HexToAddress(charge.Receiver),
		value: value,
		memo:  PaymentMemo(charge.Payer, charge.Selection),
	}, nil
}

// Attempt asks the buyer's wallet to send the transfer and returns once the
// reported transaction is mined and matches the charge. The receiver is
// validated before anything touches the network.
func (s *Strategy) Attempt(ctx context.Context, charge payment.Charge) (payment.Proof, error) {
	want, err := s.expect(charge)
	if err != nil {
		return payment.Proof{}, err
	}

	// Step 1: make sure the node serves the chain we quote prices on
	chainID, err := s.backend.ChainID(ctx)
	if err != nil {
		return payment.Proof{}, classify(err)
	}
	if chainID.Cmp(s.chain.ChainID) != 0 {
		return payment.Proof{}, fmt.Errorf("%w: connected to chain %s, expected %s (%s)",
			payment.ErrNetwork, chainID, s.chain.ChainID, s.chain.Name)
	}

	// Step 2: hand the transfer to the buyer
	want.notBefore = s.now()
	submissions := s.submissions.Register(charge.AttemptID)
	defer s.submissions.Forget(charge.AttemptID)

	charge.Report(payment.Action{
		Kind:      payment.ActionSign,
		Reference: charge.AttemptID,
		Transfer: &models.WalletTransfer{
			ChainID: s.chain.ChainIDHex(),
			To:      want.to.Hex(),
			Value:   hexutil.EncodeBig(want.value),
			Data:    hexutil.Encode(want.memo),
		},
	})
	s.logger.LogPayment(string(payment.RailWallet), charge.AttemptID, fmt.Sprintf("awaiting buyer transfer of %s %s to %s",
		charge.Amount, s.chain.NativeCurrency.Symbol, want.to.Hex()))

	timer := time.NewTimer(s.submitTimeout)
	defer timer.Stop()

	var sub Submission
	select {
	case sub = <-submissions:
	case <-timer.C:
		return payment.Proof{}, fmt.Errorf("%w: no transaction was submitted within %s", payment.ErrCancelled, s.submitTimeout)
	case <-ctx.Done():
		return payment.Proof{}, ctx.Err()
	}
	if sub.ErrorCode != 0 || sub.TxHash == "" {
		return payment.Proof{}, submissionError(sub)
	}

	hash, err := parseHash(sub.TxHash)
	if err != nil {
		return payment.Proof{}, err
	}
	ref := hash.Hex()
	s.logger.LogPayment(string(payment.RailWallet), ref, fmt.Sprintf("buyer submitted transaction for attempt %s", charge.AttemptID))
	charge.Report(payment.Action{Kind: payment.ActionSubmitted, Reference: ref, URL: s.chain.TxURL(ref)})

	// Step 3: the buyer may have paid; confirming must not be abandoned with the caller
	confirmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.confirmTimeout)
	defer cancel()
	tx, err := s.awaitTransaction(confirmCtx, hash)
	if err != nil {
		return payment.Proof{}, err
	}
	if err := s.check(tx, want); err != nil {
		return payment.Proof{}, err
	}
	receipt, err := bind.WaitMined(confirmCtx, s.backend, tx)
	if err != nil {
		return payment.Proof{}, fmt.Errorf("%w: waiting for %s: %w", payment.ErrNetwork, ref, err)
	}
	if err := s.checkReceipt(confirmCtx, receipt, want); err != nil {
		return payment.Proof{}, err
	}

	s.logger.LogPayment(string(payment.RailWallet), ref, fmt.Sprintf("mined in block %s", receipt.BlockNumber))
	return payment.Proof{Rail: payment.RailWallet, Reference: ref}, nil
}

// Verify checks that reference is a mined transaction paying charge on
// behalf of charge.Payer.
func (s *Strategy) Verify(ctx context.Context, reference string, charge payment.Charge) (payment.Proof, error) {
	want, err := s.expect(charge)
	if err != nil {
		return payment.Proof{}, err
	}
	hash, err := parseHash(reference)
	if err != nil {
		return payment.Proof{}, err
	}
	tx, pending, err := s.backend.TransactionByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return payment.Proof{}, fmt.Errorf("%w: transaction %s not found", payment.ErrUnverified, hash.Hex())
	}
	if err != nil {
		return payment.Proof{}, classify(err)
	}
	if pending {
		return payment.Proof{}, fmt.Errorf("%w: transaction %s is not mined yet", payment.ErrUnverified, hash.Hex())
	}
	if err := s.check(tx, want); err != nil {
		return payment.Proof{}, err
	}
	receipt, err := s.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return payment.Proof{}, fmt.Errorf("%w: transaction %s has no receipt", payment.ErrUnverified, hash.Hex())
	}
	if err != nil {
		return payment.Proof{}, classify(err)
	}
	if err := s.checkReceipt(ctx, receipt, want); err != nil {
		return payment.Proof{}, err
	}
	return payment.Proof{Rail: payment.RailWallet, Reference: hash.Hex()}, nil
}

// awaitTransaction polls until the node knows hash. A freshly broadcast
// transaction can take a moment to reach the node we ask.
func (s *Strategy) awaitTransaction(ctx context.Context, hash common.Hash) (*types.Transaction, error) {
	tick := time.NewTicker(s.pollInterval)
	defer tick.Stop()
	for {
		tx, _, err := s.backend.TransactionByHash(ctx, hash)
		if err == nil {
			return tx, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, classify(err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: transaction %s never reached the node", payment.ErrUnverified, hash.Hex())
		case <-tick.C:
		}
	}
}

func (s *Strategy) check(tx *types.Transaction, want expectation) error {
	hash := tx.Hash().Hex()
	switch {
	case tx.ChainId() == nil || tx.ChainId().Cmp(s.chain.ChainID) != 0:
		return fmt.Errorf("%w: transaction %s is not on chain %s", payment.ErrUnverified, hash, s.chain.ChainID)
	case tx.To() == nil || *tx.To() != want.to:
		return fmt.Errorf("%w: transaction %s does not pay %s", payment.ErrUnverified, hash, want.to.Hex())
	case tx.Value().Cmp(want.value) != 0:
		return fmt.Errorf("%w: transaction %s moves %s, expected %s", payment.ErrUnverified, hash, tx.Value(), want.value)
	case !bytes.Equal(tx.Data(), want.memo):
		return fmt.Errorf("%w: transaction %s", payment.ErrPayerMismatch, hash)
	}
	return nil
}

func (s *Strategy) checkReceipt(ctx context.Context, receipt *types.Receipt, want expectation) error {
	hash := receipt.TxHash.Hex()
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: transaction %s reverted", payment.ErrNetwork, hash)
	}
	if want.notBefore.IsZero() {
		return nil
	}
	header, err := s.backend.HeaderByNumber(ctx, receipt.BlockNumber)
	if err != nil {
		return classify(err)
	}
	mined := time.Unix(int64(header.Time), 0)
	if mined.Before(want.notBefore.Add(-s.clockSkew)) {
		return fmt.Errorf("%w: transaction %s was mined at %s, before this purchase started", payment.ErrUnverified, hash, mined.UTC())
	}
	return nil
}

func parseHash(ref string) (common.Hash, error) {
	ref = strings.TrimSpace(ref)
	if len(ref) != 2+2*common.HashLength || !strings.HasPrefix(ref, "0x") {
		return common.Hash{}, fmt.Errorf("%w: %q is not a transaction hash", payment.ErrUnverified, ref)
	}
	raw, err := hexutil.Decode(ref)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %q is not a transaction hash", payment.ErrUnverified, ref)
	}
	return common.BytesToHash(raw), nil
}

// submissionError maps the error a browser wallet returned onto the payment
// failure kinds.
func submissionError(sub Submission) error {
	msg := sub.ErrorMessage
	if msg == "" {
		msg = "wallet returned no transaction"
	}
	switch sub.ErrorCode {
	case codeUserRejected:
		return fmt.Errorf("%w: %s", payment.ErrUserRejected, msg)
	case codeInternalError:
		return fmt.Errorf("%w: wallet internal error: %s", payment.ErrNetwork, msg)
	}
	return fmt.Errorf("%w: wallet error %d: %s", payment.ErrNetwork, sub.ErrorCode, msg)
}

// classify maps node errors onto the payment failure kinds. Context errors
// pass through untouched so callers can tell cancellation apart from rail
// failures.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, payment.ErrUserRejected) || errors.Is(err, payment.ErrNetwork) {
		return err
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case codeUserRejected:
			return fmt.Errorf("%w: %w", payment.ErrUserRejected, err)
		case codeInternalError:
			return fmt.Errorf("%w: node internal error: %w", payment.ErrNetwork, err)
		}
	}
	return fmt.Errorf("%w: %w", payment.ErrNetwork, err)
}
