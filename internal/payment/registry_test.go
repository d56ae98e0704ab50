package payment_test

import (
	"context"
	"testing"

	"eventtix/internal/payment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStrategy struct{ rail payment.Rail }

func (s stubStrategy) Rail() payment.Rail { return s.rail }

func (s stubStrategy) Attempt(ctx context.Context, charge payment.Charge) (payment.Proof, error) {
	return payment.Proof{Rail: s.rail, Reference: charge.AttemptID}, nil
}

func TestRegistryLookup(t *testing.T) {
	reg := payment.NewRegistry(stubStrategy{payment.RailWallet}, stubStrategy{payment.RailGateway})

	s, err := reg.Get("wallet")
	require.NoError(t, err)
	assert.Equal(t, payment.RailWallet, s.Rail())

	_, err = reg.Get("cash")
	assert.Error(t, err)

	assert.Equal(t, []string{"gateway", "wallet"}, reg.Methods())
}

func TestChargeReportWithoutNotify(t *testing.T) {
	var got []payment.Action
	payment.Charge{}.Report(payment.Action{Kind: payment.ActionSubmitted})

	c := payment.Charge{Notify: func(a payment.Action) { got = append(got, a) }}
	c.Report(payment.Action{Kind: payment.ActionRedirect, URL: "https://pay"})

	require.Len(t, got, 1)
	assert.Equal(t, "https://pay", got[0].URL)
}

type verifyingStrategy struct{ stubStrategy }

func (v verifyingStrategy) Verify(ctx context.Context, reference string, charge payment.Charge) (payment.Proof, error) {
	return payment.Proof{Rail: v.rail, Reference: reference}, nil
}

func TestRegistryVerifier(t *testing.T) {
	reg := payment.NewRegistry(stubStrategy{payment.RailWallet}, verifyingStrategy{stubStrategy{payment.RailGateway}})

	v, err := reg.Verifier("gateway")
	require.NoError(t, err)
	proof, err := v.Verify(context.Background(), "pi_1", payment.Charge{})
	require.NoError(t, err)
	assert.Equal(t, "pi_1", proof.Reference)

	_, err = reg.Verifier("wallet")
	assert.Error(t, err, "a rail that cannot verify must not be trusted")
	_, err = reg.Verifier("cash")
	assert.Error(t, err)
}
