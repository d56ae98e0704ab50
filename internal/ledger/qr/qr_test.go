package qr

import (
	"bytes"
	"image/png"
	"testing"
	"time"

	"eventtix/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTicket() *models.Ticket {
	return &models.Ticket{
		ID:          "t-1",
		EventID:     "evt-1",
		UserID:      "user-1",
		Type:        models.TicketVIP,
		Quantity:    2,
		PurchasedAt: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestEncryptDecrypt(t *testing.T) {
	g, err := NewGenerator("qr-secret")
	require.NoError(t, err)

	a, err := g.Encrypt(testTicket())
	require.NoError(t, err)
	b, err := g.Encrypt(testTicket())
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "every encoding uses a fresh nonce")

	p, err := g.Decrypt(a)
	require.NoError(t, err)
	assert.Equal(t, "t-1", p.TicketID)
	assert.Equal(t, models.TicketVIP, p.Type)
	assert.Equal(t, 2, p.Quantity)
	assert.True(t, p.IssuedAt.Equal(testTicket().PurchasedAt))
}

func TestDecryptRejectsForeignPayloads(t *testing.T) {
	g, err := NewGenerator("qr-secret")
	require.NoError(t, err)
	other, err := NewGenerator("another-secret")
	require.NoError(t, err)

	encoded, err := other.Encrypt(testTicket())
	require.NoError(t, err)

	for _, in := range []string{encoded, "not base64!", "AAAA"} {
		_, err := g.Decrypt(in)
		assert.ErrorIs(t, err, ErrInvalidPayload, in)
	}
}

func TestPNG(t *testing.T) {
	g, err := NewGenerator("qr-secret")
	require.NoError(t, err)

	img, err := g.PNG(testTicket())
	require.NoError(t, err)
	decoded, err := png.Decode(bytes.NewReader(img))
	require.NoError(t, err)
	assert.Equal(t, 256, decoded.Bounds().Dx())
}
