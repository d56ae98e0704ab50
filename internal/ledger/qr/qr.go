// Package qr renders tickets as QR codes whose payload only the service can
// read back.
package qr

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"eventtix/internal/models"

	"github.com/skip2/go-qrcode"
)

var ErrInvalidPayload = errors.New("invalid QR payload")

// Payload is what a ticket QR code carries.
type Payload struct {
	TicketID string            `json:"tid"`
	EventID  string            `json:"eid"`
	UserID   string            `json:"uid"`
	Type     models.TicketType `json:"type"`
	Quantity int               `json:"qty"`
	IssuedAt time.Time         `json:"iat"`
}

type Generator struct {
	aead cipher.AEAD
	size int
}

func NewGenerator(secret string) (*Generator, error) {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	block, err := aes.NewCipher(hashed[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Generator{aead: aead, size: 256}, nil
}

// Encrypt seals the ticket's payload into a URL-safe string.
func (g *Generator) Encrypt(ticket *models.Ticket) (string, error) {
	data, err := json.Marshal(Payload{
		TicketID: ticket.ID,
		EventID:  ticket.EventID,
		UserID:   ticket.UserID,
		Type:     ticket.Type,
		Quantity: ticket.Quantity,
		IssuedAt: ticket.PurchasedAt,
	})
	if err != nil {
		return "", err
	}
	nonce := make([]byte, g.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := g.aead.Seal(nonce, nonce, data, nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a string produced by Encrypt.
func (g *Generator) Decrypt(encoded string) (*Payload, error) {
	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	ns := g.aead.NonceSize()
	if len(raw) < ns {
		return nil, fmt.Errorf("%w: too short", ErrInvalidPayload)
	}
	data, err := g.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return &p, nil
}

// PNG renders the ticket's encrypted payload as a QR code image.
func (g *Generator) PNG(ticket *models.Ticket) ([]byte, error) {
	encrypted, err := g.Encrypt(ticket)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(encrypted, qrcode.Medium, g.size)
}
