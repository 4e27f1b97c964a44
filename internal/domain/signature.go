package domain

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Signature is a detached ed25519 signature over an entry's signing bytes.
// Hex encoding keeps signatures printable in the line-oriented store format.
type Signature struct {
	KeyID     string `json:"key_id"`
	PublicKey string `json:"public_key"`
	Sig       string `json:"sig"`
}

// SigningBytes serializes the signed subset of an entry's fields in a fixed
// order: sequence, timestamp, intent, correlation id, then each posting.
// The hash fields are excluded so signatures can be produced before commit.
func SigningBytes(e Entry) []byte {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(e.Sequence, 10))
	b.WriteByte('\n')
	b.WriteString(e.Timestamp.UTC().Format("2006-01-02T15:04:05.000000000Z"))
	b.WriteByte('\n')
	b.WriteString(string(e.Intent))
	b.WriteByte('\n')
	b.WriteString(e.CorrelationID)
	b.WriteByte('\n')
	for _, p := range e.Postings {
		b.WriteString(p.Account.String())
		b.WriteByte('|')
		b.WriteString(string(p.Side))
		b.WriteByte('|')
		b.WriteString(p.Amount.String())
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

func SignEntry(e Entry, keyID string, priv ed25519.PrivateKey) Signature {
	sig := ed25519.Sign(priv, SigningBytes(e))
	pub := priv.Public().(ed25519.PublicKey)
	return Signature{
		KeyID:     keyID,
		PublicKey: hex.EncodeToString(pub),
		Sig:       hex.EncodeToString(sig),
	}
}

func VerifySignatures(e Entry) error {
	msg := SigningBytes(e)
	for _, s := range e.Signatures {
		pub, err := hex.DecodeString(s.PublicKey)
		if err != nil || len(pub) != ed25519.PublicKeySize {
			return fmt.Errorf("VerifySignatures: key %s: bad public key: %w", s.KeyID, ErrInvalidSignature)
		}
		sig, err := hex.DecodeString(s.Sig)
		if err != nil {
			return fmt.Errorf("VerifySignatures: key %s: bad signature encoding: %w", s.KeyID, ErrInvalidSignature)
		}
		if !ed25519.Verify(ed25519.PublicKey(pub), msg, sig) {
			return fmt.Errorf("VerifySignatures: key %s: %w", s.KeyID, ErrInvalidSignature)
		}
	}
	return nil
}
