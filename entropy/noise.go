package entropy

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/aead/serpent"
	"github.com/seehuhn/fortuna"
)

// Cipher selects the block cipher driving a NoiseCell's Fortuna generator.
type Cipher string

// Supported ciphers.
const (
	CipherAES     Cipher = "aes"
	CipherSerpent Cipher = "serpent"
)

func (c Cipher) newCipher() (func(key []byte) (cipher.Block, error), error) {
	switch c {
	case CipherAES, "":
		return aes.NewCipher, nil
	case CipherSerpent:
		return serpent.NewCipher, nil
	default:
		return nil, fmt.Errorf("unknown or unsupported cipher: %s", c)
	}
}

// NoiseCell stands in for a physical noise source by drawing bits from a
// Fortuna generator seeded from the OS. It honors the Cell contract: no
// emission while the trigger is low, an unpredictable bit otherwise. The
// selector inputs are accepted but have no digital-level effect; on real
// silicon they move the cell's analog operating point.
type NoiseCell struct {
	gen  *fortuna.Generator
	buf  byte
	left int
}

// NewNoiseCell creates a noise cell using the given cipher for its
// generator. An empty cipher defaults to AES.
func NewNoiseCell(c Cipher) (*NoiseCell, error) {
	newCipher, err := c.newCipher()
	if err != nil {
		return nil, err
	}

	gen := fortuna.NewGenerator(newCipher)

	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("could not read entropy from os: %w", err)
	}
	gen.Reseed(seed)

	return &NoiseCell{gen: gen}, nil
}

// Eval implements Cell.
func (n *NoiseCell) Eval(trigger, _, _ bool) bool {
	if !trigger {
		return false
	}
	if n.left == 0 {
		n.buf = n.gen.PseudoRandomData(1)[0]
		n.left = 8
	}
	bit := n.buf & 1
	n.buf >>= 1
	n.left--
	return bit == 1
}
