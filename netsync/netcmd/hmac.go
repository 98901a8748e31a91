package netcmd

import (
	"crypto/hmac"
	"crypto/sha1"
)

// MACSize is the size of the HMAC trailing every authenticated command.
const MACSize = sha1.Size

// ChainedHMAC authenticates a stream of commands in one direction. Every MAC
// covers the previous MAC followed by the frame, so dropped, reordered or
// replayed frames break the chain.
type ChainedHMAC struct {
	key   []byte
	chain [MACSize]byte
}

// NewChainedHMAC returns a chain keyed with key. A nil key is the all-zero
// key used before a session key is agreed on.
func NewChainedHMAC(key []byte) *ChainedHMAC {
	h := &ChainedHMAC{}
	h.SetKey(key)
	return h
}

// SetKey replaces the key. The chain value carries over.
func (h *ChainedHMAC) SetKey(key []byte) {
	if key == nil {
		key = make([]byte, SessionKeySize)
	}
	h.key = append([]byte(nil), key...)
}

// Process advances the chain over data and returns the new MAC.
func (h *ChainedHMAC) Process(data []byte) [MACSize]byte {
	mac := hmac.New(sha1.New, h.key)
	mac.Write(h.chain[:])
	mac.Write(data)
	mac.Sum(h.chain[:0])
	return h.chain
}
