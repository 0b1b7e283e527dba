package amount

import (
	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// IsWallet reports whether addr is an ed25519 curve point, i.e. a key that
// can sign. Program-derived addresses are off-curve by construction.
func IsWallet(addr string) bool {
	b, err := base58.Decode(addr)
	if err != nil {
		return false
	}
	return isOnCurve(b)
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
