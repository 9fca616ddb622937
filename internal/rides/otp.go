package rides

import (
	"crypto/rand"
	"math/big"
)

// newOTP returns a 4-digit one-time code shared with the rider
// out-of-band and verified by the driver at pickup or drop.
func newOTP() string {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		// crypto/rand only fails when the OS entropy source is broken
		return "0000"
	}
	digits := []byte{'0', '0', '0', '0'}
	v := n.Int64()
	for i := 3; i >= 0 && v > 0; i-- {
		digits[i] = byte('0' + v%10)
		v /= 10
	}
	return string(digits)
}
