package kbin

import "fmt"

const sixbitAlphabet = "0123456789:ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz"

var sixbitIndex = func() [256]int8 {
	var idx [256]int8
	for i := range idx {
		idx[i] = -1
	}
	for i := 0; i < len(sixbitAlphabet); i++ {
		idx[sixbitAlphabet[i]] = int8(i)
	}
	return idx
}()

const maxSixbitLength = 255

// packSixbit returns the packed 6-bit form of name, most significant bits
// first, zero-padded to a whole byte. The length byte is not included.
func packSixbit(name string) ([]byte, error) {
	if len(name) == 0 || len(name) > maxSixbitLength {
		return nil, fmt.Errorf("%w: %q length must be 1..%d", ErrInvalidName, name, maxSixbitLength)
	}
	out := make([]byte, (len(name)*6+7)/8)
	bit := 0
	for i := 0; i < len(name); i++ {
		v := sixbitIndex[name[i]]
		if v < 0 {
			return nil, fmt.Errorf("%w: %q has character %q outside the sixbit alphabet", ErrInvalidName, name, name[i])
		}
		for b := 5; b >= 0; b-- {
			if v&(1<<b) != 0 {
				out[bit/8] |= 0x80 >> (bit % 8)
			}
			bit++
		}
	}
	return out, nil
}

// unpackSixbit reverses packSixbit for a name of length n.
func unpackSixbit(packed []byte, n int) (string, error) {
	if len(packed) != (n*6+7)/8 {
		return "", fmt.Errorf("%w: %d packed bytes for %d characters", ErrInvalidName, len(packed), n)
	}
	name := make([]byte, n)
	bit := 0
	for i := 0; i < n; i++ {
		var v byte
		for b := 0; b < 6; b++ {
			v <<= 1
			if packed[bit/8]&(0x80>>(bit%8)) != 0 {
				v |= 1
			}
			bit++
		}
		name[i] = sixbitAlphabet[v]
	}
	return string(name), nil
}
