package crypto

// zero overwrites b in place.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func clone(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
