package permission

// Mask64 is a 64-bit grant set indexed by Verb. Wide enough for the closed
// verb set with room to grow; a wider mask would need a new wire version in
// any store that persists one.
type Mask64 uint64

func (m *Mask64) Has(bit int) bool {
	if bit < 0 || bit >= 64 {
		return false
	}
	return (*m & (1 << bit)) != 0
}

func (m *Mask64) Set(bit int) {
	if bit < 0 || bit >= 64 {
		return
	}
	*m |= (1 << bit)
}

func (m *Mask64) Clear(bit int) {
	if bit < 0 || bit >= 64 {
		return
	}
	*m &^= (1 << bit)
}

func (m *Mask64) Raw() uint64 {
	return uint64(*m)
}

func maskOf(verbs ...Verb) Mask64 {
	var m Mask64
	for _, v := range verbs {
		m.Set(int(v))
	}
	return m
}
