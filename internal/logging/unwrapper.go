package logging

// Unwrapper extends 16 bit RTP sequence numbers to 64 bit so that they keep
// increasing across wrap arounds. The first value is taken as is.
type Unwrapper struct {
	init bool
	last uint16
	cur  int64
}

func (u *Unwrapper) Unwrap(seq uint16) int64 {
	if !u.init {
		u.init = true
		u.last = seq
		u.cur = int64(seq)
		return u.cur
	}
	// the signed difference picks the closest candidate
	diff := int16(seq - u.last)
	u.cur += int64(diff)
	u.last = seq
	return u.cur
}
