package fixedpoint

func Max(a, b Value) Value {
	if a > b {
		return a
	}
	return b
}

func Min(a, b Value) Value {
	if a < b {
		return a
	}
	return b
}

func Abs(a Value) Value {
	if a < 0 {
		return -a
	}
	return a
}

// Clamp limits v into the closed range [lo, hi].
func Clamp(v, lo, hi Value) Value {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
