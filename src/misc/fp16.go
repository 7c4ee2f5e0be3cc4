package misc

import "math"

const (
	float16Inf      = 0x7C00
	float16QuietNaN = 0x7E00
)

func Float16ToFloat32(value uint16) float32 {
	sign := uint32(value>>15) & 0x1
	exponent := uint32(value>>10) & 0x1F
	mantissa := uint32(value & 0x3FF)

	var bits uint32
	if exponent == 0 {
		if mantissa == 0 {
			bits = sign << 31
		} else {
			exponent = 127 - 14
			for (mantissa & 0x400) == 0 {
				mantissa <<= 1
				exponent--
			}
			mantissa &= 0x3FF
			bits = (sign << 31) | (exponent << 23) | (mantissa << 13)
		}
	} else if exponent == 0x1F {
		bits = (sign << 31) | 0x7F800000 | (mantissa << 13)
	} else {
		exponent = exponent + (127 - 15)
		bits = (sign << 31) | (exponent << 23) | (mantissa << 13)
	}

	return math.Float32frombits(bits)
}

func Float32ToFloat16(value float32) uint16 {
	return Float64ToFloat16(float64(value))
}

// Float64ToFloat16 rounds to the nearest half, ties to even. NaNs come out
// quiet with their sign kept.
func Float64ToFloat16(value float64) uint16 {
	bits := math.Float64bits(value)

	sign := uint16(bits>>48) & 0x8000
	exponent := int((bits>>52)&0x7FF) - 1023 + 15
	mantissa := bits & (1<<52 - 1)

	if (bits>>52)&0x7FF == 0x7FF {
		if mantissa != 0 {
			return sign | float16QuietNaN
		}
		return sign | float16Inf
	}
	if exponent >= 0x1F {
		return sign | float16Inf
	}

	if exponent <= 0 {
		if exponent < -10 {
			return sign
		}
		mantissa |= 1 << 52
		shift := uint(43 - exponent)
		half := uint16(mantissa >> shift)
		rest := mantissa & (1<<shift - 1)
		halfway := uint64(1) << (shift - 1)
		if rest > halfway || (rest == halfway && half&1 == 1) {
			half++
		}
		return sign | half
	}

	half := uint16(exponent)<<10 | uint16(mantissa>>42)
	rest := mantissa & (1<<42 - 1)
	if rest > 1<<41 || (rest == 1<<41 && half&1 == 1) {
		half++
	}
	return sign | half
}

// AddFloat16 adds two halves. The float64 sum is exact, so the result is
// rounded only once.
func AddFloat16(a, b uint16) uint16 {
	return Float64ToFloat16(float64(Float16ToFloat32(a)) + float64(Float16ToFloat32(b)))
}

func MulFloat16(a, b uint16) uint16 {
	return Float64ToFloat16(float64(Float16ToFloat32(a)) * float64(Float16ToFloat32(b)))
}
