package validation

import "unicode"

// Веса разрядов NIT по методике DIAN, от младшего разряда к старшему.
var nitWeights = []int{3, 7, 13, 17, 19, 23, 29, 37, 41, 43, 47, 53, 59, 67, 71}

// IsValidNIT проверяет номер NIT. Номер может содержать контрольную цифру
// через дефис ("123456789-0"); в этом случае она сверяется с расчётной.
// Номер без дефиса принимается, если состоит только из цифр.
func IsValidNIT(number string) bool {
	if number == "" {
		return false
	}

	base := number
	check := -1

	for i := 0; i < len(number); i++ {
		if number[i] == '-' {
			if i != len(number)-2 {
				return false
			}
			dv := rune(number[i+1])
			if !unicode.IsDigit(dv) {
				return false
			}
			base = number[:i]
			check = int(dv - '0')
			break
		}
	}

	if base == "" || len(base) > len(nitWeights) {
		return false
	}

	sum := 0
	for i := 0; i < len(base); i++ {
		ch := rune(base[len(base)-1-i])
		if !unicode.IsDigit(ch) {
			return false
		}
		sum += int(ch-'0') * nitWeights[i]
	}

	if check < 0 {
		return true
	}

	r := sum % 11
	dv := r
	if r >= 2 {
		dv = 11 - r
	}

	return dv == check
}
