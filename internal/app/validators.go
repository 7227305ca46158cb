/**
 * @description
 * Document and phone validators for the signup flow: CPF/CNPJ check-digit
 * validation and phone normalization to E.164.
 *
 * Key features:
 * - Repeated-digit sequences (000..., 111...) are rejected outright even when
 *   the weighted-sum arithmetic would accept them; they are placeholder
 *   values, not real documents.
 * - Phone normalization assumes 10/11-digit locals are domestic and prefixes
 *   the Brazilian country code.
 */
package app

import "strings"

const phoneCountryCode = "55"

// NormalizeDocument strips every non-digit character from the input.
func NormalizeDocument(doc string) string {
	var b strings.Builder
	for _, c := range doc {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// allSameDigit reports whether the string is one digit repeated.
func allSameDigit(digits string) bool {
	for i := 1; i < len(digits); i++ {
		if digits[i] != digits[0] {
			return false
		}
	}
	return true
}

// cpfCheckDigit computes one CPF check digit over digits with weights
// descending from firstWeight. Remainder < 2 maps to 0, else 11 - remainder.
func cpfCheckDigit(digits string, firstWeight int) int {
	sum := 0
	for i, c := range digits {
		sum += int(c-'0') * (firstWeight - i)
	}
	rem := sum % 11
	if rem < 2 {
		return 0
	}
	return 11 - rem
}

// ValidateCPF validates an 11-digit CPF using the classic two-check-digit
// algorithm. The input may carry mask characters.
func ValidateCPF(cpf string) bool {
	digits := NormalizeDocument(cpf)
	if len(digits) != 11 || allSameDigit(digits) {
		return false
	}

	d1 := cpfCheckDigit(digits[:9], 10)
	if d1 != int(digits[9]-'0') {
		return false
	}
	d2 := cpfCheckDigit(digits[:10], 11)
	return d2 == int(digits[10]-'0')
}

var (
	cnpjWeightsFirst  = []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	cnpjWeightsSecond = []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
)

func cnpjCheckDigit(digits string, weights []int) int {
	sum := 0
	for i, w := range weights {
		sum += int(digits[i]-'0') * w
	}
	rem := sum % 11
	if rem < 2 {
		return 0
	}
	return 11 - rem
}

// ValidateCNPJ validates a 14-digit CNPJ. The input may carry mask characters.
func ValidateCNPJ(cnpj string) bool {
	digits := NormalizeDocument(cnpj)
	if len(digits) != 14 || allSameDigit(digits) {
		return false
	}

	d1 := cnpjCheckDigit(digits, cnpjWeightsFirst)
	if d1 != int(digits[12]-'0') {
		return false
	}
	d2 := cnpjCheckDigit(digits, cnpjWeightsSecond)
	return d2 == int(digits[13]-'0')
}

// NormalizePhoneToE164 normalizes a phone number for storage and dispatch.
// 10 and 11 digit locals are assumed domestic and get the country code;
// numbers already carrying it are passed through with a leading +. Inputs
// with fewer than 10 digits are rejected and return "".
func NormalizePhoneToE164(phone string) string {
	trimmed := strings.TrimSpace(phone)
	if strings.HasPrefix(trimmed, "+") {
		digits := NormalizeDocument(trimmed)
		if len(digits) >= 10 {
			return "+" + digits
		}
		return ""
	}

	digits := NormalizeDocument(trimmed)
	switch {
	case len(digits) == 10 || len(digits) == 11:
		return "+" + phoneCountryCode + digits
	case len(digits) >= 12 && strings.HasPrefix(digits, phoneCountryCode):
		return "+" + digits
	case len(digits) >= 10:
		return digits
	default:
		return ""
	}
}
