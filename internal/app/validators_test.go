package app

import "testing"

func TestValidateCPF(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{name: "valid", input: "52998224725", want: true},
		{name: "valid_classic", input: "11144477735", want: true},
		{name: "valid_masked", input: "529.982.247-25", want: true},
		{name: "mutated_check_digit", input: "52998224724", want: false},
		{name: "mutated_body_digit", input: "52998224735", want: false},
		{name: "repeated_zeros", input: "00000000000", want: false},
		{name: "repeated_ones", input: "11111111111", want: false},
		{name: "too_short", input: "5299822472", want: false},
		{name: "too_long", input: "529982247255", want: false},
		{name: "empty", input: "", want: false},
		{name: "letters", input: "abcdefghijk", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateCPF(tt.input); got != tt.want {
				t.Fatalf("ValidateCPF(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidateCPF_SingleDigitMutationsOfValid(t *testing.T) {
	const valid = "52998224725"
	for pos := 0; pos < len(valid); pos++ {
		for d := byte('0'); d <= '9'; d++ {
			if valid[pos] == d {
				continue
			}
			mutated := valid[:pos] + string(d) + valid[pos+1:]
			if ValidateCPF(mutated) {
				t.Fatalf("expected mutation %q (pos %d) to be invalid", mutated, pos)
			}
		}
	}
}

func TestValidateCNPJ(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{name: "valid", input: "11222333000181", want: true},
		{name: "valid_masked", input: "11.222.333/0001-81", want: true},
		{name: "mutated_check_digit", input: "11222333000182", want: false},
		{name: "repeated_digits", input: "11111111111111", want: false},
		{name: "too_short", input: "1122233300018", want: false},
		{name: "empty", input: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateCNPJ(tt.input); got != tt.want {
				t.Fatalf("ValidateCNPJ(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeDocument(t *testing.T) {
	if got := NormalizeDocument("529.982.247-25"); got != "52998224725" {
		t.Fatalf("NormalizeDocument() = %q, want 52998224725", got)
	}
	if got := NormalizeDocument("abc"); got != "" {
		t.Fatalf("NormalizeDocument(abc) = %q, want empty", got)
	}
}

func TestNormalizePhoneToE164(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "local_11_digits", input: "11987654321", want: "+5511987654321"},
		{name: "local_10_digits", input: "1187654321", want: "+551187654321"},
		{name: "masked_local", input: "(11) 98765-4321", want: "+5511987654321"},
		{name: "already_e164", input: "+5511987654321", want: "+5511987654321"},
		{name: "plus_with_mask", input: "+55 (11) 98765-4321", want: "+5511987654321"},
		{name: "country_code_no_plus", input: "5511987654321", want: "+5511987654321"},
		{name: "foreign_no_plus", input: "441234567890", want: "441234567890"},
		{name: "too_short", input: "987654", want: ""},
		{name: "letters", input: "abc", want: ""},
		{name: "plus_too_short", input: "+55987", want: ""},
		{name: "empty", input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizePhoneToE164(tt.input); got != tt.want {
				t.Fatalf("NormalizePhoneToE164(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
