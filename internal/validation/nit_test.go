package validation

import "testing"

func TestIsValidNIT(t *testing.T) {
	tests := []struct {
		name   string
		number string
		valid  bool
	}{
		{
			name:   "valid with check digit",
			number: "800197268-4",
			valid:  true,
		},
		{
			name:   "valid with computed check digit",
			number: "123456789-6",
			valid:  true,
		},
		{
			name:   "wrong check digit",
			number: "800197268-5",
			valid:  false,
		},
		{
			name:   "no check digit",
			number: "800197268",
			valid:  true,
		},
		{
			name:   "contains letters",
			number: "80019a268-4",
			valid:  false,
		},
		{
			name:   "misplaced dash",
			number: "8001-97268",
			valid:  false,
		},
		{
			name:   "empty string",
			number: "",
			valid:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidNIT(tt.number)
			if got != tt.valid {
				t.Fatalf("IsValidNIT(%q) = %v, want %v", tt.number, got, tt.valid)
			}
		})
	}
}
