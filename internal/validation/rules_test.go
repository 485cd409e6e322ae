package validation

import "testing"

func TestCheckClientFields(t *testing.T) {
	validFields := func() map[string]string {
		return map[string]string{
			"name":      "Juan",
			"last_name": "Pérez",
			"phone":     "+57 300 123-4567",
			"document":  "1020304050",
			"email":     "juan@example.com",
		}
	}

	tests := []struct {
		name      string
		mutate    func(map[string]string)
		wantField string
	}{
		{
			name:   "all valid",
			mutate: func(f map[string]string) {},
		},
		{
			name:   "email optional",
			mutate: func(f map[string]string) { f["email"] = "" },
		},
		{
			name:      "name too short",
			mutate:    func(f map[string]string) { f["name"] = "J" },
			wantField: "name",
		},
		{
			name:      "last name missing",
			mutate:    func(f map[string]string) { f["last_name"] = "" },
			wantField: "last_name",
		},
		{
			name:      "phone with letters",
			mutate:    func(f map[string]string) { f["phone"] = "call-me" },
			wantField: "phone",
		},
		{
			name:      "document with spaces",
			mutate:    func(f map[string]string) { f["document"] = "10 20 30" },
			wantField: "document",
		},
		{
			name:      "email without domain",
			mutate:    func(f map[string]string) { f["email"] = "juan@" },
			wantField: "email",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := validFields()
			tt.mutate(fields)

			errs := CheckClientFields(fields)
			if tt.wantField == "" {
				if len(errs) != 0 {
					t.Fatalf("unexpected errors: %v", errs)
				}
				return
			}

			if len(errs) != 1 {
				t.Fatalf("errors = %v, want exactly one for field %q", errs, tt.wantField)
			}
			if errs[0].Field != tt.wantField {
				t.Fatalf("error field = %q, want %q", errs[0].Field, tt.wantField)
			}
		})
	}
}

func TestCheckDescription(t *testing.T) {
	if err := CheckDescription("manual correction"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := CheckDescription("    "); err == nil {
		t.Fatalf("expected error for blank description")
	}

	if err := CheckDescription("abc"); err == nil {
		t.Fatalf("expected error for short description")
	}

	// Минимальная длина считается в рунах, не в байтах.
	if err := CheckDescription("ñañañ"); err != nil {
		t.Fatalf("unexpected error for 5-rune description: %v", err)
	}
}
