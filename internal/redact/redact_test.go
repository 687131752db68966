package redact

import "testing"

func TestRedact(t *testing.T) {
	t.Parallel()

	r := New()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "empty",
			in:   "",
			want: "",
		},
		{
			name: "no pii",
			in:   "What are your opening hours?",
			want: "What are your opening hours?",
		},
		{
			name: "phone dashed",
			in:   "Call me back at 555-123-4567 please",
			want: "Call me back at <PHONE> please",
		},
		{
			name: "phone parenthesized",
			in:   "My cell is (555) 123-4567.",
			want: "My cell is <PHONE>.",
		},
		{
			name: "phone e164",
			in:   "Reach me on +15551230001",
			want: "Reach me on <PHONE>",
		},
		{
			name: "email",
			in:   "Send the invoice to alice@example.com today",
			want: "Send the invoice to <EMAIL> today",
		},
		{
			name: "credit card spaced",
			in:   "Charge card 4111 1111 1111 1111 for the deposit",
			want: "Charge card <CREDIT_CARD> for the deposit",
		},
		{
			name: "credit card dashed",
			in:   "It is 4111-1111-1111-1111",
			want: "It is <CREDIT_CARD>",
		},
		{
			name: "ssn",
			in:   "My social is 123-45-6789",
			want: "My social is <REDACTED>",
		},
		{
			name: "multiple entities",
			in:   "I'm at bob@example.org, phone 555-123-4567",
			want: "I'm at <EMAIL>, phone <PHONE>",
		},
		{
			name: "card not eaten by phone pattern",
			in:   "4111 1111 1111 1111",
			want: "<CREDIT_CARD>",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := r.Redact(tc.in); got != tc.want {
				t.Errorf("Redact(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

// TestRedact_Idempotent verifies that redacting already-redacted text is a
// no-op, since tokens contain no digits or @ signs.
func TestRedact_Idempotent(t *testing.T) {
	t.Parallel()
	r := New()
	once := r.Redact("Call 555-123-4567 or mail bob@example.org")
	twice := r.Redact(once)
	if once != twice {
		t.Errorf("not idempotent: %q != %q", once, twice)
	}
}
