package sync

import (
	"testing"
	"time"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		wantEmail string
		wantName  string
	}{
		{
			name:      "name with angle brackets",
			header:    "John Doe <john@example.com>",
			wantEmail: "john@example.com",
			wantName:  "John Doe",
		},
		{
			name:      "quoted display name",
			header:    `"Doe, John" <john@example.com>`,
			wantEmail: "john@example.com",
			wantName:  "Doe, John",
		},
		{
			name:      "uppercase address is lowercased",
			header:    "Alice <ALICE@Example.COM>",
			wantEmail: "alice@example.com",
			wantName:  "Alice",
		},
		{
			name:      "bare address",
			header:    "bob@example.com",
			wantEmail: "bob@example.com",
			wantName:  "",
		},
		{
			name:      "bare address with whitespace",
			header:    "  Bob@Example.com  ",
			wantEmail: "bob@example.com",
			wantName:  "",
		},
		{
			name:      "address only in brackets",
			header:    "<carol@example.com>",
			wantEmail: "carol@example.com",
			wantName:  "",
		},
		{
			name:      "unparseable header kept whole",
			header:    "undisclosed-recipients:;",
			wantEmail: "undisclosed-recipients:;",
			wantName:  "",
		},
		{
			name:      "empty header",
			header:    "",
			wantEmail: "",
			wantName:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			email, name := parseAddress(tt.header)
			if email != tt.wantEmail {
				t.Errorf("parseAddress(%q) email = %q, want %q", tt.header, email, tt.wantEmail)
			}
			if name != tt.wantName {
				t.Errorf("parseAddress(%q) name = %q, want %q", tt.header, name, tt.wantName)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{
			name: "RFC3339",
			raw:  "2023-06-15T10:30:00Z",
			want: time.Date(2023, 6, 15, 10, 30, 0, 0, time.UTC),
		},
		{
			name: "RFC1123 with numeric zone",
			raw:  "Thu, 15 Jun 2023 10:30:00 +0000",
			want: time.Date(2023, 6, 15, 10, 30, 0, 0, time.UTC),
		},
		{
			name: "single digit day",
			raw:  "Thu, 1 Jun 2023 10:30:00 +0000",
			want: time.Date(2023, 6, 1, 10, 30, 0, 0, time.UTC),
		},
		{
			name: "ISO without zone",
			raw:  "2023-06-15T10:30:00",
			want: time.Date(2023, 6, 15, 10, 30, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseDate(tt.raw)
			if !got.Equal(tt.want) {
				t.Errorf("parseDate(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseDate_BadInputFallsBackToNow(t *testing.T) {
	for _, raw := range []string{"", "not a date", "32 Foo 2023"} {
		got := parseDate(raw)
		if time.Since(got) > time.Minute {
			t.Errorf("parseDate(%q) = %v, want approximately now", raw, got)
		}
	}
}
