package charset

import (
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestNormalizeEncodedWords(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "qp encoded word utf-8",
			input: "=?UTF-8?Q?R=C3=A9union_budget?=",
			want:  "Réunion budget",
		},
		{
			name:  "base64 encoded word",
			input: "=?UTF-8?B?UsOpcG9uc2U=?=",
			want:  "Réponse",
		},
		{
			name:  "encoded word inside plain text",
			input: "Fwd: =?ISO-8859-1?Q?pr=E9sentation?= jeudi",
			want:  "Fwd: présentation jeudi",
		},
		{
			name:  "plain text untouched",
			input: "Quarterly report attached",
			want:  "Quarterly report attached",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.input); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeQuotedPrintableBody(t *testing.T) {
	input := "Bonjour,\n\nLa r=C3=A9union est confirm=C3=A9e.\n"
	got := Normalize(input)
	if !strings.Contains(got, "réunion") || !strings.Contains(got, "confirmée") {
		t.Errorf("quoted-printable body not repaired: %q", got)
	}
}

func TestNormalizeBase64Body(t *testing.T) {
	// "Bonjour tout le monde" base64-encoded, with the transfer header
	// flattened into the text.
	input := "Content-Transfer-Encoding: base64\n\nQm9uam91ciB0b3V0IGxlIG1vbmRl"
	got := Normalize(input)
	if !strings.Contains(got, "Bonjour tout le monde") {
		t.Errorf("base64 body not decoded: %q", got)
	}
}

func TestNormalizeBase64BodyInvalidKeptVerbatim(t *testing.T) {
	input := "Content-Transfer-Encoding: base64\n\nnot*valid*base64!!"
	if got := Normalize(input); got != input {
		t.Errorf("invalid base64 should pass through, got %q", got)
	}
}

func TestHealMojibake(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "double decoded accents",
			input: "RÃ©union Ã  Paris",
			want:  "Réunion à Paris",
		},
		{
			name:  "curly apostrophe",
			input: "Itâ€™s done",
			want:  "It’s done",
		},
		{
			name:  "clean french untouched",
			input: "Réunion à Paris",
			want:  "Réunion à Paris",
		},
		{
			name:  "clean ascii untouched",
			input: "plain ascii text",
			want:  "plain ascii text",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HealMojibake(tt.input); got != tt.want {
				t.Errorf("HealMojibake(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// Healing must never fire on text without mojibake markers, whatever the
// content. A false positive would corrupt clean prose.
func TestHealMojibakeCleanTextUnchanged(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.StringMatching(`[a-zA-Z0-9 .,;:!?'"@#$%^&*()\-_=+]{0,80}`).Draw(t, "text")
		if got := HealMojibake(s); got != s {
			t.Errorf("HealMojibake(%q) = %q, clean input must pass through", s, got)
		}
	})
}

func TestEnsureUTF8(t *testing.T) {
	// 0xE9 is é in Latin-1 and invalid standalone UTF-8.
	input := "caf" + string([]byte{0xE9})
	got := EnsureUTF8(input)
	if got != "café" {
		t.Errorf("EnsureUTF8 = %q, want %q", got, "café")
	}

	clean := "already valid – even with punctuation"
	if got := EnsureUTF8(clean); got != clean {
		t.Errorf("valid UTF-8 must pass through, got %q", got)
	}
}

func TestDecodeHeader(t *testing.T) {
	got := DecodeHeader("=?utf-8?q?Compte_rendu?= <anne@example.org>")
	if got != "Compte rendu <anne@example.org>" {
		t.Errorf("DecodeHeader = %q", got)
	}
	if got := DecodeHeader("no encoded words here"); got != "no encoded words here" {
		t.Errorf("plain header changed: %q", got)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name  string
		input string
		index int
		want  string
	}{
		{"plain name kept", "report.pdf", 0, "report.pdf"},
		{"encoded name decoded", "=?UTF-8?Q?r=C3=A9sum=C3=A9.doc?=", 1, "résumé.doc"},
		{"empty gets placeholder", "", 2, "attachment-2.bin"},
		{"whitespace gets placeholder", "   ", 0, "attachment-0.bin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeFilename(tt.input, tt.index); got != tt.want {
				t.Errorf("SanitizeFilename(%q, %d) = %q, want %q", tt.input, tt.index, got, tt.want)
			}
		})
	}
}

func TestDecodeKnownCharsets(t *testing.T) {
	// "héllo" in ISO-8859-1 bytes.
	latin1 := []byte{'h', 0xE9, 'l', 'l', 'o'}
	if got := Decode(latin1, "iso-8859-1"); got != "héllo" {
		t.Errorf("Decode latin-1 = %q", got)
	}
	// Unknown charset names fall back to Latin-1 rather than failing.
	if got := Decode(latin1, "x-no-such-charset"); got != "héllo" {
		t.Errorf("Decode unknown charset = %q", got)
	}
	if got := Decode([]byte("plain"), "utf-8"); got != "plain" {
		t.Errorf("Decode utf-8 = %q", got)
	}
}
