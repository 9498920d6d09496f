package textutil

import "testing"

func TestSanitizeDescription(t *testing.T) {
	in := `<p>Soft <b>mulberry silk</b></p><script>alert("x")</script>`
	out := SanitizeDescription(in)
	if out != "<p>Soft <b>mulberry silk</b></p>" {
		t.Fatalf("unexpected sanitized output %q", out)
	}
}

func TestSanitizePlain(t *testing.T) {
	in := `<img src=x onerror=alert(1)>Banarasi saree`
	if out := SanitizePlain(in); out != "Banarasi saree" {
		t.Fatalf("unexpected plain output %q", out)
	}
}
