package env

import (
	"strings"
	"testing"
)

// FuzzExpandMerge fuzzes Merge/expand with random inputs to ensure no panics and
// basic invariants around ${VAR} expansion.
func FuzzExpandMerge(f *testing.F) {
	f.Add([]byte("A=1\nB=${A}-x"), []byte("C=${B}-y"))
	f.Add([]byte("FOO=bar"), []byte("FOO=${FOO}"))
	f.Add([]byte("X=$Y"), []byte("Y=${X}"))
	f.Add([]byte("U=${"), []byte("V=${}"))

	f.Fuzz(func(t *testing.T, globalB []byte, perB []byte) {
		global := splitNZ(string(globalB))
		per := splitNZ(string(perB))
		if len(global) > 20 {
			global = global[:20]
		}
		if len(per) > 20 {
			per = per[:20]
		}

		e := New()
		for _, kv := range global {
			if i := strings.IndexByte(kv, '='); i >= 0 {
				e.Var[kv[:i]] = kv[i+1:]
			}
		}
		out := e.Merge(ParsePairs(per))
		for _, kv := range out {
			if !strings.Contains(kv, "=") {
				t.Fatalf("bad pair: %q", kv)
			}
			if strings.HasPrefix(kv, "=") {
				t.Fatalf("empty key: %q", kv)
			}
		}
		containsDollar := false
		for _, s := range append(append([]string{}, global...), per...) {
			if strings.ContainsRune(s, '$') {
				containsDollar = true
				break
			}
		}
		if !containsDollar {
			own := ParsePairs(append(append([]string{}, global...), per...))
			for _, kv := range out {
				k, v, _ := strings.Cut(kv, "=")
				if _, ok := own[k]; ok && strings.Contains(v, "${") {
					t.Fatalf("unexpected placeholder remains: %q", kv)
				}
			}
		}
	})
}

func TestMergePrecedenceAndExpansion(t *testing.T) {
	e := &Env{base: Var{"HOME": "/root", "PORT": "8000"}, Var: Var{"APP": "${HOME}/app"}}
	out := e.Merge(map[string]string{"PORT": "80", "URL": "http://127.0.0.1:${PORT}/api/stats", "MISSING": "${NOPE}"})
	got := ParsePairs(out)
	if got["PORT"] != "80" {
		t.Fatalf("service override lost: %q", got["PORT"])
	}
	if got["APP"] != "/root/app" {
		t.Fatalf("global expansion: %q", got["APP"])
	}
	if got["URL"] != "http://127.0.0.1:80/api/stats" {
		t.Fatalf("service expansion: %q", got["URL"])
	}
	if got["MISSING"] != "${NOPE}" {
		t.Fatalf("unknown reference should stay verbatim: %q", got["MISSING"])
	}
	// sorted output
	for i := 1; i < len(out); i++ {
		if out[i-1] > out[i] {
			t.Fatalf("output not sorted: %v", out)
		}
	}
}

// splitNZ splits s by newlines and returns non-empty trimmed lines.
func splitNZ(s string) []string {
	var out []string
	for _, ln := range strings.Split(s, "\n") {
		ln = strings.TrimSpace(ln)
		if ln != "" {
			out = append(out, ln)
		}
	}
	return out
}
