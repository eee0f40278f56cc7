package synonym

import (
	"context"
	"errors"
	"testing"
)

func staticLoader(rows map[string][]string) Loader {
	return func(ctx context.Context) (map[string][]string, error) {
		return rows, nil
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"latin and digits", "hello world 42", []string{"hello", "world", "42"}},
		{"short cjk stays whole", "你好", []string{"你好"}},
		{
			"cjk ngrams",
			"记得上次",
			[]string{"记得上次", "记得", "得上", "上次", "记得上", "得上次"},
		},
		{"mixed", "test剧本", []string{"test", "剧本"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.text)
			want := make(map[string]bool, len(tt.want))
			for _, w := range tt.want {
				want[w] = true
			}
			for _, g := range got {
				if !want[g] {
					t.Errorf("Tokenize(%q) produced unexpected token %q", tt.text, g)
				}
				delete(want, g)
			}
			for w := range want {
				t.Errorf("Tokenize(%q) missing token %q", tt.text, w)
			}
		})
	}
}

func TestExpandIncludesSynonyms(t *testing.T) {
	e := New(staticLoader(map[string][]string{
		"你": {"你", "您"},
	}), nil)
	if err := e.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	got := e.Expand("你记得上次")
	if len(got) == 0 || got[0] != "你记得上次" {
		t.Fatalf("Expand() = %v, want original query first", got)
	}

	has := func(term string) bool {
		for _, g := range got {
			if g == term {
				return true
			}
		}
		return false
	}
	if !has("你") || !has("您") {
		t.Fatalf("Expand() = %v, want both 你 and 您", got)
	}
}

func TestExpandLatinCaseInsensitive(t *testing.T) {
	e := New(staticLoader(map[string][]string{
		"krueger": {"krueger", "Sebastian"},
	}), nil)
	if err := e.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	got := e.Expand("Krueger在哪")
	found := false
	for _, g := range got {
		if g == "Sebastian" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Expand() = %v, want Sebastian from case-insensitive lookup", got)
	}
}

func TestExpandEmptyQuery(t *testing.T) {
	e := New(staticLoader(nil), nil)
	if got := e.Expand(""); got != nil {
		t.Fatalf("Expand(\"\") = %v, want nil", got)
	}
}

func TestLoadFailureKeepsOldTable(t *testing.T) {
	calls := 0
	e := New(func(ctx context.Context) (map[string][]string, error) {
		calls++
		if calls == 1 {
			return map[string][]string{"你": {"你", "您"}}, nil
		}
		return nil, errors.New("db down")
	}, nil)

	if err := e.Load(context.Background()); err != nil {
		t.Fatalf("first Load() error = %v", err)
	}
	if err := e.Load(context.Background()); err == nil {
		t.Fatal("second Load() expected error")
	}
	if e.GroupCount() != 1 {
		t.Fatalf("GroupCount() = %d after failed refresh, want 1", e.GroupCount())
	}
}
