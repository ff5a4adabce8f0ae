package resolve

import (
	"slices"
	"testing"
)

func TestHostPolicy_Allowed(t *testing.T) {
	t.Parallel()

	youtube := []string{"youtube.com", "www.youtube.com", "youtu.be", "music.youtube.com"}

	tests := []struct {
		name    string
		hosts   []string
		locator string
		want    bool
	}{
		{name: "watch url", hosts: youtube, locator: "https://www.youtube.com/watch?v=dQw4w9WgXcQ", want: true},
		{name: "short url", hosts: youtube, locator: "https://youtu.be/dQw4w9WgXcQ", want: true},
		{name: "case insensitive", hosts: youtube, locator: "HTTPS://YouTu.Be/x", want: true},
		{name: "port ignored", hosts: youtube, locator: "https://youtu.be:443/x", want: true},
		{name: "surrounding space", hosts: youtube, locator: "  https://youtu.be/x  ", want: true},
		{name: "foreign host", hosts: youtube, locator: "https://vimeo.com/1", want: false},
		{name: "suffix trick", hosts: youtube, locator: "https://youtu.be.evil.example/x", want: false},
		{name: "userinfo trick", hosts: youtube, locator: "https://youtu.be@evil.example/x", want: false},
		{name: "not a url", hosts: youtube, locator: "never gonna give you up", want: false},
		{name: "file scheme", hosts: nil, locator: "file:///etc/passwd", want: false},
		{name: "no host", hosts: nil, locator: "https:///x", want: false},
		{name: "empty allowlist admits any host", hosts: nil, locator: "https://example.com/a.mp3", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := NewHostPolicy(tt.hosts)
			if got := p.Allowed(tt.locator); got != tt.want {
				t.Errorf("Allowed(%q) = %v, want %v", tt.locator, got, tt.want)
			}
		})
	}
}

func TestHostPolicy_Set(t *testing.T) {
	t.Parallel()

	p := NewHostPolicy([]string{"youtu.be"})
	p.Set([]string{" Example.COM ", ""})

	if p.Allowed("https://youtu.be/x") {
		t.Error("old host still allowed after Set")
	}
	if !p.Allowed("https://example.com/x") {
		t.Error("new host rejected after Set")
	}
	if got := p.Hosts(); !slices.Equal(got, []string{"example.com"}) {
		t.Errorf("Hosts = %v, want [example.com]", got)
	}
}
