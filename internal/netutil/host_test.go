package netutil

import "testing"

func TestExtractHost(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1.2.3.4", "1.2.3.4"},
		{"1.2.3.4:443", "1.2.3.4"},
		{"cdn.example.com", "cdn.example.com"},
		{"cdn.example.com:8443", "cdn.example.com"},
		{"https://cdn.example.com/path?q=1", "cdn.example.com"},
		{"http://cdn.example.com:8080/", "cdn.example.com"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"[::1]", "::1"},
		{"  10.0.0.1  ", "10.0.0.1"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ExtractHost(tt.in); got != tt.want {
			t.Errorf("ExtractHost(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRegistrableDomain(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"www.google.co.uk:443", "google.co.uk"},
		{"api.sina.com.cn", "sina.com.cn"},
		{"192.168.1.1:8080", "192.168.1.1"},
		{"localhost", "localhost"},
		{"[::1]:80", "::1"},
		{"https://sub.deep.example.com/", "example.com"},
	}
	for _, tt := range tests {
		if got := RegistrableDomain(tt.in); got != tt.want {
			t.Errorf("RegistrableDomain(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
