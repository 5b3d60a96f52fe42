package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestSource_Cookie(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: "x402_session", Value: "tok"})

	v, ok := RequestSource{Request: r}.Cookie("x402_session")
	if !ok || v != "tok" {
		t.Errorf("Cookie = %q, %v", v, ok)
	}
	if _, ok := (RequestSource{Request: r}).Cookie("other"); ok {
		t.Error("found a cookie that was not sent")
	}
}

func TestCookieFromHeader(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
		found  bool
	}{
		{name: "single", header: "x402_session=abc", want: "abc", found: true},
		{name: "several", header: "a=1; x402_session=abc; b=2", want: "abc", found: true},
		{name: "quoted", header: `x402_session="abc"`, want: "abc", found: true},
		{name: "malformed neighbour", header: "bad cookie; x402_session=abc", want: "abc", found: true},
		{name: "absent", header: "a=1", found: false},
		{name: "empty", header: "", found: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CookieFromHeader(tt.header, "x402_session")
			if ok != tt.found || got != tt.want {
				t.Errorf("CookieFromHeader = %q, %v; want %q, %v", got, ok, tt.want, tt.found)
			}
		})
	}
}

type mapSource struct {
	headers map[string]string
	cookies map[string]string
}

func (m mapSource) Header(name string) string { return m.headers[name] }

func (m mapSource) Cookie(name string) (string, bool) {
	v, ok := m.cookies[name]
	return v, ok
}

func TestSessionToken(t *testing.T) {
	tests := []struct {
		name string
		src  mapSource
		want string
	}{
		{name: "cookie", src: mapSource{cookies: map[string]string{"s": "c"}}, want: "c"},
		{name: "bearer", src: mapSource{headers: map[string]string{"Authorization": "Bearer b"}}, want: "b"},
		{name: "lowercase bearer", src: mapSource{headers: map[string]string{"Authorization": "bearer b"}}, want: "b"},
		{name: "cookie wins", src: mapSource{
			cookies: map[string]string{"s": "c"},
			headers: map[string]string{"Authorization": "Bearer b"},
		}, want: "c"},
		{name: "basic ignored", src: mapSource{headers: map[string]string{"Authorization": "Basic xyz"}}, want: ""},
		{name: "nothing", src: mapSource{}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SessionToken(tt.src, "s"); got != tt.want {
				t.Errorf("SessionToken = %q, want %q", got, tt.want)
			}
		})
	}
}
