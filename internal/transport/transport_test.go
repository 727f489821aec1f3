package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestSendSuccess(t *testing.T) {
	var gotBody, gotMethod, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	header := JSONHeaders()
	header.Set("Authorization", "Bearer token")
	resp, err := NewHTTPTransport().Send(context.Background(), &Request{
		URL:    srv.URL + "/resource",
		Method: http.MethodPost,
		Header: header,
		Body:   []byte(`{"a":1}`),
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if gotMethod != http.MethodPost || gotBody != `{"a":1}` || gotAuth != "Bearer token" {
		t.Errorf("server saw method=%q body=%q auth=%q", gotMethod, gotBody, gotAuth)
	}

	var decoded struct{ OK bool }
	if err := resp.Decode(&decoded); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !decoded.OK {
		t.Error("decoded.OK = false, want true")
	}
}

func TestSendNon2xxReturnsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized_token"}`))
	}))
	defer srv.Close()

	_, err := NewHTTPTransport().Send(context.Background(), &Request{URL: srv.URL, Method: http.MethodGet})

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Send() error = %v, want *StatusError", err)
	}
	if statusErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", statusErr.StatusCode)
	}
	if string(statusErr.Body) != `{"error":"unauthorized_token"}` {
		t.Errorf("Body = %s", statusErr.Body)
	}
}

func TestSendStoresCookiesInJar(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session_id", Value: "abc", Path: "/"})
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	jar, _ := cookiejar.New(nil)
	if _, err := NewHTTPTransport(WithCookieJar(jar)).Send(context.Background(), &Request{URL: srv.URL, Method: http.MethodGet}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	u, _ := url.Parse(srv.URL)
	if cookies := jar.Cookies(u); len(cookies) != 1 || cookies[0].Name != "session_id" {
		t.Errorf("jar cookies = %v, want session_id", cookies)
	}
}

func TestRoundTripperSharesJarAndTimeout(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/cookie", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, r.Header.Get("Cookie"))
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})
	mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/cookie", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	jar, _ := cookiejar.New(nil)
	jar.SetCookies(u, []*http.Cookie{{Name: "session_id", Value: "abc", Path: "/"}})
	rt := NewHTTPTransport(WithCookieJar(jar), WithTimeout(50*time.Millisecond)).RoundTripper()

	// Server-side requests carry a RequestURI, as the proxy's outgoing requests do.
	req := httptest.NewRequest(http.MethodGet, srv.URL+"/cookie", nil)
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip() error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if string(body) != "session_id=abc" {
		t.Errorf("server saw Cookie %q, want session_id=abc", body)
	}

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/moved", nil)
	resp, err = rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip() error = %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Errorf("status = %d, want redirect passed through", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/slow", nil)
	if resp, err := rt.RoundTrip(req); err == nil {
		_ = resp.Body.Close()
		t.Error("RoundTrip() error = nil, want timeout")
	}
}

func TestDecodeEmptyBody(t *testing.T) {
	var v map[string]any
	if err := (&Response{}).Decode(&v); err == nil {
		t.Error("Decode() of empty body error = nil")
	}
}
