package breach

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func rangeResponse(password string, count int) (prefix, body string) {
	sum := sha1.Sum([]byte(password))
	digest := strings.ToUpper(hex.EncodeToString(sum[:]))
	body = "00000AAAAAAAAAAAAAAAAAAAAAAAAAAAAAA:3\r\n" +
		fmt.Sprintf("%s:%d\r\n", digest[5:], count) +
		"FFFFFAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA:12\r\n"
	return digest[:5], body
}

func TestCountReportsBreachedPassword(t *testing.T) {
	prefix, body := rangeResponse("password123", 52579)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/range/"+prefix {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, body)
	}))
	defer server.Close()

	checker := NewChecker(server.Client(), WithRangeURL(server.URL))

	count, err := checker.Count(context.Background(), "password123")
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 52579 {
		t.Fatalf("expected 52579, got %d", count)
	}
}

func TestCountReturnsZeroForUnknownPassword(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "00000AAAAAAAAAAAAAAAAAAAAAAAAAAAAAA:3\r\n")
	}))
	defer server.Close()

	checker := NewChecker(server.Client(), WithRangeURL(server.URL))

	count, err := checker.Count(context.Background(), "definitely-novel-passphrase-9731")
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0, got %d", count)
	}
}

func TestCountWrapsServerErrorsAsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	checker := NewChecker(server.Client(), WithRangeURL(server.URL))

	_, err := checker.Count(context.Background(), "whatever")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestOnlyHashPrefixLeavesProcess(t *testing.T) {
	var requestedPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestedPath = r.URL.Path
		fmt.Fprint(w, "")
	}))
	defer server.Close()

	checker := NewChecker(server.Client(), WithRangeURL(server.URL))
	if _, err := checker.Count(context.Background(), "hunter2"); err != nil {
		t.Fatalf("count failed: %v", err)
	}

	rest := strings.TrimPrefix(requestedPath, "/range/")
	if len(rest) != 5 {
		t.Fatalf("expected a 5 character prefix, got %q", rest)
	}
}
