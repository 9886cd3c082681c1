package breach

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrUnavailable is returned when the breach corpus cannot be reached.
// Callers are expected to fail open: an unreachable corpus must never block a
// sign-up.
var ErrUnavailable = errors.New("breach corpus unavailable")

const defaultRangeURL = "https://api.pwnedpasswords.com"

// Checker queries the Pwned Passwords range API. Only the first five hex
// characters of the password's SHA-1 digest leave the process; the full
// digest is matched locally against the returned suffix list.
type Checker struct {
	client   *http.Client
	rangeURL string
}

// Option configures the Checker during construction.
type Option func(*Checker)

// WithRangeURL overrides the base URL for range API requests.
func WithRangeURL(baseURL string) Option {
	return func(c *Checker) {
		c.rangeURL = strings.TrimRight(baseURL, "/")
	}
}

// NewChecker constructs a Checker.
func NewChecker(client *http.Client, opts ...Option) *Checker {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	checker := &Checker{
		client:   client,
		rangeURL: defaultRangeURL,
	}

	for _, opt := range opts {
		opt(checker)
	}

	return checker
}

// Count reports how many times the password appears in the breach corpus.
// Zero means the password is not known to be compromised.
func (c *Checker) Count(ctx context.Context, password string) (int, error) {
	sum := sha1.Sum([]byte(password))
	digest := strings.ToUpper(hex.EncodeToString(sum[:]))
	prefix, suffix := digest[:5], digest[5:]

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.rangeURL+"/range/"+prefix, nil)
	if err != nil {
		return 0, fmt.Errorf("create range request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: range API returned status %d", ErrUnavailable, resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		candidate, countText, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if !strings.EqualFold(candidate, suffix) {
			continue
		}
		count, err := strconv.Atoi(strings.TrimSpace(countText))
		if err != nil {
			return 0, fmt.Errorf("%w: malformed count %q", ErrUnavailable, countText)
		}
		return count, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return 0, nil
}
