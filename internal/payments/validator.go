package payments

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Validator performs the out-of-band confirmation round trip with the provider.
type Validator interface {
	Validate(ctx context.Context, n *Notification) error
}

type HTTPValidator struct {
	endpoint string
	client   *http.Client
}

func NewHTTPValidator(endpoint string, timeout time.Duration) *HTTPValidator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPValidator{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Validate re-posts the exact received body and requires the provider to answer VALID.
// Timeouts and transport errors are failures, never a silent pass.
func (v *HTTPValidator) Validate(ctx context.Context, n *Notification) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(n.Raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("validate status %d", resp.StatusCode)
	}
	if strings.TrimSpace(string(body)) != "VALID" {
		return fmt.Errorf("validate response %q", truncate(strings.TrimSpace(string(body)), 64))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
