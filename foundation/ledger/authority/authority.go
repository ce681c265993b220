// Package authority provides the client that asks a manufacturer
// authority to validate a camera token. The authority only ever sees the
// token; the image hash never leaves this node. Every failure mode maps
// to a not-valid verdict so a flaky authority cannot take the node down.
package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/birthmark/provenance/foundation/ledger/nuccache"
)

// DefaultTimeout bounds one validation round trip.
const DefaultTimeout = 10 * time.Second

// Token is the encrypted camera token presented with a submission.
type Token struct {
	Ciphertext string `json:"ciphertext"`
	AuthTag    string `json:"auth_tag"`
	Nonce      string `json:"nonce"`
	TableID    int    `json:"table_id"`
	KeyIndex   int    `json:"key_index"`
}

// Result is the authority's verdict on a token.
type Result struct {
	Valid        bool   `json:"valid"`
	Message      string `json:"message"`
	DeviceSerial string `json:"device_serial"`
	Cached       bool   `json:"-"`
}

// Client validates camera tokens against an authority endpoint, with a
// verdict cache in front of the wire.
type Client struct {
	endpoint string
	client   *http.Client
	cache    *nuccache.Cache
	ev       func(v string, args ...any)
}

// New constructs a Client for the specified endpoint. The cache may be
// nil to disable verdict caching.
func New(endpoint string, timeout time.Duration, cache *nuccache.Cache, ev func(v string, args ...any)) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if ev == nil {
		ev = func(v string, args ...any) {}
	}

	return &Client{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		cache:    cache,
		ev:       ev,
	}
}

// ValidateToken asks the authority for a verdict on the token. An
// identical token inside the cache TTL returns the cached verdict
// without a round trip. Transport failures, non-200 responses, and
// malformed bodies all come back as a not-valid Result; the error
// return is reserved for a cancelled context.
func (c *Client) ValidateToken(ctx context.Context, token Token, authorityID string) (Result, error) {
	var fingerprint string
	if c.cache != nil {
		fingerprint = nuccache.Fingerprint(
			token.Ciphertext,
			token.AuthTag,
			token.Nonce,
			strconv.Itoa(token.TableID),
			strconv.Itoa(token.KeyIndex),
			authorityID,
		)

		if cached, exists := c.cache.Get(fingerprint); exists {
			return Result{
				Valid:        cached.Valid,
				Message:      cached.Message,
				DeviceSerial: cached.DeviceSerial,
				Cached:       true,
			}, nil
		}
	}

	result, err := c.roundTrip(ctx, token, authorityID)
	if err != nil {
		return Result{}, err
	}

	if c.cache != nil {
		c.cache.Put(fingerprint, result.Valid, result.Message, result.DeviceSerial)
	}

	return result, nil
}

func (c *Client) roundTrip(ctx context.Context, token Token, authorityID string) (Result, error) {
	body, err := json.Marshal(struct {
		CameraToken Token  `json:"camera_token"`
		AuthorityID string `json:"manufacturer_authority_id"`
	}{
		CameraToken: token,
		AuthorityID: authorityID,
	})
	if err != nil {
		return failed("encoding request: %v", err), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return failed("building request: %v", err), nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		c.ev("authority: validate: transport failure: %s", err)
		return failed("authority unreachable: %v", err), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.ev("authority: validate: status[%d]", resp.StatusCode)
		return failed("authority returned status %d", resp.StatusCode), nil
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return failed("malformed authority response: %v", err), nil
	}

	return result, nil
}

func failed(format string, args ...any) Result {
	return Result{
		Valid:   false,
		Message: fmt.Sprintf(format, args...),
	}
}
