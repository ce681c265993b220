package authority_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/birthmark/provenance/foundation/ledger/authority"
	"github.com/birthmark/provenance/foundation/ledger/nuccache"
)

func token() authority.Token {
	return authority.Token{
		Ciphertext: "deadbeef",
		AuthTag:    "feedface",
		Nonce:      "0102030405060708090a0b0c",
		TableID:    42,
		KeyIndex:   7,
	}
}

func Test_ValidTokenVerdict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			CameraToken authority.Token `json:"camera_token"`
			AuthorityID string          `json:"manufacturer_authority_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if req.AuthorityID != "CANON_001" {
			t.Errorf("authority id: got %s", req.AuthorityID)
		}
		if req.CameraToken.TableID != 42 {
			t.Errorf("table id: got %d", req.CameraToken.TableID)
		}

		json.NewEncoder(w).Encode(authority.Result{Valid: true, Message: "PASS", DeviceSerial: "serial-1"})
	}))
	defer srv.Close()

	client := authority.New(srv.URL, time.Second, nil, nil)

	result, err := client.ValidateToken(context.Background(), token(), "CANON_001")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Valid || result.DeviceSerial != "serial-1" {
		t.Fatalf("verdict: %+v", result)
	}
}

func Test_FailuresAreNotValid(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		result, err := authority.New(srv.URL, time.Second, nil, nil).ValidateToken(context.Background(), token(), "CANON_001")
		if err != nil {
			t.Fatal(err)
		}
		if result.Valid {
			t.Fatal("server error must not validate the token")
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		}))
		defer srv.Close()

		result, err := authority.New(srv.URL, time.Second, nil, nil).ValidateToken(context.Background(), token(), "CANON_001")
		if err != nil {
			t.Fatal(err)
		}
		if result.Valid {
			t.Fatal("malformed response must not validate the token")
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		result, err := authority.New("http://127.0.0.1:1", time.Second, nil, nil).ValidateToken(context.Background(), token(), "CANON_001")
		if err != nil {
			t.Fatal(err)
		}
		if result.Valid {
			t.Fatal("unreachable authority must not validate the token")
		}
	})
}

func Test_VerdictCached(t *testing.T) {
	var calls int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(authority.Result{Valid: false, Message: "nuc revoked"})
	}))
	defer srv.Close()

	cache, err := nuccache.New(10, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	client := authority.New(srv.URL, time.Second, cache, nil)

	first, err := client.ValidateToken(context.Background(), token(), "CANON_001")
	if err != nil {
		t.Fatal(err)
	}
	second, err := client.ValidateToken(context.Background(), token(), "CANON_001")
	if err != nil {
		t.Fatal(err)
	}

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("authority calls: got %d, exp 1", calls)
	}
	if !second.Cached || second.Valid != first.Valid || second.Message != first.Message {
		t.Fatalf("cached verdict differs: first %+v second %+v", first, second)
	}

	// A different authority id is a different request.
	if _, err := client.ValidateToken(context.Background(), token(), "NIKON_001"); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("authority calls: got %d, exp 2", calls)
	}
}

func Test_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := authority.New(srv.URL, time.Second, nil, nil).ValidateToken(ctx, token(), "CANON_001"); err == nil {
		t.Fatal("cancelled context must surface as an error")
	}
}
