package signature_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/birthmark/provenance/foundation/ledger/signature"
)

func ifErrFailNow(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Error(err)
		t.FailNow()
	}
}

func Test_BlockHashDeterminism(t *testing.T) {
	txHashes := []string{
		strings.Repeat("c", 64),
		strings.Repeat("a", 64),
		strings.Repeat("b", 64),
	}

	h1 := signature.ComputeBlockHash(7, strings.Repeat("0", 64), 1700000000, txHashes, "validator_001")
	h2 := signature.ComputeBlockHash(7, strings.Repeat("0", 64), 1700000000, txHashes, "validator_001")

	if h1 != h2 {
		t.Errorf("block hash not deterministic, got %s and %s", h1, h2)
	}

	// Reordering the semantic hash set must not change the result.
	reordered := []string{txHashes[2], txHashes[0], txHashes[1]}
	h3 := signature.ComputeBlockHash(7, strings.Repeat("0", 64), 1700000000, reordered, "validator_001")

	if h1 != h3 {
		t.Errorf("block hash depends on transaction order, got %s, exp %s", h3, h1)
	}

	if !signature.VerifyHashFormat(h1) {
		t.Errorf("block hash %s is not a valid digest", h1)
	}
}

func Test_BlockHashSensitivity(t *testing.T) {
	txHashes := []string{strings.Repeat("a", 64)}

	base := signature.ComputeBlockHash(1, signature.ZeroHash, 1700000000, txHashes, "validator_001")

	if h := signature.ComputeBlockHash(2, signature.ZeroHash, 1700000000, txHashes, "validator_001"); h == base {
		t.Error("changing the height did not change the block hash")
	}
	if h := signature.ComputeBlockHash(1, signature.ZeroHash, 1700000001, txHashes, "validator_001"); h == base {
		t.Error("changing the timestamp did not change the block hash")
	}
	if h := signature.ComputeBlockHash(1, signature.ZeroHash, 1700000000, txHashes, "validator_002"); h == base {
		t.Error("changing the validator did not change the block hash")
	}
}

func Test_TransactionHashDeterminism(t *testing.T) {
	hashes := []string{strings.Repeat("b", 64), strings.Repeat("a", 64)}
	timestamps := []int64{1700000000, 1700000060}

	h1 := signature.ComputeTransactionHash(hashes, timestamps, "agg1")
	h2 := signature.ComputeTransactionHash([]string{hashes[1], hashes[0]}, timestamps, "agg1")

	if h1 != h2 {
		t.Errorf("transaction hash depends on image hash order, got %s and %s", h1, h2)
	}

	if h := signature.ComputeTransactionHash(hashes, timestamps, "agg2"); h == h1 {
		t.Error("changing the submitter did not change the transaction hash")
	}
}

func Test_VerifyHashFormat(t *testing.T) {
	tests := []struct {
		name string
		hash string
		want bool
	}{
		{"valid lowercase", strings.Repeat("a", 64), true},
		{"valid uppercase", strings.Repeat("A", 64), true},
		{"valid digits", strings.Repeat("0", 64), true},
		{"too short", strings.Repeat("a", 63), false},
		{"too long", strings.Repeat("a", 65), false},
		{"empty", "", false},
		{"non hex", strings.Repeat("g", 64), false},
		{"embedded space", strings.Repeat("a", 63) + " ", false},
	}

	for _, tt := range tests {
		if got := signature.VerifyHashFormat(tt.hash); got != tt.want {
			t.Errorf("%s: VerifyHashFormat() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func Test_SignAndVerify(t *testing.T) {
	keys, err := signature.GenerateKeys()
	ifErrFailNow(t, err)

	data := []byte("1" + signature.ZeroHash + "1700000000" + strings.Repeat("a", 64) + "validator_001")

	sig, err := keys.Sign(data)
	ifErrFailNow(t, err)

	if !signature.Verify(data, sig, keys.PublicKey()) {
		t.Error("signature did not verify against the signing key")
	}

	if signature.Verify([]byte("tampered"), sig, keys.PublicKey()) {
		t.Error("signature verified against different data")
	}

	// Malformed signatures must return false, not panic or error.
	if signature.Verify(data, "not base64 !!!", keys.PublicKey()) {
		t.Error("malformed signature verified")
	}
	if signature.Verify(data, "aGVsbG8=", keys.PublicKey()) {
		t.Error("garbage signature verified")
	}

	other, err := signature.GenerateKeys()
	ifErrFailNow(t, err)

	if signature.Verify(data, sig, other.PublicKey()) {
		t.Error("signature verified against the wrong key")
	}
}

func Test_SaveAndLoadKeys(t *testing.T) {
	keys, err := signature.GenerateKeys()
	ifErrFailNow(t, err)

	path := filepath.Join(t.TempDir(), "keys", "validator.pem")
	ifErrFailNow(t, signature.SaveKeys(keys, path))

	info, err := os.Stat(path)
	ifErrFailNow(t, err)

	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("key file permissions = %v, want 0600", perm)
	}

	loaded, err := signature.LoadKeys(path)
	ifErrFailNow(t, err)

	data := []byte("roundtrip")
	sig, err := loaded.Sign(data)
	ifErrFailNow(t, err)

	if !signature.Verify(data, sig, keys.PublicKey()) {
		t.Error("loaded key does not match the saved key")
	}
}

func Test_LoadKeysBadFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pem")
	ifErrFailNow(t, os.WriteFile(path, []byte("this is not a key"), 0600))

	if _, err := signature.LoadKeys(path); err == nil {
		t.Error("loading a non key file did not fail")
	}
}
