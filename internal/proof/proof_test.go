package proof

import (
	"strconv"
	"testing"
	"time"
)

func TestHeadersRoundTrip(t *testing.T) {
	s, err := GenerateSigner()
	if err != nil {
		t.Fatalf("GenerateSigner: %v", err)
	}

	const token = "abc123"
	const url = "https://host:9980/wopi/files/1?access_token=abc123"

	headers, err := s.Headers(token, url, time.Now())
	if err != nil {
		t.Fatalf("Headers: %v", err)
	}
	for _, h := range []string{HeaderProof, HeaderProofOld, HeaderTimeStamp} {
		if headers[h] == "" {
			t.Errorf("missing header %s", h)
		}
	}

	ts, err := strconv.ParseInt(headers[HeaderTimeStamp], 10, 64)
	if err != nil {
		t.Fatalf("timestamp not numeric: %v", err)
	}
	if err := s.Verify(token, url, ts, headers[HeaderProof]); err != nil {
		t.Errorf("proof does not verify: %v", err)
	}
	// With a single key the old proof must verify identically.
	if err := s.Verify(token, url, ts, headers[HeaderProofOld]); err != nil {
		t.Errorf("old proof does not verify: %v", err)
	}
}

func TestTamperedURLFailsVerification(t *testing.T) {
	s, err := GenerateSigner()
	if err != nil {
		t.Fatalf("GenerateSigner: %v", err)
	}

	headers, err := s.Headers("tok", "https://host/wopi/files/1", time.Now())
	if err != nil {
		t.Fatalf("Headers: %v", err)
	}
	ts, _ := strconv.ParseInt(headers[HeaderTimeStamp], 10, 64)
	if err := s.Verify("tok", "https://host/wopi/files/2", ts, headers[HeaderProof]); err == nil {
		t.Error("proof verified against a different URL")
	}
}

func TestNilSignerAddsNothing(t *testing.T) {
	var s *Signer
	headers, err := s.Headers("tok", "https://host/f", time.Now())
	if err != nil {
		t.Fatalf("nil signer errored: %v", err)
	}
	if headers != nil {
		t.Errorf("nil signer produced headers: %v", headers)
	}
}
