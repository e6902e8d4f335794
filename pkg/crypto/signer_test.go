package crypto_test

import (
	"testing"

	"github.com/slatechain/slate/pkg/crypto"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	signer, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	msg := []byte("vote encoding bytes")
	sig, err := signer.SignDomain(crypto.DomainVote, msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("expected 65-byte signature, got %d", len(sig))
	}

	if !crypto.VerifyDomain(signer.Address(), crypto.DomainVote, msg, sig) {
		t.Fatal("expected signature to verify")
	}
}

func TestDomainSeparation(t *testing.T) {
	signer, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	msg := []byte("same bytes either way")
	sig, err := signer.SignDomain(crypto.DomainVote, msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if crypto.VerifyDomain(signer.Address(), crypto.DomainPropose, msg, sig) {
		t.Fatal("vote signature must not verify under the propose domain")
	}
}

func TestVerifyRejectsTamper(t *testing.T) {
	signer, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	msg := []byte("original")
	sig, err := signer.SignDomain(crypto.DomainVote, msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if crypto.VerifyDomain(signer.Address(), crypto.DomainVote, []byte("tampered"), sig) {
		t.Fatal("tampered message must not verify")
	}

	bad := append([]byte(nil), sig...)
	bad[3] ^= 0xff
	if crypto.VerifyDomain(signer.Address(), crypto.DomainVote, msg, bad) {
		t.Fatal("tampered signature must not verify")
	}
	if crypto.VerifyDomain(signer.Address(), crypto.DomainVote, msg, sig[:40]) {
		t.Fatal("truncated signature must not verify")
	}
}

func TestRecoverDomainMatchesAddress(t *testing.T) {
	signer, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	msg := []byte("recover me")
	sig, err := signer.SignDomain(crypto.DomainPropose, msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	recovered, err := crypto.RecoverDomain(crypto.DomainPropose, msg, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != signer.Address() {
		t.Fatalf("recovered %s, want %s", recovered.Hex(), signer.Address().Hex())
	}
}

func TestPrivateKeyHexRoundTrip(t *testing.T) {
	signer, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	restored, err := crypto.FromPrivateKeyHex(signer.PrivateKeyHex())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Address() != signer.Address() {
		t.Fatalf("restored address %s, want %s", restored.Address().Hex(), signer.Address().Hex())
	}
}

func TestBLSAggregateSameMessage(t *testing.T) {
	msg := []byte("checkpoint digest")

	var shares [][]byte
	var pks []*crypto.BLSPubKey
	for i := 0; i < 3; i++ {
		seed := make([]byte, 32)
		seed[0] = byte(i + 1)
		bs := crypto.NewBLSSignerFromSeed(seed)
		shares = append(shares, bs.Sign(msg))
		pks = append(pks, bs.Pubkey())

		if !crypto.BLSVerify(bs.Pubkey(), shares[i], msg) {
			t.Fatalf("share %d failed individual verification", i)
		}
	}

	agg := crypto.BLSAggregate(shares)
	if agg == nil {
		t.Fatal("aggregate returned nil")
	}
	if !crypto.BLSVerifyAggregateSameMsg(pks, msg, agg) {
		t.Fatal("aggregate signature failed verification")
	}
	if crypto.BLSVerifyAggregateSameMsg(pks, []byte("different message"), agg) {
		t.Fatal("aggregate must not verify for a different message")
	}
}
