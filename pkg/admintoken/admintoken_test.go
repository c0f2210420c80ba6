package admintoken

import "testing"

func TestDeriveIsDeterministic(t *testing.T) {
	if Derive("hunter2") != Derive("hunter2") {
		t.Fatal("expected Derive to be deterministic for the same passphrase")
	}
}

func TestDeriveDiffersPerPassphrase(t *testing.T) {
	if Derive("hunter2") == Derive("hunter3") {
		t.Fatal("expected different passphrases to derive different tokens")
	}
}

func TestVerify(t *testing.T) {
	token := Derive("hunter2")
	if !Verify("hunter2", token) {
		t.Fatal("expected the derived token to verify")
	}
	if Verify("hunter2", "not-the-token") {
		t.Fatal("expected a wrong token to fail verification")
	}
	if Verify("wrong-passphrase", token) {
		t.Fatal("expected a mismatched passphrase to fail verification")
	}
}
