package hostkey

import (
	"testing"

	"blitter.com/go/awa/wire"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	k, err := Generate(2048)
	if err != nil {
		t.Fatal(err)
	}
	data := []byte("the exchange hash H goes here")
	sig, err := k.Sign(data)
	if err != nil {
		t.Fatal(err)
	}
	pub := Key{Variant: RSAPublic, Public: k.Public}
	if err := pub.Verify(data, sig); err != nil {
		t.Fatalf("verify failed: %v", err)
	}
}

func TestVerifyRejectsTamperedData(t *testing.T) {
	k, _ := Generate(2048)
	sig, _ := k.Sign([]byte("original"))
	pub := Key{Variant: RSAPublic, Public: k.Public}
	if err := pub.Verify([]byte("tampered"), sig); err == nil {
		t.Fatal("expected verification failure on tampered data")
	}
}

func TestUnknownVariantAlwaysFailsVerify(t *testing.T) {
	k, _ := Generate(2048)
	sig, _ := k.Sign([]byte("data"))
	unk := Key{Variant: Unknown, Public: k.Public}
	if err := unk.Verify([]byte("data"), sig); err == nil {
		t.Fatal("Unknown variant must never verify")
	}
}

func TestPublicBlobRoundTripsName(t *testing.T) {
	k, _ := Generate(2048)
	if k.Name() != "ssh-rsa" {
		t.Fatalf("unexpected name: %s", k.Name())
	}
	blob, err := k.PublicBlob()
	if err != nil || len(blob) == 0 {
		t.Fatalf("PublicBlob failed: %v", err)
	}
	name, _, err := wire.DecodeString(blob)
	if err != nil || string(name) != k.Name() {
		t.Fatalf("blob does not start with the key name: %q, %v", name, err)
	}
}
