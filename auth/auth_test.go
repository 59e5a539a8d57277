package auth

import "testing"

func TestClientIDJSONRoundTrip(t *testing.T) {
	var id ClientID
	for i := range id {
		id[i] = byte(i)
	}

	data, err := id.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}

	var got ClientID
	if err := got.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if got != id {
		t.Fatalf("round trip mismatch: got %x want %x", got, id)
	}
}

func TestSharedSecretAcceptsMatchingSecret(t *testing.T) {
	a := SharedSecret([]byte("correct-horse"))
	ok := a.Authenticate(Request{Kind: KindSecret, Secret: []byte("correct-horse")})
	if !ok {
		t.Fatal("expected matching secret to authenticate")
	}
}

func TestSharedSecretRejectsWrongSecretOrKind(t *testing.T) {
	a := SharedSecret([]byte("correct-horse"))

	if a.Authenticate(Request{Kind: KindSecret, Secret: []byte("wrong")}) {
		t.Fatal("expected wrong secret to be rejected")
	}
	if a.Authenticate(Request{Kind: KindToken, Secret: []byte("correct-horse")}) {
		t.Fatal("expected non-secret kind to be rejected")
	}
}

func TestAllowAllAcceptsEverything(t *testing.T) {
	if !AllowAll.Authenticate(Request{Kind: KindNone}) {
		t.Fatal("expected AllowAll to accept KindNone")
	}
}
