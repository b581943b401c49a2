package jwt

import "testing"

func TestTokenRoundTrip(t *testing.T) {
	secret := "test-secret"

	token, err := CreateToken("user-1", secret)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	userID, err := ExtractUserIDFromToken(token, secret)
	if err != nil {
		t.Fatalf("extract user id: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("user id = %q, want user-1", userID)
	}
}

func TestExtractUserIDFromToken_WrongSecret(t *testing.T) {
	token, err := CreateToken("user-1", "right-secret")
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	if _, err := ExtractUserIDFromToken(token, "wrong-secret"); err == nil {
		t.Fatal("token signed with a different secret should be rejected")
	}
}

func TestExtractUserIDFromToken_Garbage(t *testing.T) {
	if _, err := ExtractUserIDFromToken("not-a-token", "secret"); err == nil {
		t.Fatal("malformed token should be rejected")
	}
}
