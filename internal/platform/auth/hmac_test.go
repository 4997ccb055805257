package auth

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"testing"
)

func TestVerifyBodySignature(t *testing.T) {
	body := []byte(`{"event":"payment.captured"}`)
	secret := "rzp-secret"
	hexSig := SignBody(secret, body)
	raw, _ := hex.DecodeString(hexSig)

	tests := []struct {
		name      string
		secret    string
		signature string
		want      error
	}{
		{name: "hex", secret: secret, signature: hexSig},
		{name: "base64", secret: secret, signature: base64.StdEncoding.EncodeToString(raw)},
		{name: "tampered", secret: secret, signature: SignBody(secret, []byte(`{}`)), want: ErrSignatureMismatch},
		{name: "wrong secret", secret: "other", signature: hexSig, want: ErrSignatureMismatch},
		{name: "garbage", secret: secret, signature: "not a signature!", want: ErrSignatureMismatch},
		{name: "missing", secret: secret, signature: " ", want: ErrSignatureMissing},
		{name: "no secret", secret: "", signature: hexSig, want: ErrSecretMissing},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := VerifyBodySignature(tc.secret, body, tc.signature)
			if tc.want == nil && err != nil {
				t.Fatalf("expected valid signature, got %v", err)
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}
