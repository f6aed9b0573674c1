package keys

import (
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jws"
	"github.com/lestrrat-go/jwx/v3/jwt"
)

// Sign serializes and signs the token with the active key (RS256). The
// kid travels in the protected header so verifiers can pick the right
// key after a rotation.
func (ks *KeyStore) Sign(token jwt.Token) (string, error) {
	key, err := ks.ActiveKey()
	if err != nil {
		return "", err
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256(), key))
	if err != nil {
		return "", err
	}

	return string(signed), nil
}

// Verify parses and verifies a token against the full key set, inferring
// the key from the kid header. Extra options are passed through to the
// parser, e.g. jwt.WithClock for a non-wall clock.
func (ks *KeyStore) Verify(tokenString string, opts ...jwt.ParseOption) (jwt.Token, error) {
	opts = append([]jwt.ParseOption{
		jwt.WithKeySet(ks.KeySet, jws.WithInferAlgorithmFromKey(true)),
	}, opts...)
	return jwt.Parse([]byte(tokenString), opts...)
}
