package remote

import "github.com/google/go-containerregistry/pkg/authn"

// Authenticator provides credentials for OCI registry operations.
type Authenticator interface {
	// Authenticate returns credentials for the given registry.
	Authenticate(registry string) (username, password string, err error)
}

// StaticAuthenticator returns the same credentials for every registry.
type StaticAuthenticator struct {
	Username string
	Password string
}

func (a StaticAuthenticator) Authenticate(string) (string, string, error) {
	return a.Username, a.Password, nil
}

func authenticator(auth Authenticator, registry string) authn.Authenticator {
	if auth != nil {
		username, password, err := auth.Authenticate(registry)
		if err == nil && username != "" {
			return &authn.Basic{Username: username, Password: password}
		}
	}
	return nil
}
