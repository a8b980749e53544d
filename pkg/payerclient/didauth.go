package payerclient

// DIDAuthSigner produces the bearer token beforeRequest attaches for a given
// target URL and HTTP method (spec §4.6 beforeRequest, §6's "DID-Auth v1
// header"). The spec references DID-auth token attachment three times but
// never fixes a signing algorithm (see DESIGN.md's Open Question decisions),
// so this is a narrow seam: callers inject whatever DID-Auth v1 client the
// surrounding application already has, and a nil Signer simply means no
// token is attached — useful for services whose rules never require auth.
type DIDAuthSigner interface {
	SignRequest(method, url string) (string, error)
}

// NoDIDAuth is a DIDAuthSigner that never attaches a token. It is the
// default when a Client is built without one, matching a payer that only
// calls unauthenticated (non-authRequired) operations.
type NoDIDAuth struct{}

// SignRequest always returns an empty token.
func (NoDIDAuth) SignRequest(method, url string) (string, error) {
	return "", nil
}
