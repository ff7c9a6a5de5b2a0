package httpx

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"agoraeconomy/internal/clients"
	"agoraeconomy/internal/sigutil"
)

// VerifySigned reads r's body into a generic field map, canonicalizes it
// (excluding the "signature" field), and asks Identity to verify the
// signature against agentID's registered public key. It returns the decoded
// field map so the caller can also json.Unmarshal it into a typed request
// without reading the body twice. Per §4.1, verification failure is always
// an auth-class error, never retried.
func VerifySigned(ctx context.Context, identity *clients.IdentityClient, r *http.Request, agentID string) (map[string]any, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, Validation("could not read request body")
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, Validation("malformed JSON body")
	}
	sig, _ := fields["signature"].(string)
	if sig == "" {
		return nil, Auth("missing signature")
	}
	canonical, err := sigutil.CanonicalBody(fields)
	if err != nil {
		return nil, Fatal(err.Error())
	}
	ok, err := identity.Verify(ctx, agentID, base64.StdEncoding.EncodeToString(canonical), sig)
	if err != nil {
		var remote *clients.RemoteError
		if errors.As(err, &remote) && remote.Status < http.StatusInternalServerError {
			return nil, Auth("signer could not be verified: " + remote.Message)
		}
		return nil, NewError(http.StatusBadGateway, KindTransient, "identity service unreachable")
	}
	if !ok {
		return nil, Auth("invalid signature")
	}
	return fields, nil
}

// DecodeFields re-marshals a field map obtained from VerifySigned into a
// typed request struct, since VerifySigned has already consumed the body.
func DecodeFields(fields map[string]any, out any) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return Fatal(err.Error())
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return Validation("malformed request body")
	}
	return nil
}
