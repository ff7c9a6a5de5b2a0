package clients

import "context"

// IdentityClient calls the Identity service's registry and verification oracle.
type IdentityClient struct{ base }

func NewIdentityClient(baseURL string) *IdentityClient {
	return &IdentityClient{base: newBase(baseURL)}
}

type Agent struct {
	AgentID        string `json:"agent_id"`
	Name           string `json:"name"`
	PublicKey      string `json:"public_key"`
	RegisteredAt   string `json:"registered_at"`
}

func (c *IdentityClient) Lookup(ctx context.Context, agentID string) (*Agent, error) {
	var out Agent
	if err := c.do(ctx, "GET", "/agents/"+agentID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type verifyRequest struct {
	AgentID   string `json:"agent_id"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

type verifyResponse struct {
	Valid bool `json:"valid"`
}

// Verify asks Identity to check a detached signature over message
// (base64-encoded by the caller before this call, matching the wire
// contract's base64 public-key material convention) under agentID's
// registered public key.
func (c *IdentityClient) Verify(ctx context.Context, agentID, messageBase64, signatureBase64 string) (bool, error) {
	var out verifyResponse
	req := verifyRequest{AgentID: agentID, Message: messageBase64, Signature: signatureBase64}
	if err := c.do(ctx, "POST", "/verify", req, &out); err != nil {
		return false, err
	}
	return out.Valid, nil
}
