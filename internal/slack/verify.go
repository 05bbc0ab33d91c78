package slack

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/slack-go/slack"
)

// VerifyRequest checks the X-Slack-Signature of a request against the signing
// secret and returns the raw body. Timestamps older than five minutes are
// rejected by the verifier.
func VerifyRequest(r *http.Request, signingSecret string) ([]byte, error) {
	sv, err := slack.NewSecretsVerifier(r.Header, signingSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	body, err := io.ReadAll(io.TeeReader(r.Body, &sv))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	if err := sv.Ensure(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	return body, nil
}
