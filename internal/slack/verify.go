package slack

import (
	"io"
	"net/http"

	goslack "github.com/slack-go/slack"

	"github.com/baely/abd/internal/common/errors"
)

const maxEventBody = 1 << 20

// VerifyRequest reads the request body and checks it against the Slack
// signing secret. The body is returned only when the signature holds.
func VerifyRequest(r *http.Request, signingSecret string) ([]byte, error) {
	verifier, err := goslack.NewSecretsVerifier(r.Header, signingSecret)
	if err != nil {
		return nil, errors.Wrap(errors.ErrUnauthorized, "slack signature headers: %v", err)
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		return nil, errors.Wrap(err, "read slack request body")
	}

	if _, err := verifier.Write(body); err != nil {
		return nil, errors.Wrap(err, "hash slack request body")
	}
	if err := verifier.Ensure(); err != nil {
		return nil, errors.Wrap(errors.ErrUnauthorized, "slack signature mismatch")
	}
	return body, nil
}
