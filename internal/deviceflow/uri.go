package deviceflow

import (
	"net/url"
	"path"

	"github.com/wrale/phantom/internal/validation"
)

// VerificationPath is the browser page where users enter or confirm a code
const VerificationPath = "device"

// buildVerificationURIs creates the verification URIs per RFC 8628 sections 3.2 and 3.3.1.
// The complete URI carries the user code as the user_code query parameter.
func (f *Flow) buildVerificationURIs(userCode string) (string, string) {
	baseURL, err := url.Parse(f.baseURL)
	if err != nil {
		return "", ""
	}

	baseURL.Path = path.Join("/", baseURL.Path, VerificationPath)
	verificationURI := baseURL.String()

	if err := validation.ValidateUserCode(userCode); err != nil {
		return verificationURI, ""
	}

	completeURL := *baseURL
	q := completeURL.Query()
	q.Set("user_code", validation.FormatCode(userCode))
	completeURL.RawQuery = q.Encode()

	return verificationURI, completeURL.String()
}
