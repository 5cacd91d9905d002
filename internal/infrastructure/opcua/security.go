package opcua

import (
	"fmt"
	"strings"

	"github.com/gopcua/opcua/ua"
)

// Security selects message security for a session.
type Security struct {
	// Policy is the short policy name, e.g. "Basic256Sha256".
	Policy string

	// Mode is "None", "Sign" or "SignAndEncrypt".
	Mode string

	// CertFile and KeyFile are PEM or DER client credentials on disk.
	CertFile string
	KeyFile  string
}

// PolicyURI maps a short policy name to its URI.
// Matching is case-insensitive; full URIs are passed through.
func PolicyURI(policy string) (string, error) {
	if strings.HasPrefix(policy, "http://") {
		return policy, nil
	}
	switch strings.ToLower(policy) {
	case "", "none":
		return ua.SecurityPolicyURINone, nil
	case "basic128rsa15":
		return ua.SecurityPolicyURIBasic128Rsa15, nil
	case "basic256":
		return ua.SecurityPolicyURIBasic256, nil
	case "basic256sha256":
		return ua.SecurityPolicyURIBasic256Sha256, nil
	case "aes128_sha256_rsaoaep", "aes128sha256rsaoaep":
		return "http://opcfoundation.org/UA/SecurityPolicy#Aes128_Sha256_RsaOaep", nil
	case "aes256_sha256_rsapss", "aes256sha256rsapss":
		return "http://opcfoundation.org/UA/SecurityPolicy#Aes256_Sha256_RsaPss", nil
	default:
		return "", fmt.Errorf("unknown security policy %q", policy)
	}
}

// SecurityMode maps a mode name to the message security mode.
func SecurityMode(mode string) (ua.MessageSecurityMode, error) {
	switch strings.ToLower(mode) {
	case "", "none":
		return ua.MessageSecurityModeNone, nil
	case "sign":
		return ua.MessageSecurityModeSign, nil
	case "signandencrypt", "sign_and_encrypt":
		return ua.MessageSecurityModeSignAndEncrypt, nil
	default:
		return ua.MessageSecurityModeInvalid, fmt.Errorf("unknown security mode %q", mode)
	}
}

// selectEndpoint returns the endpoint matching policy URI and mode exactly.
// With no security requested it prefers a None endpoint.
func selectEndpoint(endpoints []*ua.EndpointDescription, policyURI string, mode ua.MessageSecurityMode) *ua.EndpointDescription {
	for _, ep := range endpoints {
		if ep == nil {
			continue
		}
		if ep.SecurityPolicyURI == policyURI && ep.SecurityMode == mode {
			return ep
		}
	}
	return nil
}

// securityModeStr formats a mode for logs.
func securityModeStr(mode ua.MessageSecurityMode) string {
	switch mode {
	case ua.MessageSecurityModeNone:
		return "None"
	case ua.MessageSecurityModeSign:
		return "Sign"
	case ua.MessageSecurityModeSignAndEncrypt:
		return "SignAndEncrypt"
	default:
		return fmt.Sprintf("Unknown(%d)", mode)
	}
}
