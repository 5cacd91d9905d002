package opcua

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	uaclient "github.com/nerrad567/opcua-mqtt-gateway/internal/infrastructure/opcua"
)

// minDescriptorParts is policy, mode, certificate and key.
const minDescriptorParts = 4

// ParseSecurityDescriptor parses "policy,mode,certPath,keyPath[,...]".
//
// An empty descriptor or "None" returns nil: no message security.
// Relative certificate and key paths resolve against baseDir. Extra
// fields after the key are accepted and ignored. File existence is not
// checked here; see CheckSecurityFiles.
//
// Malformed descriptors return a GatewayError of kind ConfigError.
func ParseSecurityDescriptor(raw, baseDir string) (*uaclient.Security, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "none") {
		return nil, nil
	}

	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) < minDescriptorParts {
		return nil, &GatewayError{
			Kind: KindConfig,
			Op:   "parse security descriptor",
			Err:  fmt.Errorf("want policy,mode,certPath,keyPath, got %d fields", len(parts)),
		}
	}

	sec := &uaclient.Security{
		Policy:   parts[0],
		Mode:     parts[1],
		CertFile: resolvePath(parts[2], baseDir),
		KeyFile:  resolvePath(parts[3], baseDir),
	}

	var errs []error
	if _, err := uaclient.PolicyURI(sec.Policy); err != nil {
		errs = append(errs, err)
	}
	if _, err := uaclient.SecurityMode(sec.Mode); err != nil {
		errs = append(errs, err)
	}
	if strings.EqualFold(sec.Mode, "none") && !strings.EqualFold(sec.Policy, "none") {
		errs = append(errs, fmt.Errorf("policy %s requires mode Sign or SignAndEncrypt", sec.Policy))
	}
	if parts[2] == "" || parts[3] == "" {
		errs = append(errs, errors.New("certificate and key paths are required"))
	}
	if len(errs) > 0 {
		return nil, &GatewayError{Kind: KindConfig, Op: "parse security descriptor", Err: errors.Join(errs...)}
	}

	return sec, nil
}

// CheckSecurityFiles verifies the certificate and key referenced by sec
// exist as regular files. A nil profile always passes.
func CheckSecurityFiles(sec *uaclient.Security) error {
	if sec == nil {
		return nil
	}
	for _, p := range []string{sec.CertFile, sec.KeyFile} {
		info, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("security file %s: %w", p, err)
		}
		if info.IsDir() {
			return fmt.Errorf("security file %s is a directory", p)
		}
	}
	return nil
}

func resolvePath(p, baseDir string) string {
	if p == "" || filepath.IsAbs(p) || baseDir == "" {
		return p
	}
	return filepath.Join(baseDir, p)
}
