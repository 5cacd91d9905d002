package tag

import (
	"fmt"
	"strings"
)

// validate checks a tag table and returns every problem found, joined
// into a single error wrapping ErrConfig.
func validate(defs []Definition) error {
	var errs []string

	if len(defs) == 0 {
		errs = append(errs, "tag table is empty")
	}

	names := make(map[string]struct{}, len(defs))
	topics := make(map[string]string, len(defs))

	for i, d := range defs {
		label := d.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}

		if strings.TrimSpace(d.Name) == "" {
			errs = append(errs, fmt.Sprintf("tag %s: name is required", label))
		} else if _, dup := names[d.Name]; dup {
			errs = append(errs, fmt.Sprintf("tag %s: %v", label, ErrDuplicateName))
		} else {
			names[d.Name] = struct{}{}
		}

		if strings.TrimSpace(d.Address) == "" {
			errs = append(errs, fmt.Sprintf("tag %s: node address is required", label))
		}

		if !d.Type.Valid() {
			errs = append(errs, fmt.Sprintf("tag %s: %v: %q", label, ErrUnsupportedType, string(d.Type)))
		}

		if msg := validateSuffix(d.TopicSuffix); msg != "" {
			errs = append(errs, fmt.Sprintf("tag %s: %s", label, msg))
			continue
		}

		if d.Command {
			if owner, dup := topics[d.TopicSuffix]; dup {
				errs = append(errs, fmt.Sprintf("tag %s: %v %q (also used by %s)", label, ErrDuplicateTopic, d.TopicSuffix, owner))
			} else {
				topics[d.TopicSuffix] = label
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrConfig, strings.Join(errs, "; "))
	}
	return nil
}

// validateSuffix returns a problem description, or "" when suffix is usable
// as a topic level sequence.
func validateSuffix(suffix string) string {
	switch {
	case suffix == "":
		return "topic suffix is required"
	case strings.ContainsAny(suffix, "+#"):
		return fmt.Sprintf("topic suffix %q must not contain wildcards", suffix)
	case strings.HasPrefix(suffix, "/") || strings.HasSuffix(suffix, "/"):
		return fmt.Sprintf("topic suffix %q must not start or end with '/'", suffix)
	case strings.Contains(suffix, "//"):
		return fmt.Sprintf("topic suffix %q contains an empty level", suffix)
	}
	return ""
}
