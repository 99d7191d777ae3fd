package broker

import (
	"fmt"
	"regexp"
	"strings"
)

// roleARNPattern is the IAM role ARN grammar accepted by the broker. Role
// paths are not accepted.
var roleARNPattern = regexp.MustCompile(`^arn:aws:iam::\d{12}:role/[\w+=,.@-]+$`)

// ValidRoleARN reports whether s is a well-formed IAM role ARN.
func ValidRoleARN(s string) bool {
	return roleARNPattern.MatchString(s)
}

// RoleNameFromARN extracts the role name (the part after the last "/") from
// a role ARN. It expects exactly six colon-delimited segments.
func RoleNameFromARN(roleARN string) (string, error) {
	parts := strings.Split(roleARN, ":")
	if len(parts) != 6 {
		return "", fmt.Errorf("role ARN has %d segments, want 6", len(parts))
	}
	resource := parts[5]
	i := strings.LastIndex(resource, "/")
	if i < 0 || i == len(resource)-1 {
		return "", fmt.Errorf("role ARN resource %q has no role name", resource)
	}
	return resource[i+1:], nil
}
