package broker

import (
	"errors"
	"regexp"
	"strings"
)

const (
	genericAssumeMessage = "Unable to assume the specified role. Please check your role ARN and permissions."
	unknownErrorMessage  = "Unknown error"
)

type sanitizeRule struct {
	pattern     *regexp.Regexp
	replacement string
	// all replaces every match; otherwise only the first match is replaced.
	all bool
}

// sanitizeRules are applied in order. The specific messages come first;
// the account-ID rules after them catch whatever is left.
var sanitizeRules = []sanitizeRule{
	{
		pattern:     regexp.MustCompile(`User: arn:aws:(?:sts|iam)::\d+:[\w+=,.@/-]+ is not authorized`),
		replacement: "Not authorized to assume the specified role. Please check your role permissions.",
	},
	{
		pattern:     regexp.MustCompile(`Role arn:aws:iam::\d+:role/[\w+=,.@/-]+ does not exist`),
		replacement: "The specified role does not exist. Please check your role ARN.",
	},
	{
		pattern:     regexp.MustCompile(`Invalid principal in policy`),
		replacement: "The role trust policy does not allow this application to assume the role.",
	},
	{
		pattern:     regexp.MustCompile(`arn:aws:(?:iam|sts)::\d+`),
		replacement: "your AWS account",
		all:         true,
	},
	{
		pattern:     regexp.MustCompile(`Account \d+`),
		replacement: "your account",
		all:         true,
	},
	{
		// Bare account IDs.
		pattern:     regexp.MustCompile(`\d{12,}`),
		replacement: "your account",
		all:         true,
	},
}

// SanitizeMessage rewrites an upstream error message so that it can be shown
// to an end user. Account IDs and role ARNs are removed; a message that none
// of the rules touched but that still mentions an ARN is replaced entirely.
func SanitizeMessage(message string) string {
	if message == "" {
		return unknownErrorMessage
	}
	sanitized := message
	for _, rule := range sanitizeRules {
		if rule.all {
			sanitized = rule.pattern.ReplaceAllLiteralString(sanitized, rule.replacement)
			continue
		}
		if loc := rule.pattern.FindStringIndex(sanitized); loc != nil {
			sanitized = sanitized[:loc[0]] + rule.replacement + sanitized[loc[1]:]
		}
	}
	if sanitized == message && strings.Contains(message, "arn:aws") {
		return genericAssumeMessage
	}
	return sanitized
}

// SanitizeError returns the client-safe form of an upstream error.
func SanitizeError(err error) string {
	if err == nil {
		return unknownErrorMessage
	}
	return SanitizeMessage(upstreamMessage(err))
}

// apiError matches smithy-go's APIError without importing the SDK.
type apiError interface {
	error
	ErrorCode() string
	ErrorMessage() string
}

// upstreamMessage prefers the provider's own message over the SDK's
// operation wrapper text, which carries request IDs and endpoints.
func upstreamMessage(err error) string {
	var ae apiError
	if errors.As(err, &ae) && ae.ErrorMessage() != "" {
		return ae.ErrorMessage()
	}
	return err.Error()
}

func upstreamCode(err error) string {
	var ae apiError
	if errors.As(err, &ae) {
		return ae.ErrorCode()
	}
	return ""
}
