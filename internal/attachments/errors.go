package attachments

import "errors"

var (
	errNoIssuer = errors.New("no URL issuer configured")
	errEmptyKey = errors.New("attachment has no file key")
)
