package org

import (
	"errors"
	"strings"
)

const maxIDLen = 64

// ParseID validates an organization ID taken from a request path.
func ParseID(orgID string) (string, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" || len(orgID) > maxIDLen {
		return "", errors.New("invalid orgId")
	}
	for _, r := range orgID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return "", errors.New("invalid orgId")
		}
	}
	return orgID, nil
}
