// Package externalapi models the ExternalApi entity referenced by
// http_request workflow steps: a named, credentialed HTTP endpoint a
// workflow may call out to.
package externalapi

import (
	"fmt"
	"net/url"
	"regexp"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]*[A-Za-z0-9])?$`)

// AuthType identifies how requests to this API authenticate.
type AuthType string

const (
	// AuthTypeNone sends no credentials.
	AuthTypeNone AuthType = "none"

	// AuthTypeAPIKeyHeader sends a credential value in a named header.
	AuthTypeAPIKeyHeader AuthType = "api_key_header"

	// AuthTypeBearer sends a credential value as an "Authorization: Bearer <value>" header.
	AuthTypeBearer AuthType = "bearer"
)

// ExternalApi describes an HTTP endpoint a workflow's http_request step
// may call, plus how to authenticate to it.
type ExternalApi struct {
	ID           string
	Name         string
	BaseURL      string
	BaseHeaders  map[string]string // sent on every request to this API, step headers may override
	AuthType     AuthType
	HeaderName   string // used when AuthType == AuthTypeAPIKeyHeader
	CredentialID string // resolved through the credential resolver at call time
	Enabled      bool
}

// Validate checks the entity's structural invariants. An empty AuthType
// is accepted and treated as AuthTypeNone.
func (a *ExternalApi) Validate() error {
	if !idPattern.MatchString(a.ID) {
		return fmt.Errorf("external api: invalid id %q", a.ID)
	}
	if a.BaseURL == "" {
		return fmt.Errorf("external api %q: base_url is required", a.ID)
	}
	u, err := url.Parse(a.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("external api %q: base_url must be http(s), got %q", a.ID, a.BaseURL)
	}
	switch a.AuthType {
	case "", AuthTypeNone, AuthTypeBearer:
	case AuthTypeAPIKeyHeader:
		if a.HeaderName == "" {
			return fmt.Errorf("external api %q: header_name is required for api_key_header auth", a.ID)
		}
	default:
		return fmt.Errorf("external api %q: unknown auth_type %q", a.ID, a.AuthType)
	}
	if a.AuthType != "" && a.AuthType != AuthTypeNone && a.CredentialID == "" {
		return fmt.Errorf("external api %q: credential_id is required for auth_type %q", a.ID, a.AuthType)
	}
	return nil
}
