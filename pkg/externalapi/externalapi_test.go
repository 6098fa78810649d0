package externalapi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validAPI() ExternalApi {
	return ExternalApi{
		ID:      "billing",
		Name:    "Billing service",
		BaseURL: "https://billing.internal.example.com",
		Enabled: true,
	}
}

func TestValidateAcceptsMinimalEntity(t *testing.T) {
	a := validAPI()
	require.NoError(t, a.Validate())
}

func TestValidateRejectsBadID(t *testing.T) {
	a := validAPI()
	a.ID = "-billing-"
	require.Error(t, a.Validate())
}

func TestValidateRequiresHTTPScheme(t *testing.T) {
	a := validAPI()
	for _, bad := range []string{"", "ftp://example.com", "example.com", "unix:///tmp/sock"} {
		a.BaseURL = bad
		require.Error(t, a.Validate(), "base_url %q must be rejected", bad)
	}

	a.BaseURL = "http://example.com"
	require.NoError(t, a.Validate())
}

func TestValidateAPIKeyHeaderAuthRequiresHeaderName(t *testing.T) {
	a := validAPI()
	a.AuthType = AuthTypeAPIKeyHeader
	a.CredentialID = "billing-key"
	require.Error(t, a.Validate())

	a.HeaderName = "X-Api-Key"
	require.NoError(t, a.Validate())
}

func TestValidateAuthRequiresCredentialID(t *testing.T) {
	a := validAPI()
	a.AuthType = AuthTypeBearer
	require.Error(t, a.Validate())

	a.CredentialID = "billing-token"
	require.NoError(t, a.Validate())
}

func TestValidateRejectsUnknownAuthType(t *testing.T) {
	a := validAPI()
	a.AuthType = "mutual_tls"
	require.Error(t, a.Validate())
}
