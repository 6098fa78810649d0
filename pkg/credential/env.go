package credential

import (
	"context"
	"os"
	"strings"

	gwerrors "github.com/llmgateway/core/pkg/errors"
)

// EnvBackend loads credentials from environment variables, mirroring the
// original secrets package's "env" scheme provider. A credential ID maps
// to a fixed env var prefix (e.g. id "prod-anthropic" with prefix
// "LLMGATEWAY_CRED_PROD_ANTHROPIC_" reads "..._API_KEY", "..._BASE_URL").
type EnvBackend struct {
	// Providers maps credential ID to the provider type and env var prefix
	// to read fields from.
	Providers map[string]EnvBinding
}

// EnvBinding names which fields to read, and under what env var prefix,
// for one credential ID.
type EnvBinding struct {
	ProviderType string
	Prefix       string
	Fields       []string // suffixes appended to Prefix, e.g. "API_KEY" -> "<prefix>API_KEY"

	// Disabled marks the credential as disabled: a disabled binding
	// always fails resolution with a "disabled" CredentialError rather
	// than reading its environment variables.
	Disabled bool
}

// NewEnvBackend creates an EnvBackend with no registered bindings.
func NewEnvBackend() *EnvBackend {
	return &EnvBackend{Providers: make(map[string]EnvBinding)}
}

// Bind registers how credential id's fields map to environment variables.
func (b *EnvBackend) Bind(id string, binding EnvBinding) {
	b.Providers[id] = binding
}

func (b *EnvBackend) Load(ctx context.Context, id string) (StoredCredential, error) {
	binding, ok := b.Providers[id]
	if !ok {
		return StoredCredential{}, &gwerrors.NotFoundError{Resource: "credential_binding", ID: id}
	}
	if binding.Disabled {
		return StoredCredential{}, &gwerrors.CredentialError{CredentialID: id, Reason: "disabled"}
	}

	fields := make(map[string]string, len(binding.Fields))
	for _, suffix := range binding.Fields {
		key := binding.Prefix + strings.ToUpper(suffix)
		fields[suffix] = os.Getenv(key)
	}
	return StoredCredential{ID: id, Provider: binding.ProviderType, Fields: fields}, nil
}
