package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	gwerrors "github.com/llmgateway/core/pkg/errors"
	"github.com/llmgateway/core/pkg/httpclient"
)

// headerCredential is implemented by credential types that authenticate an
// outgoing request by setting a single header, e.g.
// llm.HTTPAPIKeyCredentials.
type headerCredential interface {
	Header() (name, value string)
}

var httpClientOnce sync.Once

// runHTTPRequest executes an http_request step against a registered
// external API binding: resolves method/path/query/body from params,
// authenticates per the binding's AuthType, and folds the response into a
// StepOutput with status_code/headers/body fields.
func (e *Executor) runHTTPRequest(ctx context.Context, stepID string, params map[string]any) (StepOutput, error) {
	apiID := paramString(params, "external_api_id", "")
	if apiID == "" {
		return StepOutput{}, &gwerrors.ValidationError{Field: "external_api_id", Message: fmt.Sprintf("step %q: http_request requires external_api_id", stepID)}
	}
	api, ok := e.ExternalAPIs[apiID]
	if !ok {
		return StepOutput{}, &gwerrors.NotFoundError{Resource: "external_api", ID: apiID}
	}

	method := paramString(params, "method", http.MethodGet)
	path := paramString(params, "path", "")

	reqURL, err := buildRequestURL(api.BaseURL, path, params["query"])
	if err != nil {
		return StepOutput{}, &gwerrors.ValidationError{Field: "path", Message: fmt.Sprintf("step %q: %v", stepID, err)}
	}

	var bodyReader io.Reader
	if body, ok := params["body"]; ok && body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return StepOutput{}, &gwerrors.ValidationError{Field: "body", Message: fmt.Sprintf("step %q: body must be JSON-serializable: %v", stepID, err)}
		}
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return StepOutput{}, &gwerrors.ValidationError{Field: "method", Message: fmt.Sprintf("step %q: %v", stepID, err)}
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range api.BaseHeaders {
		req.Header.Set(k, v)
	}
	if headers, ok := params["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	if err := e.authenticate(ctx, req, api); err != nil {
		return StepOutput{}, err
	}

	resp, err := e.httpClient().Do(req)
	if err != nil {
		return StepOutput{}, &gwerrors.ProviderError{Provider: apiID, Message: err.Error(), Retryable: true, Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return StepOutput{}, &gwerrors.ProviderError{Provider: apiID, Message: "failed reading response body: " + err.Error(), Retryable: false, Cause: err}
	}

	var decoded any
	if len(raw) > 0 {
		if jsonErr := json.Unmarshal(raw, &decoded); jsonErr != nil {
			decoded = string(raw)
		}
	}

	out := StepOutput{
		Data: map[string]any{
			"status_code": resp.StatusCode,
			"headers":     flattenHeader(resp.Header),
			"body":        decoded,
		},
		Metadata: OutputMetadata{StepType: StepTypeHTTPRequest, Provider: apiID},
	}

	if resp.StatusCode >= 400 {
		return out, &gwerrors.ProviderError{
			Provider:   apiID,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("http_request step %q received status %d", stepID, resp.StatusCode),
			Retryable:  resp.StatusCode >= 500,
		}
	}
	return out, nil
}

// buildRequestURL joins baseURL and path and attaches query as URL query
// parameters. query may be a map[string]any with string or stringable leaf
// values; anything else is ignored.
func buildRequestURL(baseURL, path string, query any) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}
	if path != "" {
		u.Path = joinPath(u.Path, path)
	}

	if q, ok := query.(map[string]any); ok && len(q) > 0 {
		values := u.Query()
		for k, v := range q {
			values.Set(k, stringify(v))
		}
		u.RawQuery = values.Encode()
	}
	return u.String(), nil
}

func joinPath(base, rel string) string {
	if base == "" {
		return rel
	}
	baseTrimmed := base
	for len(baseTrimmed) > 0 && baseTrimmed[len(baseTrimmed)-1] == '/' {
		baseTrimmed = baseTrimmed[:len(baseTrimmed)-1]
	}
	for len(rel) > 0 && rel[0] == '/' {
		rel = rel[1:]
	}
	return baseTrimmed + "/" + rel
}

// authenticate sets the credential-derived header on req per api.AuthType.
// AuthTypeNone is a no-op; the other two resolve api.CredentialID and
// require it to implement headerCredential.
func (e *Executor) authenticate(ctx context.Context, req *http.Request, api *ExternalAPIBinding) error {
	if api.AuthType == AuthTypeNone {
		return nil
	}

	cred, err := e.resolveCredential(ctx, api)
	if err != nil {
		return err
	}

	name, value := cred.Header()
	switch api.AuthType {
	case AuthTypeBearer:
		if name == "" {
			name = "Authorization"
		}
		req.Header.Set(name, "Bearer "+value)
	case AuthTypeAPIKeyHeader:
		if api.HeaderName != "" {
			name = api.HeaderName
		}
		req.Header.Set(name, value)
	}
	return nil
}

// resolveCredential resolves api.CredentialID through the shared
// credential.Resolver and requires the result to implement
// headerCredential; any other credential shape is a configuration error.
func (e *Executor) resolveCredential(ctx context.Context, api *ExternalAPIBinding) (headerCredential, error) {
	if e.Credentials == nil || api.CredentialID == "" {
		return nil, &gwerrors.CredentialError{CredentialID: api.CredentialID, Reason: "no credential configured for external api " + api.ID}
	}
	creds, err := e.Credentials.Resolve(ctx, api.CredentialID)
	if err != nil {
		return nil, err
	}
	hc, ok := creds.(headerCredential)
	if !ok {
		return nil, &gwerrors.CredentialError{CredentialID: api.CredentialID, Reason: "credential type does not support header-based http authentication"}
	}
	return hc, nil
}

// httpClient returns e.HTTPClient if set, building a default client lazily
// otherwise. Built once and reused across calls when e.HTTPClient is nil.
var defaultHTTPClient *http.Client

func (e *Executor) httpClient() *http.Client {
	if e.HTTPClient != nil {
		return e.HTTPClient
	}
	httpClientOnce.Do(func() {
		client, err := httpclient.New(httpclient.DefaultConfig())
		if err != nil {
			client = http.DefaultClient
		}
		defaultHTTPClient = client
	})
	return defaultHTTPClient
}

// flattenHeader reduces a multi-value http.Header down to one string per
// key (the first value), which is what workflow step output consumers
// expect from a "headers" map.
func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
