// Package oauth implements the authorization flow for protected MCP servers.
//
// Remote MCP servers may reject unauthenticated requests with a 401 carrying
// a WWW-Authenticate challenge that points at RFC 9728 protected-resource
// metadata. From there the package discovers the authorization server
// (RFC 8414), runs an authorization-code + PKCE flow with a loopback redirect
// listener, and hands back an *http.Client whose transport injects the
// resulting bearer token. That client plugs straight into the registry's
// streamable-HTTP transport via [mcptools.ServerConfig.HTTPClient].
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// wellKnownAuthServer is the RFC 8414 metadata path on the issuer.
const wellKnownAuthServer = "/.well-known/oauth-authorization-server"

// ── Discovery ──────────────────────────────────────────────────────────────────

// ResourceMetadataURL extracts the resource_metadata URL from a Bearer
// WWW-Authenticate challenge, e.g.
//
//	Bearer resource_metadata="https://host/.well-known/oauth-protected-resource/mcp"
//
// Returns the empty string when the header carries no such parameter.
func ResourceMetadataURL(header string) string {
	rest, ok := strings.CutPrefix(strings.TrimSpace(header), "Bearer")
	if !ok {
		return ""
	}
	for _, part := range strings.Split(rest, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found || strings.TrimSpace(key) != "resource_metadata" {
			continue
		}
		return strings.Trim(strings.TrimSpace(value), `"`)
	}
	return ""
}

// AuthServerRef names one authorization server in protected-resource
// metadata. Servers in the wild emit either a bare issuer string or an
// object with an "issuer" field; both shapes decode into the Issuer field.
type AuthServerRef struct {
	Issuer string
}

func (a *AuthServerRef) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		a.Issuer = s
		return nil
	}
	var obj struct {
		Issuer string `json:"issuer"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("oauth: authorization_servers entry: %w", err)
	}
	a.Issuer = obj.Issuer
	return nil
}

// ProtectedResourceMetadata is the RFC 9728 document describing a protected
// resource and the authorization servers that can issue tokens for it.
type ProtectedResourceMetadata struct {
	Resource             string          `json:"resource"`
	AuthorizationServers []AuthServerRef `json:"authorization_servers"`
	ScopesSupported      []string        `json:"scopes_supported,omitempty"`
}

// AuthServerMetadata is the subset of RFC 8414 authorization-server metadata
// the flow needs.
type AuthServerMetadata struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	RegistrationEndpoint  string `json:"registration_endpoint,omitempty"`
}

// FetchProtectedResourceMetadata retrieves and decodes the RFC 9728 document
// at url.
func FetchProtectedResourceMetadata(ctx context.Context, client *http.Client, url string) (*ProtectedResourceMetadata, error) {
	var meta ProtectedResourceMetadata
	if err := getJSON(ctx, client, url, &meta); err != nil {
		return nil, fmt.Errorf("oauth: protected-resource metadata: %w", err)
	}
	if len(meta.AuthorizationServers) == 0 {
		return nil, fmt.Errorf("oauth: protected-resource metadata at %s names no authorization servers", url)
	}
	return &meta, nil
}

// FetchAuthServerMetadata retrieves the RFC 8414 metadata for issuer.
func FetchAuthServerMetadata(ctx context.Context, client *http.Client, issuer string) (*AuthServerMetadata, error) {
	url := strings.TrimSuffix(issuer, "/") + wellKnownAuthServer
	var meta AuthServerMetadata
	if err := getJSON(ctx, client, url, &meta); err != nil {
		return nil, fmt.Errorf("oauth: authorization-server metadata: %w", err)
	}
	if meta.AuthorizationEndpoint == "" || meta.TokenEndpoint == "" {
		return nil, fmt.Errorf("oauth: authorization-server metadata at %s is missing endpoints", url)
	}
	return &meta, nil
}

// getJSON performs a GET and decodes the JSON response body into v.
func getJSON(ctx context.Context, client *http.Client, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// ── Authorization flow ─────────────────────────────────────────────────────────

// Flow drives the authorization-code + PKCE flow for one protected MCP
// server.
type Flow struct {
	// ClientID is the OAuth client identifier registered with the
	// authorization server. Required.
	ClientID string

	// Scopes requested from the authorization server. When empty, the scopes
	// advertised by the protected resource are requested.
	Scopes []string

	// HTTPClient performs discovery and token exchange. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client

	// OpenURL delivers the authorization URL to the resource owner's user
	// agent, typically by launching a browser. Required.
	OpenURL func(url string) error
}

// Authorize runs the full flow against the MCP server at resourceURL:
// unauthenticated probe, metadata discovery, PKCE authorization with a
// loopback redirect listener, and code exchange. The returned client injects
// the obtained bearer token into every request and refreshes it as needed.
func (f *Flow) Authorize(ctx context.Context, resourceURL string) (*http.Client, error) {
	if f.ClientID == "" {
		return nil, fmt.Errorf("oauth: flow requires a client ID")
	}
	if f.OpenURL == nil {
		return nil, fmt.Errorf("oauth: flow requires an OpenURL callback")
	}
	client := f.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	metadataURL, err := f.discoverChallenge(ctx, client, resourceURL)
	if err != nil {
		return nil, err
	}

	resMeta, err := FetchProtectedResourceMetadata(ctx, client, metadataURL)
	if err != nil {
		return nil, err
	}
	asMeta, err := FetchAuthServerMetadata(ctx, client, resMeta.AuthorizationServers[0].Issuer)
	if err != nil {
		return nil, err
	}

	scopes := f.Scopes
	if len(scopes) == 0 {
		scopes = resMeta.ScopesSupported
	}

	token, cfg, err := f.authorize(ctx, client, asMeta, scopes, resourceURL)
	if err != nil {
		return nil, err
	}

	return oauth2.NewClient(ctx, cfg.TokenSource(ctx, token)), nil
}

// discoverChallenge probes resourceURL without credentials and extracts the
// resource_metadata URL from the 401 challenge.
func (f *Flow) discoverChallenge(ctx context.Context, client *http.Client, resourceURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("oauth: probe %s: %w", resourceURL, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("oauth: probe %s: %w", resourceURL, err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		return "", fmt.Errorf("oauth: expected 401 from unauthenticated probe of %s, got %d", resourceURL, resp.StatusCode)
	}
	metadataURL := ResourceMetadataURL(resp.Header.Get("WWW-Authenticate"))
	if metadataURL == "" {
		return "", fmt.Errorf("oauth: 401 from %s carries no resource_metadata challenge", resourceURL)
	}
	return metadataURL, nil
}

// authorize runs the PKCE authorization-code exchange with a loopback
// redirect listener.
func (f *Flow) authorize(ctx context.Context, client *http.Client, as *AuthServerMetadata, scopes []string, resourceURL string) (*oauth2.Token, *oauth2.Config, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, nil, fmt.Errorf("oauth: loopback listener: %w", err)
	}
	defer listener.Close()

	cfg := &oauth2.Config{
		ClientID: f.ClientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:  as.AuthorizationEndpoint,
			TokenURL: as.TokenEndpoint,
		},
		RedirectURL: "http://" + listener.Addr().String() + "/callback",
		Scopes:      scopes,
	}

	state, err := randomState()
	if err != nil {
		return nil, nil, err
	}
	verifier := oauth2.GenerateVerifier()
	authURL := cfg.AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("resource", resourceURL),
	)

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/callback" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("state"); got != state {
			errCh <- fmt.Errorf("oauth: redirect state mismatch")
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			errCh <- fmt.Errorf("oauth: redirect carries no authorization code")
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, "Authorization complete. You may close this window.")
		codeCh <- code
	})}
	go srv.Serve(listener)
	defer srv.Close()

	if err := f.OpenURL(authURL); err != nil {
		return nil, nil, fmt.Errorf("oauth: opening authorization URL: %w", err)
	}

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		return nil, nil, err
	case <-ctx.Done():
		return nil, nil, fmt.Errorf("oauth: awaiting authorization redirect: %w", ctx.Err())
	}

	exchangeCtx := context.WithValue(ctx, oauth2.HTTPClient, client)
	token, err := cfg.Exchange(exchangeCtx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, nil, fmt.Errorf("oauth: code exchange: %w", err)
	}
	return token, cfg, nil
}

// randomState produces an unguessable state parameter.
func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("oauth: generating state: %w", err)
	}
	return hex.EncodeToString(b), nil
}
