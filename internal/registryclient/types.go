// Package registryclient implements C5: a typed HTTP client for the
// dopamine package registry's v1 API (package/version/recipe lookup,
// recipe publish, archive upload token exchange, auth token refresh).
package registryclient

// apiVersion is the URL-prefixed API version this client speaks. Any
// response declaring a different version is rejected (spec §4.5:
// "the client MUST reject responses whose declared version does not
// match").
const apiVersion = "v1"

// RecipeRef names one published revision of a package version.
type RecipeRef struct {
	ID          string `json:"id"`
	Revision    string `json:"revision"`
	ArchiveName string `json:"archiveName"`
}

// VersionEntry is one version of a package, with its published recipes.
type VersionEntry struct {
	Version string      `json:"version"`
	Recipes []RecipeRef `json:"recipes"`
}

// PackageResource is the response body of GET /v1/packages/:name.
type PackageResource struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Versions    []VersionEntry `json:"versions"`
}

// PackageSearchEntry is one row of GET /v1/packages search results.
type PackageSearchEntry struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// SearchParams are the query parameters accepted by GET /v1/packages.
// Zero-valued fields are omitted from the request (spec §4.5:
// "omit-if-default").
type SearchParams struct {
	Query         string
	Regex         bool
	CaseSensitive bool
	NameOnly      bool
	Extended      bool
	Offset        int
	Limit         int
}

// RecipeResource is the response body of GET /v1/recipes/:id. Signature
// and SignerFingerprint are optional: present only when the registry
// has a detached-signature policy for this recipe.
type RecipeResource struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Version           string `json:"version"`
	Revision          string `json:"revision"`
	Text              string `json:"text"`
	ArchiveName       string `json:"archiveName"`
	Signature         string `json:"signature,omitempty"`
	SignerFingerprint string `json:"signerFingerprint,omitempty"`
}

// PublishRequest is the body of POST /v1/recipes.
type PublishRequest struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Revision    string `json:"revision"`
	Description string `json:"description,omitempty"`
	UpstreamURL string `json:"upstreamUrl,omitempty"`
	License     string `json:"license,omitempty"`

	// IdempotencyKey lets the registry recognize a retried publish of the
	// same attempt (e.g. after a timed-out response whose request did
	// land) instead of reporting a spurious "version" or duplicate
	// classification. PublishRecipe fills this in when left empty.
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// PublishResult is the response body of POST /v1/recipes. New is one of
// "", "package", "version" depending on whether the publish introduced a
// brand new package, a new version of an existing package, or neither
// (a re-publish of an existing revision).
type PublishResult struct {
	New               string         `json:"new"`
	Recipe            RecipeResource `json:"recipe"`
	UploadBearerToken string         `json:"uploadBearerToken"`
}

// AuthToken is the response body of POST /auth/token.
type AuthToken struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}
