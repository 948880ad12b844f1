package config

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/muninn-archive/muninn/internal/errs"
)

// Credential holds the access data for one remote host or URL prefix.
// AuthType is "basic" (default), "oauth2", "S3", or "Swift".
type Credential struct {
	AuthType     string `json:"auth_type"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	GrantType    string `json:"grant_type"`
	GrandType    string `json:"grand_type"` // misspelling kept for old files
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	TokenURL     string `json:"token_url"`

	// S3 records.
	Bucket          string `json:"bucket"`
	AccessKey       string `json:"access_key"`
	SecretAccessKey string `json:"secret_access_key"`
	Port            int    `json:"port"`

	// Swift records.
	User string `json:"user"`
	Key  string `json:"key"`
}

// EffectiveGrantType returns grant_type, falling back to the legacy
// grand_type spelling.
func (c Credential) EffectiveGrantType() string {
	if c.GrantType != "" {
		return c.GrantType
	}
	return c.GrandType
}

// Credentials maps a hostname or URL prefix to its credential.
type Credentials map[string]Credential

// LoadCredentials reads a credentials JSON file. A legacy grand_type key is
// accepted with a warning.
func LoadCredentials(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Config("cannot read credentials file %q: %v", path, err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, errs.Config("invalid credentials file %q: %v", path, err)
	}
	for key, cred := range creds {
		if cred.GrandType != "" && cred.GrantType == "" {
			log.Warn("credentials use deprecated \"grand_type\", use \"grant_type\"", "entry", key)
		}
	}
	return creds, nil
}

// ForURL returns the credential whose key is the longest prefix of url.
func (c Credentials) ForURL(url string) (Credential, bool) {
	var best string
	found := false
	for key := range c {
		if strings.HasPrefix(url, key) && len(key) > len(best) {
			best, found = key, true
		}
	}
	if !found {
		return Credential{}, false
	}
	return c[best], true
}
