package registry

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/docker-credential-helpers/client"
	"github.com/docker/docker-credential-helpers/credentials"
	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"

	"github.com/example/dragons/internal/errdefs"
)

// TokenSource yields a token, or "" when it has none to offer.
type TokenSource struct {
	Name   string
	Lookup func(ctx context.Context) (string, error)
}

// DefaultEnv lists the environment variables consulted for a token.
var DefaultEnv = []string{"DRAGONS_TOKEN", "CARGO_REGISTRY_TOKEN"}

// ResolveToken returns the first token offered by sources, tried in order.
func ResolveToken(ctx context.Context, sources ...TokenSource) (string, error) {
	var tried []string
	for _, s := range sources {
		tok, err := s.Lookup(ctx)
		if err != nil {
			return "", errors.Wrapf(err, "read token from %s", s.Name)
		}
		if tok = strings.TrimSpace(tok); tok != "" {
			return tok, nil
		}
		tried = append(tried, s.Name)
	}
	return "", errdefs.Configf("no registry token found (tried %s)", strings.Join(tried, ", "))
}

// FlagToken offers an explicitly passed token.
func FlagToken(token string) TokenSource {
	return TokenSource{Name: "--token", Lookup: func(context.Context) (string, error) { return token, nil }}
}

// EnvToken offers the first non-empty variable of names.
func EnvToken(names ...string) TokenSource {
	return TokenSource{Name: "$" + strings.Join(names, ", $"), Lookup: func(context.Context) (string, error) {
		for _, n := range names {
			if v := os.Getenv(n); strings.TrimSpace(v) != "" {
				return v, nil
			}
		}
		return "", nil
	}}
}

// DefaultCredentialsFile is the credentials file of the cargo home.
func DefaultCredentialsFile() string {
	if home := os.Getenv("CARGO_HOME"); home != "" {
		return filepath.Join(home, "credentials.toml")
	}
	path, err := homedir.Expand("~/.cargo/credentials.toml")
	if err != nil {
		return ""
	}
	return path
}

// FileToken offers `[registry] token`, or `[registries.<registry>] token`
// when registry is set, from a TOML credentials file. A missing file offers
// nothing.
func FileToken(path, registry string) TokenSource {
	return TokenSource{Name: "credentials file", Lookup: func(context.Context) (string, error) {
		file := path
		if file == "" {
			file = DefaultCredentialsFile()
		}
		expanded, err := homedir.Expand(file)
		if err != nil {
			return "", err
		}
		raw, err := os.ReadFile(expanded)
		if os.IsNotExist(err) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		var creds struct {
			Registry struct {
				Token string `toml:"token"`
			} `toml:"registry"`
			Registries map[string]struct {
				Token string `toml:"token"`
			} `toml:"registries"`
		}
		if err := toml.Unmarshal(raw, &creds); err != nil {
			return "", errors.Wrapf(err, "parse %s", expanded)
		}
		if registry != "" {
			return creds.Registries[registry].Token, nil
		}
		return creds.Registry.Token, nil
	}}
}

// HelperToken asks the credential helper `docker-credential-<helper>` for
// the secret stored for serverURL.
func HelperToken(helper, serverURL string) TokenSource {
	return TokenSource{Name: "credential helper " + helper, Lookup: func(context.Context) (string, error) {
		if helper == "" {
			return "", nil
		}
		creds, err := client.Get(client.NewShellProgramFunc("docker-credential-"+helper), serverURL)
		if credentials.IsErrCredentialsNotFound(err) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		return creds.Secret, nil
	}}
}
