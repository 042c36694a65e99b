// File: internal/registry/client.go
// Brief: Registry client speaking the crates.io v1 web API.

// Package registry uploads package archives and manages owners on a
// crates.io compatible registry, and resolves the API token to use.
package registry

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"

	"github.com/example/dragons/internal/errdefs"
	"github.com/example/dragons/internal/workspace"
)

// DefaultAPI is the public registry.
const DefaultAPI = "https://crates.io"

// ErrAlreadyOwner is returned by AddOwner when the user already owns the package.
var ErrAlreadyOwner = errors.New("already an owner")

// PublishRequest uploads one archive.
type PublishRequest struct {
	Package *workspace.Package
	Archive string
	Token   string
	// DryRun validates the request without uploading.
	DryRun bool
}

// Client is the registry collaborator used by the publisher.
type Client interface {
	Publish(ctx context.Context, req PublishRequest) error
	AddOwner(ctx context.Context, name, owner, token string) error
}

// HTTPClient implements Client over HTTP with retries on transient failures.
type HTTPClient struct {
	API string
	Log logr.Logger

	http *retryablehttp.Client
}

// NewHTTPClient returns a client for api. retries bounds the attempts after
// the first for connection errors and 5xx/429 responses.
func NewHTTPClient(api string, retries int, timeout time.Duration, log logr.Logger) *HTTPClient {
	if strings.TrimSpace(api) == "" {
		api = DefaultAPI
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = retries
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 10 * time.Second
	rc.Logger = leveled{log}
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if timeout > 0 {
		rc.HTTPClient.Timeout = timeout
	}
	return &HTTPClient{API: strings.TrimRight(api, "/"), Log: log, http: rc}
}

// Publish uploads the archive with its metadata.
func (c *HTTPClient) Publish(ctx context.Context, req PublishRequest) error {
	pkg := req.Package
	archive, err := os.ReadFile(req.Archive)
	if err != nil {
		return errors.Wrapf(err, "read archive of %s", pkg.Name)
	}
	meta, err := json.Marshal(NewMetadata(pkg))
	if err != nil {
		return errors.Wrap(err, "encode publish metadata")
	}
	if req.DryRun {
		c.Log.Info("dry run, skipping upload", "package", pkg.ID(), "archive", req.Archive, "bytes", len(archive))
		return nil
	}
	var body bytes.Buffer
	body.Grow(8 + len(meta) + len(archive))
	_ = binary.Write(&body, binary.LittleEndian, uint32(len(meta)))
	body.Write(meta)
	_ = binary.Write(&body, binary.LittleEndian, uint32(len(archive)))
	body.Write(archive)

	var out struct {
		Warnings struct {
			InvalidCategories []string `json:"invalid_categories"`
			InvalidBadges     []string `json:"invalid_badges"`
			Other             []string `json:"other"`
		} `json:"warnings"`
	}
	if err := c.do(ctx, http.MethodPut, "/api/v1/crates/new", req.Token, body.Bytes(), &out); err != nil {
		return registryError("publish", pkg.ID(), err)
	}
	for _, w := range append(append(out.Warnings.InvalidCategories, out.Warnings.InvalidBadges...), out.Warnings.Other...) {
		c.Log.Info("registry warning", "package", pkg.ID(), "warning", w)
	}
	return nil
}

// AddOwner invites owner to name. An existing ownership yields ErrAlreadyOwner.
func (c *HTTPClient) AddOwner(ctx context.Context, name, owner, token string) error {
	payload, err := json.Marshal(map[string][]string{"users": {owner}})
	if err != nil {
		return err
	}
	err = c.do(ctx, http.MethodPut, "/api/v1/crates/"+url.PathEscape(name)+"/owners", token, payload, nil)
	if err == nil {
		return nil
	}
	var re *errdefs.RegistryError
	if errors.As(err, &re) && strings.Contains(strings.ToLower(re.Detail), "already an owner") {
		return errors.Wrapf(ErrAlreadyOwner, "%s is already an owner of %s", owner, name)
	}
	return registryError("add owner", name, err)
}

type apiErrors struct {
	Errors []struct {
		Detail string `json:"detail"`
	} `json:"errors"`
}

// do sends one request. Registry-reported errors come back as a
// RegistryError carrying the joined details, even on a 200 response.
func (c *HTTPClient) do(ctx context.Context, method, path, token string, body []byte, out any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.API+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "dragons")
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	var ae apiErrors
	_ = json.Unmarshal(raw, &ae)
	if len(ae.Errors) > 0 || resp.StatusCode < 200 || resp.StatusCode > 299 {
		details := make([]string, 0, len(ae.Errors))
		for _, e := range ae.Errors {
			details = append(details, e.Detail)
		}
		detail := strings.Join(details, "; ")
		if detail == "" {
			detail = strings.TrimSpace(string(raw))
		}
		return &errdefs.RegistryError{StatusCode: resp.StatusCode, Detail: detail}
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return errors.Wrapf(err, "decode %s response", path)
		}
	}
	return nil
}

func registryError(op, pkg string, err error) error {
	var re *errdefs.RegistryError
	if errors.As(err, &re) {
		re.Op, re.Package = op, pkg
		return re
	}
	return &errdefs.RegistryError{Op: op, Package: pkg, Err: err}
}

// leveled adapts logr to the retryablehttp logger interface.
type leveled struct{ log logr.Logger }

func (l leveled) Error(msg string, kv ...any) { l.log.Info(msg, kv...) }
func (l leveled) Warn(msg string, kv ...any)  { l.log.Info(msg, kv...) }
func (l leveled) Info(msg string, kv ...any)  { l.log.V(1).Info(msg, kv...) }
func (l leveled) Debug(msg string, kv ...any) { l.log.V(2).Info(msg, kv...) }

var _ Client = (*HTTPClient)(nil)

func (r PublishRequest) String() string {
	return fmt.Sprintf("%s (%s)", r.Package.ID(), r.Archive)
}
