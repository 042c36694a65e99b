// File: internal/fingerprint/fingerprint.go
// Brief: Content fingerprints of source trees for drift detection.

package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/moby/patternmatcher"
	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
	"github.com/zeebo/blake3"

	"github.com/example/dragons/internal/errdefs"
)

// Algorithm names the hash used for file digests.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	BLAKE3 Algorithm = "blake3"
)

// DefaultAllow are paths a compile may legitimately create or change.
var DefaultAllow = []string{"Cargo.lock"}

// ParseAlgorithm accepts sha256 (default) or blake3.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(s))); a {
	case "", SHA256:
		return SHA256, nil
	case BLAKE3:
		return BLAKE3, nil
	}
	return "", errdefs.Configf("unknown fingerprint algorithm %q (expected sha256 or blake3)", s)
}

func (a Algorithm) newHash() hash.Hash {
	if a == BLAKE3 {
		return blake3.New()
	}
	return sha256.New()
}

func (a Algorithm) digest(h hash.Hash) digest.Digest {
	alg := digest.SHA256
	if a == BLAKE3 {
		alg = digest.Algorithm(BLAKE3)
	}
	return digest.NewDigestFromEncoded(alg, hex.EncodeToString(h.Sum(nil)))
}

// Options control what a fingerprint covers.
type Options struct {
	Algorithm Algorithm
	// Allow lists patterns, relative to the root, left out of the fingerprint.
	Allow []string
}

// Fingerprint is the digest of a tree plus the digest of every file in it.
type Fingerprint struct {
	Root   string
	Digest digest.Digest
	Files  map[string]digest.Digest
}

// Compute walks root and digests every regular file and symlink not matched
// by an allow pattern.
func Compute(ctx context.Context, root string, opts Options) (*Fingerprint, error) {
	alg := opts.Algorithm
	if alg == "" {
		alg = SHA256
	}
	allow, err := patternmatcher.New(opts.Allow)
	if err != nil {
		return nil, errdefs.Configf("invalid drift allow pattern: %v", err)
	}
	fp := &Fingerprint{Root: root, Files: map[string]digest.Digest{}}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return err
		}
		rel = filepath.ToSlash(rel)
		if ok, _ := allow.MatchesOrParentMatches(rel); ok {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		h := alg.newHash()
		switch {
		case d.Type()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			_, _ = io.WriteString(h, "symlink:"+target)
		case d.Type().IsRegular():
			info, err := d.Info()
			if err != nil {
				return err
			}
			if info.Mode().Perm()&0o111 != 0 {
				_, _ = io.WriteString(h, "exec:")
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			_, err = io.Copy(h, f)
			f.Close()
			if err != nil {
				return err
			}
		default:
			return nil
		}
		fp.Files[rel] = alg.digest(h)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "fingerprint %s", root)
	}

	names := make([]string, 0, len(fp.Files))
	for name := range fp.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	h := alg.newHash()
	for _, name := range names {
		_, _ = io.WriteString(h, name+"\x00"+fp.Files[name].String()+"\n")
	}
	fp.Digest = alg.digest(h)
	return fp, nil
}

// Equal reports whether both fingerprints cover identical content.
func (f *Fingerprint) Equal(o *Fingerprint) bool {
	return f != nil && o != nil && f.Digest == o.Digest
}

// Diff lists the files added, removed or changed between before and after,
// sorted by path.
func Diff(before, after *Fingerprint) []string {
	seen := map[string]bool{}
	var out []string
	for name, d := range before.Files {
		seen[name] = true
		if after.Files[name] != d {
			out = append(out, name)
		}
	}
	for name := range after.Files {
		if !seen[name] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
