// File: internal/toolchain/archive.go
// Brief: Deterministic package archives and safe extraction.

package toolchain

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// ArchiveExt is the file extension of package archives.
const ArchiveExt = ".crate"

type tarFile struct {
	Name string
	// Path is read when Data is nil.
	Path string
	Data []byte
	Mode int64
}

func writeDeterministicTarGz(ctx context.Context, dstPath string, files []tarFile) error {
	if strings.TrimSpace(dstPath) == "" {
		return fmt.Errorf("archive output path is required")
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return err
	}
	tmp := dstPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
		_ = os.Remove(tmp)
	}()

	gw := gzip.NewWriter(f)
	gw.Name = filepath.Base(dstPath)
	gw.ModTime = time.Unix(0, 0).UTC()
	tw := tar.NewWriter(gw)

	for _, tf := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := strings.TrimLeft(strings.TrimSpace(tf.Name), "/")
		if name == "" {
			return fmt.Errorf("empty archive entry name for %s", tf.Path)
		}
		data := tf.Data
		mode := os.FileMode(0o644)
		if data == nil {
			info, err := os.Stat(tf.Path)
			if err != nil {
				return err
			}
			if info.IsDir() {
				return fmt.Errorf("archive entry %s is a directory", tf.Path)
			}
			if info.Mode().Perm()&0o111 != 0 {
				mode = 0o755
			}
			if data, err = os.ReadFile(tf.Path); err != nil {
				return err
			}
		}
		if tf.Mode != 0 {
			mode = os.FileMode(tf.Mode)
		}
		hdr := &tar.Header{
			Name:     name,
			Mode:     int64(mode),
			Size:     int64(len(data)),
			ModTime:  time.Unix(0, 0).UTC(),
			Typeflag: tar.TypeReg,
			Format:   tar.FormatPAX,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if _, err := tw.Write(data); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	if err := gw.Close(); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dstPath)
}

// extractTarGz unpacks regular files of archive below dstDir and returns
// the top-level directory names it saw.
func extractTarGz(ctx context.Context, archive, dstDir string) ([]string, error) {
	f, err := os.Open(archive)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gzr, err := gzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", archive)
	}
	defer gzr.Close()

	root := filepath.Clean(dstDir)
	tops := map[string]bool{}
	tr := tar.NewReader(gzr)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", archive)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := strings.TrimLeft(strings.TrimSpace(hdr.Name), "/")
		if name == "" {
			continue
		}
		if strings.Contains(name, "..") {
			return nil, fmt.Errorf("invalid archive entry name %q", hdr.Name)
		}
		target := filepath.Join(root, filepath.FromSlash(name))
		if !strings.HasPrefix(filepath.Clean(target), root+string(os.PathSeparator)) {
			return nil, fmt.Errorf("invalid archive entry path %q", hdr.Name)
		}
		tops[strings.SplitN(name, "/", 2)[0]] = true
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, err
		}
		mode := os.FileMode(hdr.Mode).Perm() | 0o600
		tmp := target + ".tmp"
		out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
		if err != nil {
			return nil, err
		}
		_, copyErr := io.Copy(out, tr)
		closeErr := out.Close()
		if copyErr != nil {
			_ = os.Remove(tmp)
			return nil, copyErr
		}
		if closeErr != nil {
			_ = os.Remove(tmp)
			return nil, closeErr
		}
		if err := os.Rename(tmp, target); err != nil {
			_ = os.Remove(tmp)
			return nil, err
		}
	}
	out := make([]string, 0, len(tops))
	for t := range tops {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}
