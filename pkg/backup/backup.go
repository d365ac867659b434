// Package backup snapshots artifact directories into compressed archives
// before destructive operations and restores them on request.
//
// An archive named <artifact>-<timestamp>.tar.gz holds one tree per target
// under <target>/skills/<artifact>/. Archives are written under a temporary
// name and renamed into place, so a listed archive is always complete.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/skillsmith/skillsmith/pkg/artifact"
	"github.com/skillsmith/skillsmith/pkg/logger"
	"github.com/skillsmith/skillsmith/pkg/sanitize"
	"github.com/skillsmith/skillsmith/pkg/utils"
)

// Extension is the file suffix of backup archives.
const Extension = ".tar.gz"

const timestampLayout = "20060102T150405.000"

var (
	// ErrBackupFailed is returned when an archive could not be written. The
	// operation that asked for the backup must not proceed.
	ErrBackupFailed = errors.New("backup failed")
	// ErrBackupNotFound is returned when a requested archive does not exist.
	ErrBackupNotFound = errors.New("backup not found")
)

// Archive describes a backup file on disk.
type Archive struct {
	Path      string
	Artifact  string
	CreatedAt time.Time
	Size      int64
}

// Manager creates, lists and restores backups for one project.
type Manager struct {
	layout  *artifact.Layout
	dir     string
	tempDir string
	now     func() time.Time
}

// NewManager creates a Manager writing archives to dir and staging restores
// under tempDir.
func NewManager(layout *artifact.Layout, dir, tempDir string) *Manager {
	return &Manager{layout: layout, dir: dir, tempDir: tempDir, now: time.Now}
}

// Dir returns the archive directory.
func (m *Manager) Dir() string {
	return m.dir
}

type source struct {
	target string
	dir    string
}

func failed(err error, msg string) error {
	return fmt.Errorf("%w: %s: %w", ErrBackupFailed, msg, err)
}

// Create archives the artifact directory of name for every target that has
// one and returns the archive path. Targets without an artifact are skipped;
// having none at all is an error.
func (m *Manager) Create(ctx context.Context, name string, targets []string) (string, error) {
	var sources []source
	for _, target := range targets {
		dir, err := m.layout.ArtifactDir(target, name)
		if err != nil {
			return "", failed(err, "invalid artifact location")
		}
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			sources = append(sources, source{target: target, dir: dir})
		}
	}
	if len(sources) == 0 {
		return "", failed(errors.Errorf("no existing artifact %q in %v", name, targets), "nothing to back up")
	}

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return "", failed(err, "failed to create backup directory")
	}

	final := filepath.Join(m.dir, fmt.Sprintf("%s-%s%s", name, m.now().UTC().Format(timestampLayout), Extension))
	tempPath := final + ".tmp"

	if err := writeArchive(tempPath, name, sources); err != nil {
		os.Remove(tempPath)
		return "", failed(err, "failed to write archive")
	}
	if err := utils.Rename(ctx, tempPath, final); err != nil {
		os.Remove(tempPath)
		return "", failed(err, "failed to finalize archive")
	}

	logger.G(ctx).
		WithField("artifact", name).
		WithField("path", final).
		WithField("targets", len(sources)).
		Info("backup created")
	return final, nil
}

func writeArchive(archivePath, name string, sources []source) (err error) {
	f, err := os.OpenFile(archivePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	for _, src := range sources {
		prefix := path.Join(src.target, "skills", name)
		if err := addTree(tw, src.dir, prefix); err != nil {
			return errors.Wrapf(err, "failed to archive %s", src.dir)
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return f.Sync()
}

func addTree(tw *tar.Writer, root, prefix string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		name := prefix
		if rel != "." {
			name = path.Join(prefix, filepath.ToSlash(rel))
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		var link string
		switch {
		case info.Mode()&os.ModeSymlink != 0:
			if link, err = os.Readlink(p); err != nil {
				return err
			}
		case info.IsDir(), info.Mode().IsRegular():
		default:
			return errors.Errorf("unsupported file type at %s", p)
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = name
		if info.IsDir() {
			hdr.Name += "/"
		}
		hdr.Uid, hdr.Gid, hdr.Uname, hdr.Gname = 0, 0, "", ""
		hdr.Format = tar.FormatPAX

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}

// Restore extracts the archive at archivePath back onto the project and
// returns the restored artifact directories. Each artifact directory in the
// archive replaces the live one as a whole. Entries outside
// <target>/skills/<artifact>/ are rejected before anything is touched.
func (m *Manager) Restore(ctx context.Context, archivePath string) ([]string, error) {
	if _, err := os.Stat(archivePath); os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrBackupNotFound, "%s", archivePath)
	}

	stage := filepath.Join(m.tempDir, "restore-"+uuid.NewString())
	if err := os.MkdirAll(stage, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create staging directory")
	}
	defer os.RemoveAll(stage)

	extracted := filepath.Join(stage, "archive")
	roots, err := extract(archivePath, extracted)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read backup %s", filepath.Base(archivePath))
	}

	var restored []string
	for _, root := range roots {
		live, err := m.layout.ArtifactDir(root.target, root.name)
		if err != nil {
			return restored, err
		}
		staged := filepath.Join(extracted, root.target, "skills", root.name)
		aside := filepath.Join(stage, "previous", root.target)
		if err := swap(ctx, staged, live, aside); err != nil {
			return restored, errors.Wrapf(err, "failed to restore %s", artifact.RelArtifactDir(root.target, root.name))
		}
		restored = append(restored, live)
	}

	logger.G(ctx).WithField("path", archivePath).WithField("restored", len(restored)).Info("backup restored")
	return restored, nil
}

// swap replaces live with staged, moving any current directory to aside
// first and moving it back if the replacement fails.
func swap(ctx context.Context, staged, live, aside string) error {
	if err := os.MkdirAll(filepath.Dir(live), 0o755); err != nil {
		return err
	}
	hadLive := utils.Exists(live)
	if hadLive {
		if err := os.MkdirAll(filepath.Dir(aside), 0o755); err != nil {
			return err
		}
		if err := utils.Rename(ctx, live, aside); err != nil {
			return err
		}
	}
	if err := utils.Rename(ctx, staged, live); err != nil {
		if hadLive {
			if rerr := os.Rename(aside, live); rerr != nil {
				logger.G(ctx).WithError(rerr).WithField("path", live).Error("failed to put back the previous artifact directory")
			}
		}
		return err
	}
	return nil
}

type root struct {
	target string
	name   string
}

type dirMeta struct {
	path    string
	mode    os.FileMode
	modTime time.Time
}

// entryRoot validates an archive entry name and returns the artifact root it
// belongs to.
func entryRoot(name string) (root, error) {
	clean := path.Clean(strings.TrimSuffix(name, "/"))
	parts := strings.Split(clean, "/")
	if path.IsAbs(clean) || len(parts) < 3 || parts[1] != "skills" ||
		!artifact.IsKnownTarget(parts[0]) || !sanitize.NamePattern.MatchString(parts[2]) {
		return root{}, errors.Errorf("unexpected archive entry %q", name)
	}
	for _, p := range parts {
		if p == ".." {
			return root{}, errors.Errorf("unexpected archive entry %q", name)
		}
	}
	return root{target: parts[0], name: parts[2]}, nil
}

func extract(archivePath, dest string) ([]root, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	gzr, err := gzip.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)

	var (
		roots []root
		seen  = map[root]bool{}
		dirs  []dirMeta
	)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		r, err := entryRoot(hdr.Name)
		if err != nil {
			return nil, err
		}
		if !seen[r] {
			seen[r] = true
			roots = append(roots, r)
		}

		rel := path.Clean(strings.TrimSuffix(hdr.Name, "/"))
		target := filepath.Join(dest, filepath.FromSlash(rel))
		mode := hdr.FileInfo().Mode().Perm()

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, err
			}
			dirs = append(dirs, dirMeta{path: target, mode: mode, modTime: hdr.ModTime})
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return nil, err
			}
			if err := writeEntry(tr, target, mode); err != nil {
				return nil, err
			}
			if err := os.Chtimes(target, hdr.ModTime, hdr.ModTime); err != nil {
				return nil, err
			}
		case tar.TypeSymlink:
			if err := checkLink(rel, hdr.Linkname, r); err != nil {
				return nil, err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return nil, err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return nil, err
			}
		default:
			return nil, errors.Errorf("unsupported entry type %q for %s", hdr.Typeflag, hdr.Name)
		}
	}

	if len(roots) == 0 {
		return nil, errors.New("archive is empty")
	}

	// Parents last so that setting child times does not disturb them.
	for i := len(dirs) - 1; i >= 0; i-- {
		d := dirs[i]
		if err := os.Chmod(d.path, d.mode); err != nil {
			return nil, err
		}
		if err := os.Chtimes(d.path, d.modTime, d.modTime); err != nil {
			return nil, err
		}
	}

	return roots, nil
}

func writeEntry(r io.Reader, target string, mode os.FileMode) error {
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_EXCL, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// checkLink only admits relative symlinks that stay inside their artifact.
func checkLink(entry, link string, r root) error {
	if path.IsAbs(link) {
		return errors.Errorf("symlink %s points outside the artifact", entry)
	}
	resolved := path.Join(path.Dir(entry), link)
	base := path.Join(r.target, "skills", r.name)
	if resolved != base && !strings.HasPrefix(resolved, base+"/") {
		return errors.Errorf("symlink %s points outside the artifact", entry)
	}
	return nil
}

// List returns the archives of artifact name, newest first. An empty name
// lists every archive.
func (m *Manager) List(name string) ([]Archive, error) {
	pattern := "*" + Extension
	if name != "" {
		if !sanitize.NamePattern.MatchString(name) {
			return nil, errors.Wrapf(sanitize.ErrInvalidName, "%q", name)
		}
		pattern = name + "-*" + Extension
	}

	if _, err := os.Stat(m.dir); os.IsNotExist(err) {
		return nil, nil
	}

	matches, err := doublestar.Glob(os.DirFS(m.dir), pattern)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list backups")
	}

	var archives []Archive
	for _, match := range matches {
		artifactName, createdAt, ok := parseArchiveName(match)
		if !ok || (name != "" && artifactName != name) {
			continue
		}
		full := filepath.Join(m.dir, match)
		info, err := os.Stat(full)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		archives = append(archives, Archive{
			Path:      full,
			Artifact:  artifactName,
			CreatedAt: createdAt,
			Size:      info.Size(),
		})
	}

	sort.SliceStable(archives, func(i, j int) bool {
		return archives[i].CreatedAt.After(archives[j].CreatedAt)
	})
	return archives, nil
}

// Latest returns the newest archive of name.
func (m *Manager) Latest(name string) (Archive, error) {
	archives, err := m.List(name)
	if err != nil {
		return Archive{}, err
	}
	if len(archives) == 0 {
		return Archive{}, errors.Wrapf(ErrBackupNotFound, "no backups for %q", name)
	}
	return archives[0], nil
}

// Inspect describes the archive at path. Names that do not follow the
// archive naming scheme are reported with an empty artifact name.
func Inspect(path string) (Archive, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return Archive{}, errors.Wrapf(ErrBackupNotFound, "%s", path)
	}
	if err != nil {
		return Archive{}, errors.Wrapf(err, "failed to inspect %s", path)
	}
	if !info.Mode().IsRegular() {
		return Archive{}, errors.Errorf("%s is not a backup archive", path)
	}
	name, createdAt, _ := parseArchiveName(filepath.Base(path))
	return Archive{Path: path, Artifact: name, CreatedAt: createdAt, Size: info.Size()}, nil
}

// parseArchiveName splits "<artifact>-<timestamp>.tar.gz".
func parseArchiveName(base string) (string, time.Time, bool) {
	stem, ok := strings.CutSuffix(base, Extension)
	if !ok {
		return "", time.Time{}, false
	}
	i := strings.LastIndex(stem, "-")
	if i <= 0 {
		return "", time.Time{}, false
	}
	ts, err := time.Parse(timestampLayout, stem[i+1:])
	if err != nil {
		return "", time.Time{}, false
	}
	return stem[:i], ts, true
}
