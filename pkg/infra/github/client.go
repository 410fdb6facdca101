package github

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/go-github/v75/github"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/drover/pkg/domain/interfaces"
	"github.com/m-mizutani/goerr/v2"
)

type client struct {
	githubClient *github.Client
}

var _ interfaces.SourceFetcher = (*client)(nil)

// NewClient creates a GitHub client. An empty token yields an
// unauthenticated client limited to public repositories.
func NewClient(token string) interfaces.SourceFetcher {
	githubClient := github.NewClient(nil)
	if token != "" {
		githubClient = githubClient.WithAuthToken(token)
	}

	return &client{
		githubClient: githubClient,
	}
}

// Fetch downloads the zipball of repo ("owner/name") at ref and unpacks
// it into destDir with the archive's top-level directory stripped.
func (c *client) Fetch(ctx context.Context, repo, ref, destDir string) error {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" {
		return goerr.New("repository must be owner/name", goerr.V("repo", repo))
	}

	data, err := c.downloadZipball(ctx, owner, name, ref)
	if err != nil {
		return err
	}

	ctxlog.From(ctx).Debug("Downloaded source zipball",
		"repo", repo,
		"ref", ref,
		"size", len(data),
	)

	return extractZip(data, destDir)
}

// downloadZipball downloads the source code zipball for a specific commit
func (c *client) downloadZipball(ctx context.Context, owner, repo, ref string) ([]byte, error) {
	// Get download URL for zipball
	url, _, err := c.githubClient.Repositories.GetArchiveLink(ctx, owner, repo, github.Zipball, &github.RepositoryContentGetOptions{
		Ref: ref,
	}, 3) // Follow up to 3 redirects

	if err != nil {
		return nil, goerr.Wrap(err, "failed to get zipball download URL",
			goerr.V("owner", owner), goerr.V("repo", repo), goerr.V("ref", ref))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url.String(), nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create download request", goerr.V("url", url.String()))
	}

	// Use the same client transport for authentication
	httpClient := &http.Client{Transport: c.githubClient.Client().Transport}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to download zipball", goerr.V("url", url.String()))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, goerr.New("unexpected status code for zipball download",
			goerr.V("status", resp.StatusCode), goerr.V("url", url.String()))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read zipball response body")
	}

	return data, nil
}

// extractZip unpacks archive data into destDir. GitHub zipballs wrap
// everything in a single "<owner>-<repo>-<sha>/" directory, which is
// stripped so sources land directly in destDir.
func extractZip(data []byte, destDir string) error {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return goerr.Wrap(err, "failed to open zip archive")
	}

	for _, file := range reader.File {
		if err := extractFile(file, destDir); err != nil {
			return err
		}
	}

	return nil
}

func extractFile(file *zip.File, destDir string) error {
	name := stripTopDir(file.Name)
	if name == "" {
		return nil
	}

	target := filepath.Join(destDir, filepath.FromSlash(name))

	// Reject entries escaping destDir via ".." or absolute paths.
	cleanDest := filepath.Clean(destDir) + string(os.PathSeparator)
	if !strings.HasPrefix(target, cleanDest) {
		return goerr.New("zip entry escapes destination directory", goerr.V("entry", file.Name))
	}

	if file.FileInfo().IsDir() {
		return os.MkdirAll(target, 0755)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return goerr.Wrap(err, "failed to create directory", goerr.V("path", filepath.Dir(target)))
	}

	src, err := file.Open()
	if err != nil {
		return goerr.Wrap(err, "failed to open zip entry", goerr.V("entry", file.Name))
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, file.Mode())
	if err != nil {
		return goerr.Wrap(err, "failed to create file", goerr.V("path", target))
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return goerr.Wrap(err, "failed to write file", goerr.V("path", target))
	}

	return nil
}

// stripTopDir removes the leading path element of a zip entry name.
func stripTopDir(name string) string {
	_, rest, ok := strings.Cut(name, "/")
	if !ok {
		return ""
	}
	return rest
}
