package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/martinemde/coderoute/agentloop"
)

// Installer fetches the source of an import path into the plugin GOPATH.
// ref selects a branch or tag; empty means the default branch.
type Installer func(ctx context.Context, pkg, ref string) (string, error)

var importPath = regexp.MustCompile(`^[A-Za-z0-9._~-]+(/[A-Za-z0-9._~-]+)*$`)

// RepoRoot maps an import path to the repository that holds it and the URL
// to clone it from.
func RepoRoot(pkg string) (root, cloneURL string, err error) {
	if !importPath.MatchString(pkg) || strings.Contains(pkg, "..") {
		return "", "", fmt.Errorf("invalid import path %q", pkg)
	}
	parts := strings.Split(pkg, "/")
	if !strings.Contains(parts[0], ".") {
		return "", "", fmt.Errorf("%q is a standard library path or has no host", pkg)
	}
	switch parts[0] {
	case "github.com", "gitlab.com", "bitbucket.org":
		if len(parts) < 3 {
			return "", "", fmt.Errorf("import path %q needs an owner and repository", pkg)
		}
		root = strings.Join(parts[:3], "/")
		return root, "https://" + root, nil
	case "golang.org":
		if len(parts) < 3 || parts[1] != "x" {
			return "", "", fmt.Errorf("unsupported golang.org path %q", pkg)
		}
		return strings.Join(parts[:3], "/"), "https://go.googlesource.com/" + parts[2], nil
	case "gopkg.in":
		n := 2
		if len(parts) > 2 && !strings.Contains(parts[1], ".") {
			n = 3
		}
		if len(parts) < n {
			return "", "", fmt.Errorf("invalid gopkg.in path %q", pkg)
		}
		root = strings.Join(parts[:n], "/")
		return root, "https://" + root, nil
	}
	return pkg, "https://" + pkg, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// NewInstaller clones repositories with git into gopath/src. An existing
// checkout is left alone. Dependencies of the package are not fetched.
func NewInstaller(env Environment, gopath string, timeout time.Duration, logger *zap.Logger) Installer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, pkg, ref string) (string, error) {
		root, cloneURL, err := RepoRoot(pkg)
		if err != nil {
			return "", err
		}
		dest := filepath.Join(env.Resolve(gopath), "src", filepath.FromSlash(root))
		if _, err := os.Stat(dest); err == nil {
			return fmt.Sprintf("%s is already installed at %s", root, dest), nil
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return "", err
		}

		cmd := "git clone --depth 1"
		if ref != "" {
			cmd += " --branch " + shellQuote(ref)
		}
		cmd += " " + shellQuote(cloneURL) + " " + shellQuote(dest)
		logger.Info("installing package", zap.String("package", pkg), zap.String("url", cloneURL))

		res, err := env.Exec(ctx, cmd, timeout, "")
		if err != nil {
			return "", err
		}
		switch {
		case res.TimedOut:
			_ = os.RemoveAll(dest)
			return "", fmt.Errorf("git clone of %s timed out after %s", cloneURL, timeout)
		case res.ExitCode != 0:
			_ = os.RemoveAll(dest)
			return "", fmt.Errorf("git clone of %s failed (exit code %d): %s", cloneURL, res.ExitCode, strings.TrimSpace(res.Stderr))
		}
		logger.Info("package installed", zap.String("package", pkg), zap.String("dir", dest))
		return fmt.Sprintf("Installed %s into %s", root, dest), nil
	}
}

// GoPackage exposes install as a capability.
func GoPackage(install Installer) agentloop.Capability {
	return agentloop.Func(agentloop.Descriptor{
		Name: "gopackagetool",
		Description: "Installs the source of a Go package into the plugin GOPATH so that tools created with " +
			"toolcreator can import it. Only the named repository is fetched, not its dependencies.",
		Parameters: object([]string{"package"}, map[string]any{
			"package": prop("string", "Import path, for example github.com/google/uuid"),
			"ref":     prop("string", "Branch or tag to check out (default: the default branch)"),
		}),
	}, func(ctx context.Context, args map[string]any) (any, error) {
		pkg := agentloop.StringArgOr(args, "package", "")
		if pkg == "" {
			return nil, errors.New("no package provided")
		}
		return install(ctx, pkg, agentloop.StringArgOr(args, "ref", ""))
	})
}
