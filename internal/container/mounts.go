package container

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Mount is one bind mount passed to `docker run -v`.
type Mount struct {
	HostPath string
	Container string
	ReadOnly bool
}

func (m Mount) arg() string {
	flag := fmt.Sprintf("-v=%s:%s", m.HostPath, m.Container)
	if m.ReadOnly {
		flag += ":ro"
	}
	return flag
}

// Allowlist is the set of host paths a group is permitted to mount in
// addition to its own group/session/IPC/config directories (§4.4's
// "external allowlist file that is itself never mounted").
type Allowlist struct {
	paths map[string]bool
}

// LoadAllowlist reads one host path per line from path. Blank lines
// and "#"-prefixed comments are ignored. A missing file yields an
// empty (deny-all) allowlist rather than an error, since an operator
// who never configured extra mounts should not see one.
func LoadAllowlist(path string) (*Allowlist, error) {
	al := &Allowlist{paths: map[string]bool{}}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return al, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		abs, err := filepath.Abs(line)
		if err != nil {
			continue
		}
		al.paths[abs] = true
	}
	return al, scanner.Err()
}

// Validate resolves symlinks and rejects any hostPath that is not
// exactly an allowlisted entry or nested beneath one, per §4.4:
// "Symlinks are resolved before validation; `..` and absolute
// container paths are rejected."
func (al *Allowlist) Validate(hostPath string) (string, error) {
	abs, err := filepath.Abs(hostPath)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", hostPath, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("resolve symlinks for %q: %w", hostPath, err)
	}
	for allowed := range al.paths {
		allowedResolved, err := filepath.EvalSymlinks(allowed)
		if err != nil {
			allowedResolved = allowed
		}
		if resolved == allowedResolved || strings.HasPrefix(resolved, allowedResolved+string(filepath.Separator)) {
			return resolved, nil
		}
	}
	return "", fmt.Errorf("mount path %q is not in the allowlist", hostPath)
}

// ValidateContainerPath rejects traversal and non-absolute container
// mount targets.
func ValidateContainerPath(p string) error {
	if !filepath.IsAbs(p) {
		return fmt.Errorf("container path %q must be absolute", p)
	}
	if strings.Contains(p, "..") {
		return fmt.Errorf("container path %q must not contain ..", p)
	}
	return nil
}
