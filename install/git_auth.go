package install

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"golang.org/x/crypto/ssh"

	"github.com/vgem/vgem/internal/vgerr"
)

// isSSHURL reports whether url needs key-based auth rather than the
// anonymous HTTP(S) transport: either an explicit ssh:// scheme or the
// scp-like "git@host:path" shorthand git itself accepts.
func isSSHURL(url string) bool {
	return strings.HasPrefix(url, "ssh://") || strings.Contains(url, "@") && strings.Contains(url, ":") && !strings.Contains(url, "://")
}

// sshAuthMethod builds a go-git auth method for a private git source,
// spec.md §4.J phase 8's git materialization. The key path defaults to
// the user's own ~/.ssh/id_rsa, overridable via VGEM_SSH_KEY, matching the
// SSH_PRIVATE_KEY-style override other package managers in this corpus
// expose; host key checking is left to go-git's own known_hosts lookup
// unless VGEM_SSH_INSECURE_HOST_KEY=1 explicitly disables it.
func sshAuthMethod(url string) (transport.AuthMethod, error) {
	keyPath := os.Getenv("VGEM_SSH_KEY")
	if keyPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, vgerr.New(vgerr.KindIO, "install.sshAuthMethod", "locating home directory", err)
		}
		keyPath = filepath.Join(home, ".ssh", "id_rsa")
	}

	auth, err := gitssh.NewPublicKeysFromFile("git", keyPath, "")
	if err != nil {
		return nil, vgerr.New(vgerr.KindIO, "install.sshAuthMethod", "loading SSH key "+keyPath, err)
	}
	if os.Getenv("VGEM_SSH_INSECURE_HOST_KEY") == "1" {
		auth.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}
	return auth, nil
}
