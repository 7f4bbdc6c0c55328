// Package biosync carries the build identity injected at link time. An
// untagged local build reports empty revision and branch.
package biosync

var (
	// Revision is the git revision the binary was built from.
	Revision string

	// Branch is the git branch the binary was built from.
	Branch string

	// Env names the deployment environment.
	Env = "production"
)

// UserAgent identifies the binary to the HR system.
func UserAgent() string {
	if Revision == "" {
		return "biosync"
	}

	return "biosync/" + Revision
}
