package core

import (
	"fmt"
	"strings"

	"buildcache/internal/lifecycle"
)

// ProjectKey is the stable identity of a buildable module.
type ProjectKey struct {
	GroupID    string `json:"groupId" yaml:"groupId"`
	ArtifactID string `json:"artifactId" yaml:"artifactId"`
	Version    string `json:"version" yaml:"version"`
}

// ParseProjectKey parses group:artifact:version.
func ParseProjectKey(s string) (ProjectKey, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return ProjectKey{}, fmt.Errorf("project key %q: want group:artifact:version", s)
	}
	k := ProjectKey{GroupID: parts[0], ArtifactID: parts[1], Version: parts[2]}
	if err := k.Validate(); err != nil {
		return ProjectKey{}, err
	}
	return k, nil
}

// Validate rejects keys with empty or path-unsafe components.
func (k ProjectKey) Validate() error {
	for name, v := range map[string]string{"groupId": k.GroupID, "artifactId": k.ArtifactID, "version": k.Version} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("project key: %s is required", name)
		}
		if strings.ContainsAny(v, `/\:`) || v == "." || v == ".." {
			return fmt.Errorf("project key: %s %q contains a path separator", name, v)
		}
	}
	return nil
}

// GA returns group:artifact.
func (k ProjectKey) GA() string { return k.GroupID + ":" + k.ArtifactID }

// String returns group:artifact:version.
func (k ProjectKey) String() string { return k.GA() + ":" + k.Version }

// Checksum is the opaque fingerprint of a project's build inputs. It does not
// depend on the requested phase.
type Checksum string

// String returns the checksum.
func (c Checksum) String() string { return string(c) }

// Validate rejects checksums that are empty or cannot be used as a path
// component.
func (c Checksum) Validate() error {
	if strings.TrimSpace(string(c)) == "" {
		return fmt.Errorf("checksum is required")
	}
	if strings.ContainsAny(string(c), `/\`) || c == "." || c == ".." {
		return fmt.Errorf("checksum %q contains a path separator", string(c))
	}
	return nil
}

// ArtifactRef points at a stored build artifact.
type ArtifactRef struct {
	// Classifier is empty for the primary artifact.
	Classifier string `json:"classifier,omitempty"`

	// Path is the workspace-relative, slash-separated location.
	Path string `json:"path"`

	// Phase is the phase that produces the artifact.
	Phase lifecycle.Phase `json:"phase"`

	// Digest is the content digest the blob is stored under.
	Digest string `json:"digest"`
	Size   int64  `json:"size"`
}

// ExtraOutput is one file matched by a declared extra output.
type ExtraOutput struct {
	// Declaration is the pattern of the declaration that captured the file.
	// Together with Path it forms the output identity.
	Declaration string `json:"declaration"`

	Path      string          `json:"path"`
	Phase     lifecycle.Phase `json:"phase,omitempty"`
	Cacheable bool            `json:"cacheable"`
	Digest    string          `json:"digest,omitempty"`
	Size      int64           `json:"size"`
}

func (o ExtraOutput) identity() string { return o.Declaration + "\x00" + o.Path }

// Blobs maps a digest to file content.
type Blobs map[string][]byte

// StoredFile is a record entry that is materialized into the workspace.
type StoredFile struct {
	Path   string
	Digest string
	Size   int64
}
