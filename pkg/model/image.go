package model

import "fmt"

type ImageKind string

const (
	// ImageInTree is built from a dockerfile checked into the repository.
	ImageInTree ImageKind = "in-tree"
	// ImageRegistry is pulled as-is from a registry.
	ImageRegistry ImageKind = "registry"
)

// DockerfileExt is appended to a bare dockerfile name to find it on disk.
const DockerfileExt = ".dockerfile"

// Image is the resolved image a task runs in.
type Image struct {
	Kind ImageKind `json:"kind"`

	// In-tree images
	Name           string `json:"name,omitempty"`
	DockerfilePath string `json:"dockerfile_path,omitempty"`
	Dockerfile     []byte `json:"-"`
	Digest         string `json:"digest,omitempty"` // hex sha256 of Dockerfile

	// Registry images, normalized (docker.io/library/ubuntu:22.04)
	Reference string `json:"reference,omitempty"`
}

func (i Image) String() string {
	if i.Kind == ImageRegistry {
		return i.Reference
	}
	return fmt.Sprintf("%s (%s, sha256:%s)", i.Name, i.DockerfilePath, i.Digest)
}

// ShortDigest is the first twelve characters of the dockerfile digest.
func (i Image) ShortDigest() string {
	if len(i.Digest) < 12 {
		return i.Digest
	}
	return i.Digest[:12]
}
