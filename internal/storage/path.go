package storage

import (
	"fmt"
	"path"
	"regexp"

	"hermannm.dev/enumnames"
)

// Artifact identifies one archived file of an uploaded dataset.
type Artifact uint8

const (
	ArtifactSource Artifact = iota + 1
	ArtifactSnapshot
)

var artifactNames = enumnames.NewMap(map[Artifact]string{
	ArtifactSource:   "source",
	ArtifactSnapshot: "snapshot",
})

func (artifact Artifact) IsValid() bool {
	return artifactNames.ContainsEnumValue(artifact)
}

func (artifact Artifact) String() string {
	return artifactNames.GetNameOrFallback(artifact, "INVALID_ARTIFACT")
}

func (artifact Artifact) MarshalJSON() ([]byte, error) {
	return artifactNames.MarshalToNameJSON(artifact)
}

func (artifact *Artifact) UnmarshalJSON(bytes []byte) error {
	return artifactNames.UnmarshalFromNameJSON(bytes, artifact)
}

// ParseArtifact accepts an artifact name such as "source".
func ParseArtifact(name string) (Artifact, error) {
	for _, artifact := range []Artifact{ArtifactSource, ArtifactSnapshot} {
		if artifact.String() == name {
			return artifact, nil
		}
	}
	return 0, fmt.Errorf("unknown artifact %q", name)
}

func (artifact Artifact) fileName() string {
	if artifact == ArtifactSnapshot {
		return "snapshot.parquet"
	}
	return "source.csv"
}

func (artifact Artifact) ContentType() string {
	if artifact == ArtifactSnapshot {
		return "application/vnd.apache.parquet"
	}
	return "text/csv"
}

var tableComponentPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// UploadPath returns the object key of an artifact of an uploaded table, for
// example uploads/csv_data_1700000000000/source.csv.
func UploadPath(table string, artifact Artifact) (string, error) {
	if !tableComponentPattern.MatchString(table) {
		return "", fmt.Errorf("%w: invalid table name %q", ErrInvalidKey, table)
	}
	if !artifact.IsValid() {
		return "", fmt.Errorf("%w: invalid artifact %d", ErrInvalidKey, artifact)
	}
	return path.Join("uploads", table, artifact.fileName()), nil
}
