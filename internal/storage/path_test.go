package storage

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestUploadPath(t *testing.T) {
	cases := []struct {
		artifact Artifact
		want     string
	}{
		{ArtifactSource, "uploads/csv_data_1700000000000/source.csv"},
		{ArtifactSnapshot, "uploads/csv_data_1700000000000/snapshot.parquet"},
	}
	for _, tc := range cases {
		key, err := UploadPath("csv_data_1700000000000", tc.artifact)
		if err != nil {
			t.Fatalf("UploadPath(%s) error = %v", tc.artifact, err)
		}
		if key != tc.want {
			t.Fatalf("UploadPath(%s) = %q, want %q", tc.artifact, key, tc.want)
		}
	}
}

func TestUploadPathRejectsInvalidInput(t *testing.T) {
	if _, err := UploadPath("../oops", ArtifactSource); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("invalid table error = %v", err)
	}
	if _, err := UploadPath("csv_data_1", Artifact(9)); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("invalid artifact error = %v", err)
	}
}

func TestArtifactNames(t *testing.T) {
	artifact, err := ParseArtifact("snapshot")
	if err != nil || artifact != ArtifactSnapshot {
		t.Fatalf("ParseArtifact() = %v, %v", artifact, err)
	}
	if _, err := ParseArtifact("secrets"); err == nil {
		t.Fatal("expected unknown artifact error")
	}

	encoded, err := json.Marshal(ArtifactSource)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(encoded) != `"source"` {
		t.Fatalf("encoded = %s", encoded)
	}
	if ArtifactSnapshot.ContentType() != "application/vnd.apache.parquet" {
		t.Fatalf("ContentType() = %q", ArtifactSnapshot.ContentType())
	}
}
