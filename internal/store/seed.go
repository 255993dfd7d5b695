package store

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/voxbridge/voxbridge/internal/domain"
)

// seedFile is the on-disk shape of an AGENT_SEED_FILE: a flat list of agent
// definitions loaded into the store once at startup.
type seedFile struct {
	Agents []domain.Agent `yaml:"agents"`
}

// LoadSeedFile reads agent definitions from path and writes each into st via
// PutAgent. It is a local-dev/bootstrap convenience, not part of the [Store]
// interface — production deployments are expected to manage agents through
// whatever operator tooling owns the Postgres `agents` table.
func LoadSeedFile(ctx context.Context, path string, put func(domain.Agent)) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("store: open seed file %q: %w", path, err)
	}
	defer f.Close()
	return LoadSeedFromReader(f, put)
}

// LoadSeedFromReader decodes agent definitions from r. Exposed separately so
// tests can seed from a string literal.
func LoadSeedFromReader(r io.Reader, put func(domain.Agent)) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var sf seedFile
	if err := dec.Decode(&sf); err != nil {
		return fmt.Errorf("store: decode seed yaml: %w", err)
	}
	for _, a := range sf.Agents {
		if a.ID == "" {
			return fmt.Errorf("store: seed agent %q missing id", a.Name)
		}
		put(a)
	}
	return nil
}
