package geodiff

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// DefaultBinary is the codec executable looked up on PATH.
const DefaultBinary = "geodiff"

// CLICodec drives the external changeset codec through its command line
// interface.
type CLICodec struct {
	Binary string
}

// NewCLICodec returns a codec using binary, or DefaultBinary when empty.
func NewCLICodec(binary string) *CLICodec {
	if binary == "" {
		binary = DefaultBinary
	}
	return &CLICodec{Binary: binary}
}

// ComputeChangeset writes the changeset turning base into modified.
func (c *CLICodec) ComputeChangeset(ctx context.Context, base, modified, changeset string) error {
	_, err := c.run(ctx, "diff", base, modified, changeset)
	return err
}

// ApplyChangeset patches target in place.
func (c *CLICodec) ApplyChangeset(ctx context.Context, target, changeset string) error {
	_, err := c.run(ctx, "apply", target, changeset)
	return err
}

// ListChanges returns the row-level entries of a changeset.
func (c *CLICodec) ListChanges(ctx context.Context, changeset string) ([]DiffEntry, error) {
	out, err := c.runToFile(ctx, "as-json", changeset)
	if err != nil {
		return nil, err
	}
	return ParseChanges(bytes.NewReader(out))
}

// Schema returns the versioned tables of db.
func (c *CLICodec) Schema(ctx context.Context, db string) (Schema, error) {
	out, err := c.runToFile(ctx, "schema", db)
	if err != nil {
		return nil, err
	}
	return ParseSchema(bytes.NewReader(out))
}

// runToFile runs a command whose last argument is an output file and returns
// that file's content.
func (c *CLICodec) runToFile(ctx context.Context, args ...string) ([]byte, error) {
	f, err := os.CreateTemp("", "geodiff-*.json")
	if err != nil {
		return nil, fmt.Errorf("creating codec output: %w", err)
	}
	name := f.Name()
	f.Close()
	defer os.Remove(name)

	if _, err := c.run(ctx, append(args, name)...); err != nil {
		return nil, err
	}
	return os.ReadFile(name)
}

func (c *CLICodec) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.Binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		return nil, fmt.Errorf("%s %s: %w: %s", c.Binary, args[0], err, msg)
	}
	return stdout.Bytes(), nil
}
