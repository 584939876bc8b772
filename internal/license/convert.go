package license

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Converter turns a rendered license into its distributable form and
// returns the path of the new file.
type Converter interface {
	Convert(ctx context.Context, source string) (string, error)
}

// CommandConverter runs "<Command> -o <target> <source>", pandoc's calling
// convention. The target sits next to source with extension Ext.
type CommandConverter struct {
	Command string
	Ext     string
}

func NewCommandConverter(command string) *CommandConverter {
	if command == "" {
		command = "pandoc"
	}
	return &CommandConverter{Command: command, Ext: ".pdf"}
}

func (c *CommandConverter) Convert(ctx context.Context, source string) (string, error) {
	target := strings.TrimSuffix(source, filepath.Ext(source)) + c.Ext
	cmd := exec.CommandContext(ctx, c.Command, "-o", target, source)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("convert %s: %w: %s", filepath.Base(source), err, strings.TrimSpace(string(out)))
	}
	if _, err := os.Stat(target); err != nil {
		return "", fmt.Errorf("convert %s: no output: %w", filepath.Base(source), err)
	}
	return target, nil
}
