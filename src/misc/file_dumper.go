package misc

import (
	"os"
	"path/filepath"
	"strings"
)

type FileDumper struct {
	path string
}

func (this *FileDumper) Init(path string) {
	this.path = path
}

func (this *FileDumper) Path() string {
	return this.path
}

// WriteLines replaces the file with lines, creating parent directories.
func (this *FileDumper) WriteLines(lines []string) {
	if err := os.MkdirAll(filepath.Dir(this.path), 0o755); err != nil {
		panic(err)
	}

	content := strings.Join(lines, "\n")
	if len(lines) > 0 {
		content += "\n"
	}
	if err := os.WriteFile(this.path, []byte(content), 0o644); err != nil {
		panic(err)
	}
}
