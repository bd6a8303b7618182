// Package lint validates Kubernetes manifest files before they reach the
// cluster. Content problems are findings, not errors: the test loop turns
// them into issues for the repair pass, so only I/O failures surface as Go
// errors.
package lint

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Finding is one validation problem in a manifest file.
type Finding struct {
	Path     string `json:"path"`     // file path as given to the validator
	Document int    `json:"document"` // zero-based document index within the file
	Message  string `json:"message"`
}

func (f Finding) String() string {
	return fmt.Sprintf("%s (document %d): %s", f.Path, f.Document, f.Message)
}

// manifestHeader is the minimal shape every applied document must carry.
type manifestHeader struct {
	APIVersion string `yaml:"apiVersion"`
	Kind       string `yaml:"kind"`
	Metadata   struct {
		Name string `yaml:"name"`
	} `yaml:"metadata"`
}

// ValidateFile parses every YAML document in the file and reports missing
// required fields. An unreadable file returns an error; unparseable content
// returns findings.
func ValidateFile(path string) ([]Finding, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	var findings []Finding
	dec := yaml.NewDecoder(f)
	for i := 0; ; i++ {
		var doc yaml.Node
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			findings = append(findings, Finding{Path: path, Document: i, Message: fmt.Sprintf("invalid YAML: %v", err)})
			break
		}
		if doc.Kind == 0 || isEmptyDoc(&doc) {
			continue
		}

		var header manifestHeader
		if err := doc.Decode(&header); err != nil {
			findings = append(findings, Finding{Path: path, Document: i, Message: fmt.Sprintf("not a Kubernetes object: %v", err)})
			continue
		}
		if header.APIVersion == "" {
			findings = append(findings, Finding{Path: path, Document: i, Message: "missing apiVersion"})
		}
		if header.Kind == "" {
			findings = append(findings, Finding{Path: path, Document: i, Message: "missing kind"})
		}
		if header.Metadata.Name == "" {
			findings = append(findings, Finding{Path: path, Document: i, Message: "missing metadata.name"})
		}
	}
	return findings, nil
}

// ValidateDir walks the tree and validates every .yaml/.yml file, skipping
// anything under a .git directory.
func ValidateDir(dir string) ([]Finding, error) {
	var findings []Finding
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		fileFindings, ferr := ValidateFile(path)
		if ferr != nil {
			return ferr
		}
		findings = append(findings, fileFindings...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk manifest dir: %w", err)
	}
	return findings, nil
}

// isEmptyDoc reports whether a parsed document carries no content, such as
// the gap between two document separators.
func isEmptyDoc(doc *yaml.Node) bool {
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return true
	}
	inner := doc.Content[0]
	return inner.Tag == "!!null"
}
