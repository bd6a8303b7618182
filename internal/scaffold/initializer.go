package scaffold

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

//go:embed templates/*
var templatesFS embed.FS

// FileInfo represents a file to be created during initialization
type FileInfo struct {
	Path        string
	Content     []byte
	Permissions os.FileMode
}

// Initialize creates the drey project structure
// If force is true, it will remove existing drey.yml and tasks/ directory
func Initialize(force bool) error {
	// Handle --force flag
	if force {
		if err := handleForce(); err != nil {
			return err
		}
	}

	// Get template files
	files, err := getTemplateFiles()
	if err != nil {
		return err
	}

	// Create directories
	if err := createDirectories(); err != nil {
		return err
	}

	// Write files
	if err := writeFiles(files); err != nil {
		return err
	}

	// Validate created files
	if err := validateCreatedFiles(); err != nil {
		return err
	}

	return nil
}

// handleForce removes existing files if --force was specified. The
// workspace/ directory is left alone, it may hold manifests from earlier
// runs.
func handleForce() error {
	// Remove drey.yml if it exists
	if _, err := os.Stat("drey.yml"); err == nil {
		fmt.Println("⚠️  Removing existing drey.yml...")
		if err := os.Remove("drey.yml"); err != nil {
			return fmt.Errorf("failed to remove drey.yml: %w", err)
		}
	}

	// Remove tasks/ directory if it exists
	if info, err := os.Stat("tasks"); err == nil && info.IsDir() {
		fmt.Println("⚠️  Removing existing tasks/ directory...")
		if err := os.RemoveAll("tasks"); err != nil {
			return fmt.Errorf("failed to remove tasks/ directory: %w", err)
		}
	}

	return nil
}

// getTemplateFiles reads and processes all template files
func getTemplateFiles() ([]FileInfo, error) {
	files := []FileInfo{}

	// drey.yml
	dreyYml, err := templatesFS.ReadFile("templates/drey.yml.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read drey.yml template: %w", err)
	}
	files = append(files, FileInfo{
		Path:        "drey.yml",
		Content:     dreyYml,
		Permissions: 0644,
	})

	// tasks/run-task.sh
	runSh, err := templatesFS.ReadFile("templates/run-task.sh.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read run-task.sh template: %w", err)
	}
	files = append(files, FileInfo{
		Path:        filepath.Join("tasks", "run-task.sh"),
		Content:     runSh,
		Permissions: 0755, // Executable
	})

	// tasks/README.md
	readme, err := templatesFS.ReadFile("templates/README.md.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read README.md template: %w", err)
	}
	files = append(files, FileInfo{
		Path:        filepath.Join("tasks", "README.md"),
		Content:     readme,
		Permissions: 0644,
	})

	// workspace/.gitkeep keeps the empty workspace visible to git
	files = append(files, FileInfo{
		Path:        filepath.Join("workspace", ".gitkeep"),
		Content:     []byte{},
		Permissions: 0644,
	})

	return files, nil
}

// createDirectories creates the necessary directory structure
func createDirectories() error {
	dirs := []string{
		"tasks",
		"workspace",
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// writeFiles writes all template files to disk
func writeFiles(files []FileInfo) error {
	for _, file := range files {
		if err := os.WriteFile(file.Path, file.Content, file.Permissions); err != nil {
			return fmt.Errorf("failed to write %s: %w", file.Path, err)
		}
	}

	return nil
}

// validateCreatedFiles validates that created files are correct
func validateCreatedFiles() error {
	// Validate drey.yml is valid YAML
	content, err := os.ReadFile("drey.yml")
	if err != nil {
		return fmt.Errorf("failed to read created drey.yml: %w", err)
	}

	var yamlData interface{}
	if err := yaml.Unmarshal(content, &yamlData); err != nil {
		return fmt.Errorf("created drey.yml is not valid YAML: %w", err)
	}

	return nil
}

// PrintSuccess prints the success message with created files
func PrintSuccess() {
	fmt.Println("\n✅ Successfully initialized drey project!")
	fmt.Println("\nCreated:")
	fmt.Println("  ✓ drey.yml")
	fmt.Println("  ✓ tasks/run-task.sh")
	fmt.Println("  ✓ tasks/README.md")
	fmt.Println("  ✓ workspace/")
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit tasks/run-task.sh to call your task runner")
	fmt.Println("  2. Adjust drey.yml for your cluster and workspace")
	fmt.Println("  3. Run 'drey run \"<what to deploy>\"' to start a pipeline")
	fmt.Println("\nThe task contract is documented in tasks/README.md")
}
