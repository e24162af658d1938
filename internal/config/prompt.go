package config

import (
	"embed"
	"fmt"
	"os"
	"strings"
)

//go:embed prompts/*.md
var promptFS embed.FS

// ReplyInstruction is appended to every system prompt before a completion.
const ReplyInstruction = " Bitte antworte jetzt präzise auf die letzte Nutzerfrage."

// LoadSystemPrompt returns the configured system prompt. A file override
// takes precedence over the embedded versioned prompt.
func LoadSystemPrompt(cfg PromptConfig) (string, error) {
	if cfg.Path != "" {
		return LoadSystemPromptFile(cfg.Path)
	}
	return EmbeddedSystemPrompt(cfg.Version)
}

// EmbeddedSystemPrompt returns a prompt shipped with the binary.
func EmbeddedSystemPrompt(version string) (string, error) {
	if version == "" || strings.ContainsAny(version, `/\.`) {
		return "", fmt.Errorf("invalid system prompt version %q", version)
	}
	content, err := promptFS.ReadFile("prompts/" + version + ".md")
	if err != nil {
		return "", fmt.Errorf("unknown system prompt version %q", version)
	}
	prompt := string(content)
	if err := ValidateSystemPrompt(prompt); err != nil {
		return "", err
	}
	return strings.TrimSpace(prompt), nil
}

// LoadSystemPromptFile loads a system prompt from the specified file path.
// It validates that the file exists and contains a non-empty prompt.
func LoadSystemPromptFile(path string) (string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", fmt.Errorf("system prompt file not found: %s", path)
	}

	content, err := os.ReadFile(path) // #nosec G304 - path comes from config
	if err != nil {
		return "", fmt.Errorf("failed to read system prompt: %w", err)
	}

	prompt := string(content)
	if err := ValidateSystemPrompt(prompt); err != nil {
		return "", err
	}

	return strings.TrimSpace(prompt), nil
}

// ValidateSystemPrompt ensures the system prompt is non-empty after trimming
// whitespace.
func ValidateSystemPrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return fmt.Errorf("system prompt is empty")
	}
	return nil
}
