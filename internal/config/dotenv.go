package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads environment variables from a .env file into the process
// environment. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// MustLoadDotEnv loads a .env file and returns an error if it does not exist.
func MustLoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("stat dotenv file: %w", err)
	}
	return godotenv.Load(path)
}

// LoadDotEnvFromFiles loads multiple .env files in order. Earlier files take
// precedence over later ones, matching godotenv.Load's semantics.
func LoadDotEnvFromFiles(paths ...string) error {
	existing := existingPaths(paths)
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// OverloadDotEnvFromFiles loads multiple .env files in order, with later
// files overriding values set by earlier ones.
func OverloadDotEnvFromFiles(paths ...string) error {
	existing := existingPaths(paths)
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Overload(existing...)
}

func existingPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			out = append(out, p)
		}
	}
	return out
}

// LoadConfig loads a .env file (if present) and then parses the process
// environment into an AppConfig.
func LoadConfig(envFile string) (AppConfig, error) {
	if err := LoadDotEnv(envFile); err != nil {
		return AppConfig{}, fmt.Errorf("load dotenv: %w", err)
	}

	envCfg, err := LoadFromEnv()
	if err != nil {
		return AppConfig{}, fmt.Errorf("load env config: %w", err)
	}

	return envCfg.ToAppConfig(), nil
}
