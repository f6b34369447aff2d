package config

import (
	"os"
	"path/filepath"
)

// locationPaths lists where the config file is looked for, in order.
func locationPaths() []string {
	paths := []string{
		"./cardscan.yaml",
		"./cardscan.yml",
		"./config/cardscan.yaml",
	}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "cardscan", "cardscan.yaml"))
	}
	return paths
}

func detectLocation() string {
	for _, loc := range locationPaths() {
		if fi, err := os.Stat(loc); err == nil && !fi.IsDir() {
			return loc
		}
	}
	return ""
}

func defaultIdentityPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "cardscan", "identity")
	}
	return filepath.Join(".", ".cardscan-identity")
}
