package utils

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// LoadConfig loads a .env file from path into the process environment and
// lets viper read the same variables. A missing .env is fine.
func LoadConfig(path string) {
	envFile := filepath.Join(path, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			logrus.WithError(err).Warnf("[CONFIG] Could not load %s", envFile)
		}
	}
	viper.AutomaticEnv()
}

// CreateFolder creates every folder that does not exist yet.
func CreateFolder(folderPath ...string) error {
	for _, folder := range folderPath {
		if folder == "" {
			continue
		}
		if err := os.MkdirAll(folder, 0o755); err != nil {
			return err
		}
	}
	return nil
}
