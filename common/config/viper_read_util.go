package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"

	"github.com/rainbow-me/ctxfields/common/env"
	"github.com/rainbow-me/ctxfields/common/logger"
)

const (
	fileFormat     = ".yaml"        // File format of the config files
	relativePath   = "./cmd/config" // Default relative path for config files (base path)
	binaryPath     = "./config"     // Path for binary build config (base path)
	binaryDir      = "target"       // Directory name for the binary target
	binaryInDocker = "app"          // Directory name for Docker deployment
	envVarPrefix   = "env://"       // Prefix for environment variables
)

// YamlReadConfig holds the configuration paths (relative and absolute).
type YamlReadConfig struct {
	RelativePath string // Path relative to the current directory
	AbsolutePath string // Absolute path if provided
	DynamicDir   string // Optional dynamic directory
}

// ReadConfigOption is a function signature used to set configuration options.
type ReadConfigOption func(*YamlReadConfig)

// WithRelativePath sets a relative path for the config file.
func WithRelativePath(path string) ReadConfigOption {
	return func(config *YamlReadConfig) {
		config.RelativePath = path
	}
}

// WithAbsolutePath sets an absolute path for the config file.
func WithAbsolutePath(path string) ReadConfigOption {
	return func(config *YamlReadConfig) {
		config.AbsolutePath = path
	}
}

// WithDynamicDir allows setting a dynamic subdirectory for the configuration path.
func WithDynamicDir(dynamicDir string) ReadConfigOption {
	return func(config *YamlReadConfig) {
		config.DynamicDir = dynamicDir
	}
}

// LoadConfig loads <env>.yaml for the current application environment into conf. Values of the
// form "env://NAME" are replaced with the NAME environment variable.
func LoadConfig(conf interface{}, log *logger.Logger, options ...ReadConfigOption) error {
	config := &YamlReadConfig{RelativePath: relativePath}
	for _, option := range options {
		option(config)
	}

	currentDir, err := os.Getwd()
	if err != nil {
		log.Error("Error getting current working directory", logger.Error(err))
		return errors.Wrap(err, "failed to get current working directory")
	}
	log.Info("Current working directory", logger.String("directory", currentDir))

	// Adjust config path if running from binary target or Docker container
	if strings.Contains(currentDir, binaryDir) || strings.Contains(currentDir, binaryInDocker) {
		log.Info("Binary directory", logger.String("directory", binaryDir))
		config.RelativePath = binaryPath
	}

	if config.DynamicDir != "" {
		config.RelativePath = fmt.Sprintf("%s/%s", config.RelativePath, config.DynamicDir)
		if config.AbsolutePath != "" {
			config.AbsolutePath = fmt.Sprintf("%s/%s", config.AbsolutePath, config.DynamicDir)
		}
		log.Info("Updated relative path", logger.String("path", config.RelativePath))
	}

	pathToConfigDir := config.RelativePath
	if config.AbsolutePath != "" {
		pathToConfigDir = config.AbsolutePath
	}
	log.Info("Using config directory", logger.String("path", pathToConfigDir))

	currentEnv, err := env.GetApplicationEnv()
	if err != nil {
		return errors.Wrap(err, "invalid environment")
	}

	filePath := fmt.Sprintf("%s/%s%s", pathToConfigDir, currentEnv, fileFormat)
	log.Info("Reading config file from path", logger.String("path", filePath))

	viper.SetConfigFile(filePath)
	viper.SetEnvPrefix("")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return errors.Wrap(err, "failed to read configuration file")
	}

	for _, key := range viper.AllKeys() {
		setEnvVariableFromString(key, viper.Get(key), log)
	}

	if err := viper.Unmarshal(conf); err != nil {
		return errors.Wrap(err, "failed to unmarshal configuration")
	}
	return nil
}

func setEnvVariableFromString(key string, value interface{}, log *logger.Logger) {
	str, ok := value.(string)
	if !ok || !strings.HasPrefix(str, envVarPrefix) {
		return
	}
	envVar := str[len(envVarPrefix):]

	envValue, exists := os.LookupEnv(envVar)
	if exists {
		viper.Set(key, envValue)
		log.Info("set environment variable", logger.String("variableName", envVar))
	} else {
		viper.Set(key, "")
		log.Warn("environment variable not found", logger.String("variableName", envVar))
	}
}
