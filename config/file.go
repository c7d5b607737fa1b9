package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/RichardKnop/combiner/log"
)

// NewFromYaml creates a config object from YAML file. Keys missing from the
// file keep their default values.
func NewFromYaml(cnfPath string) (*Config, error) {
	cnf, err := fromFile(cnfPath)
	if err != nil {
		return nil, err
	}

	log.INFO.Printf("Successfully loaded config from file %s", cnfPath)

	return cnf, nil
}

// ReadFromFile reads data from a file
func ReadFromFile(cnfPath string) ([]byte, error) {
	data, err := os.ReadFile(cnfPath)
	if err != nil {
		return nil, fmt.Errorf("Read from file error: %s", err)
	}

	return data, nil
}

func fromFile(cnfPath string) (*Config, error) {
	cnf := newDefaultConfig()

	data, err := ReadFromFile(cnfPath)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cnf); err != nil {
		return nil, fmt.Errorf("Unmarshal YAML error: %s", err)
	}

	return cnf, nil
}
