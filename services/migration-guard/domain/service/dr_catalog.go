package service

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/entity"
)

//go:embed dr_catalog.yaml
var defaultCatalog []byte

type catalogDocument struct {
	Plans []entity.DisasterRecoveryPlan `yaml:"plans"`
}

// ParseCatalog decodes a YAML plan catalogue
func ParseCatalog(data []byte) ([]entity.DisasterRecoveryPlan, error) {
	var doc catalogDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid recovery plan catalogue: %w", err)
	}
	if len(doc.Plans) == 0 {
		return nil, fmt.Errorf("recovery plan catalogue has no plans")
	}
	return doc.Plans, nil
}

// DefaultCatalog returns the built-in plans, one per disaster type
func DefaultCatalog() []entity.DisasterRecoveryPlan {
	plans, err := ParseCatalog(defaultCatalog)
	if err != nil {
		panic(err)
	}
	return plans
}
