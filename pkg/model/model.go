package model

import (
	"fmt"
	"strings"
)

// Category represents the kind of entity a node stands for
type Category string

const (
	CategoryPublication Category = "Publication"
	CategoryOrganism    Category = "Organism"
	CategoryPhenomenon  Category = "Phenomenon"
	CategoryFinding     Category = "Finding"
	CategoryPlatform    Category = "Platform"
	CategoryStressor    Category = "Stressor"
	CategoryAuthor      Category = "Author"
)

// Categories lists every known category in display order
var Categories = []Category{
	CategoryPublication,
	CategoryOrganism,
	CategoryPhenomenon,
	CategoryFinding,
	CategoryPlatform,
	CategoryStressor,
	CategoryAuthor,
}

// Valid reports whether c is one of the known categories
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory parses a category name, ignoring case
func ParseCategory(s string) (Category, error) {
	for _, known := range Categories {
		if strings.EqualFold(string(known), s) {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// RelationType is the type of a relationship between two entities
type RelationType string

const (
	RelationStudies      RelationType = "STUDIES"
	RelationInvestigates RelationType = "INVESTIGATES"
	RelationReports      RelationType = "REPORTS"
	RelationConductedOn  RelationType = "CONDUCTED_ON"
	RelationExposesTo    RelationType = "EXPOSES_TO"
	RelationAuthoredBy   RelationType = "AUTHORED_BY"
	RelationAffects      RelationType = "AFFECTS"
	RelationCauses       RelationType = "CAUSES"
	RelationSupports     RelationType = "SUPPORTS"
	RelationContradicts  RelationType = "CONTRADICTS"
	RelationBuildsOn     RelationType = "BUILDS_ON"
)

// RelationTypes lists every known relation type
var RelationTypes = []RelationType{
	RelationStudies,
	RelationInvestigates,
	RelationReports,
	RelationConductedOn,
	RelationExposesTo,
	RelationAuthoredBy,
	RelationAffects,
	RelationCauses,
	RelationSupports,
	RelationContradicts,
	RelationBuildsOn,
}

// ParseRelationType parses a relation type name, ignoring case
func ParseRelationType(s string) (RelationType, error) {
	for _, known := range RelationTypes {
		if strings.EqualFold(string(known), s) {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown relation type %q", s)
}

// Entity is a named entity associated with a publication
type Entity struct {
	Category Category `json:"category"`
	Name     string   `json:"name"`
}

// Record is the full catalogue record of a publication
type Record struct {
	Title       string            `json:"title"`
	Authors     []string          `json:"authors"`
	Abstract    string            `json:"abstract"`
	Journal     string            `json:"journal"`
	Date        string            `json:"date"`        // YYYY-MM-DD when known
	Entities    []Entity          `json:"entities"`    // Organisms, phenomena, platforms... mentioned by the paper
	ExternalIDs map[string]string `json:"externalIds"` // pmcid, doi, pmid
}
