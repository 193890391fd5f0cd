package main

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lab-risk-aggregator/internal/domain"
	"github.com/lab-risk-aggregator/internal/service"
	"github.com/lab-risk-aggregator/internal/tables"
)

// recordDoc is one patient record in an input file. JSON input parses the same way.
type recordDoc struct {
	ID       string             `yaml:"id"`
	Age      *int               `yaml:"age"`
	Gender   string             `yaml:"gender"`
	Pregnant bool               `yaml:"pregnant"`
	Readings map[string]float64 `yaml:"readings"`
}

func (d recordDoc) record() domain.PatientRecord {
	var age int
	if d.Age != nil {
		age = *d.Age
	}
	return domain.PatientRecord{
		ID:       d.ID,
		Age:      age,
		Gender:   domain.Gender(d.Gender),
		Pregnant: d.Pregnant,
		Readings: d.Readings,
	}
}

// readInput reads path, or stdin for "-"
func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

// parseRecords accepts a single record or a list of records in YAML or JSON
func parseRecords(data []byte) ([]recordDoc, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, fmt.Errorf("input contains no records")
	}

	doc := root.Content[0]
	switch doc.Kind {
	case yaml.SequenceNode:
		var docs []recordDoc
		if err := doc.Decode(&docs); err != nil {
			return nil, fmt.Errorf("decode records: %w", err)
		}
		if len(docs) == 0 {
			return nil, fmt.Errorf("input contains no records")
		}
		return docs, nil
	case yaml.MappingNode:
		var d recordDoc
		if err := doc.Decode(&d); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		return []recordDoc{d}, nil
	default:
		return nil, fmt.Errorf("input must be a record or a list of records")
	}
}

// validateRecords validates every record, naming the offending one on failure
func validateRecords(docs []recordDoc, t *tables.Tables) ([]domain.PatientRecord, error) {
	validator := service.NewRecordValidator(t)
	records := make([]domain.PatientRecord, len(docs))
	for i, d := range docs {
		label := d.ID
		if label == "" {
			label = fmt.Sprintf("#%d", i+1)
		}
		if d.Age == nil {
			return nil, fmt.Errorf("record %s: %w", label, domain.NewValidationError("age", "is required", nil))
		}
		record, err := validator.Validate(d.record())
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", label, err)
		}
		records[i] = record
	}
	return records, nil
}
