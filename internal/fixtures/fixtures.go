// Package fixtures loads YAML seed files describing questions, triggers,
// harmonizer rules and priority weights.
package fixtures

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/feedbackloop/question-engine/internal/engine"
	"github.com/feedbackloop/question-engine/internal/models"
	"gopkg.in/yaml.v3"
)

// Fixture is the document layout of a seed file
type Fixture struct {
	Questions       []models.Question            `yaml:"questions"`
	Triggers        []models.Trigger             `yaml:"triggers"`
	Harmonizers     []models.FrequencyHarmonizer `yaml:"harmonizers"`
	PriorityWeights []models.PriorityWeight      `yaml:"priority_weights"`
}

// Summary counts what Apply stored
type Summary struct {
	Questions       int
	Triggers        int
	Harmonizers     int
	PriorityWeights int
}

// Decode parses a seed document; unknown keys are rejected
func Decode(r io.Reader) (*Fixture, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f Fixture
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return &f, nil
		}
		return nil, fmt.Errorf("failed to parse fixture: %w", err)
	}
	return &f, nil
}

// LoadFile reads and parses a seed file
func LoadFile(path string) (*Fixture, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fixture: %w", err)
	}
	defer file.Close()
	return Decode(file)
}

// Apply stores the fixture through the engine so every entity is validated.
// Questions go first so triggers can reference them.
func Apply(ctx context.Context, svc *engine.Service, f *Fixture) (Summary, error) {
	var sum Summary
	for i := range f.Questions {
		if err := svc.UpsertQuestion(ctx, &f.Questions[i]); err != nil {
			return sum, fmt.Errorf("question %s: %w", f.Questions[i].ID, err)
		}
		sum.Questions++
	}
	for i := range f.Triggers {
		if err := svc.Evaluator().UpsertTrigger(ctx, &f.Triggers[i]); err != nil {
			return sum, fmt.Errorf("trigger %s: %w", f.Triggers[i].ID, err)
		}
		sum.Triggers++
	}
	for i := range f.Harmonizers {
		if err := svc.Harmonizer().UpsertRule(ctx, &f.Harmonizers[i]); err != nil {
			return sum, fmt.Errorf("harmonizer %s: %w", f.Harmonizers[i].ID, err)
		}
		sum.Harmonizers++
	}
	for i := range f.PriorityWeights {
		if err := svc.Balancer().UpsertWeight(ctx, &f.PriorityWeights[i]); err != nil {
			return sum, fmt.Errorf("priority weight %s/%s: %w", f.PriorityWeights[i].BusinessID, f.PriorityWeights[i].Category, err)
		}
		sum.PriorityWeights++
	}
	return sum, nil
}
