package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Persona describes the assistant identity injected into the context header.
type Persona struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Instructions []string `yaml:"instructions"`
	Traits       []string `yaml:"traits"`
}

// DefaultPersona is used when no persona file is configured.
func DefaultPersona() *Persona {
	return &Persona{
		Name:        "Spectrum",
		Description: "a warm, attentive conversational companion",
		Instructions: []string{
			"Stay friendly, patient and helpful.",
			"When a tool is needed, request it explicitly.",
			"Keep answers concise and accurate.",
		},
	}
}

// LoadPersona reads a persona definition from a YAML file.
// An empty path returns the default persona.
func LoadPersona(path string) (*Persona, error) {
	if path == "" {
		return DefaultPersona(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona file: %w", err)
	}

	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse persona file: %w", err)
	}
	if p.Name == "" {
		p.Name = DefaultPersona().Name
	}
	return &p, nil
}

// SystemInstruction renders the persona as a single system prompt segment.
func (p *Persona) SystemInstruction() string {
	out := fmt.Sprintf("You are %s, %s.", p.Name, p.Description)
	for _, inst := range p.Instructions {
		out += "\n- " + inst
	}
	if len(p.Traits) > 0 {
		out += "\nPersonality traits:"
		for _, t := range p.Traits {
			out += " " + t
		}
	}
	return out
}
