// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package activate

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/flox/flox/lib/environment"
)

// ChainEnvVar carries the active layers into child processes.
const ChainEnvVar = "_FLOX_ACTIVE_ENVIRONMENTS"

// Layer is one activated environment in a process tree. Layers form a
// singly linked list from the innermost activation outwards.
type Layer struct {
	Key          string `json:"key"`
	Name         string `json:"name"`
	DotFlox      string `json:"dot_flox"`
	StorePath    string `json:"flox_env"`
	Mode         string `json:"mode"`
	Generation   *int   `json:"generation,omitempty"`
	ActivationID string `json:"activation_id"`

	// StateDir is the activation's state directory, where its profile
	// scripts are kept for nested interactive shells.
	StateDir      string `json:"state_dir"`
	StartServices bool   `json:"start_services"`

	Parent *Layer `json:"-"`
}

// Push returns a new innermost layer on top of l. l may be nil.
func (l *Layer) Push(next Layer) *Layer {
	next.Parent = l
	return &next
}

// Find returns the innermost layer for the instance key, or nil.
func (l *Layer) Find(key string) *Layer {
	for layer := l; layer != nil; layer = layer.Parent {
		if layer.Key == key {
			return layer
		}
	}
	return nil
}

// Contains reports whether any layer activates the instance key.
func (l *Layer) Contains(key string) bool { return l.Find(key) != nil }

// Depth is the number of layers.
func (l *Layer) Depth() int {
	depth := 0
	for layer := l; layer != nil; layer = layer.Parent {
		depth++
	}
	return depth
}

// Outermost returns the layers oldest first.
func (l *Layer) Outermost() []*Layer {
	layers := make([]*Layer, l.Depth())
	index := len(layers) - 1
	for layer := l; layer != nil; layer = layer.Parent {
		layers[index] = layer
		index--
	}
	return layers
}

// Encode serializes the chain newest first.
func (l *Layer) Encode() (string, error) {
	layers := make([]Layer, 0, l.Depth())
	for layer := l; layer != nil; layer = layer.Parent {
		layers = append(layers, *layer)
	}
	data, err := json.Marshal(layers)
	if err != nil {
		return "", fmt.Errorf("encoding %s: %w", ChainEnvVar, err)
	}
	return string(data), nil
}

// ParseChain decodes a value of [ChainEnvVar]. An empty value is an
// empty chain.
func ParseChain(value string) (*Layer, error) {
	if value == "" {
		return nil, nil
	}
	var layers []Layer
	if err := json.Unmarshal([]byte(value), &layers); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", ChainEnvVar, err)
	}
	var chain *Layer
	for index := len(layers) - 1; index >= 0; index-- {
		chain = chain.Push(layers[index])
	}
	return chain, nil
}

// ChainFromEnvironment parses the chain this process inherited.
func ChainFromEnvironment() (*Layer, error) {
	return ParseChain(os.Getenv(ChainEnvVar))
}

// PinnedGenerationError refuses to modify an environment that is
// activated at a fixed generation.
type PinnedGenerationError struct {
	Name       string
	Generation int
}

func (e *PinnedGenerationError) Error() string {
	return fmt.Sprintf("Cannot modify environment '%s' while it is activated at generation %d.", e.Name, e.Generation)
}

func (e *PinnedGenerationError) Hint() string {
	return "Exit the activation first, or activate the live generation to make changes."
}

// GuardMutation fails when the innermost activation of instance in
// chain is pinned to a generation.
func GuardMutation(chain *Layer, instance *environment.Instance) error {
	layer := chain.Find(instance.Key())
	if layer == nil || layer.Generation == nil {
		return nil
	}
	return &PinnedGenerationError{Name: instance.Description(), Generation: *layer.Generation}
}
