/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
)

var errLevelNotFound = errors.New("no options found for level")

// OptionPair is one entry in a level file under the levels directory.
type OptionPair struct {
	OptionA string `json:"optionA"`
	OptionB string `json:"optionB"`
}

// Catalogue reads per-level option lists from level<N>.json files.
// It holds no state; every lookup re-reads the file and picks one
// entry at random, so repeated calls for the same level may differ.
type Catalogue struct {
	dir string
}

func newCatalogue(dir string) *Catalogue {
	return &Catalogue{dir: dir}
}

// LoadLevel returns a randomly chosen pair for the given level, or
// errLevelNotFound if the level file is missing, malformed, or empty.
func (c *Catalogue) LoadLevel(level int) (OptionPair, error) {
	file := filepath.Join(c.dir, fmt.Sprintf("level%d.json", level))

	data, err := os.ReadFile(file)
	if err != nil {
		return OptionPair{}, fmt.Errorf("%w %d: %w", errLevelNotFound, level, err)
	}

	var pairs []OptionPair
	if err := json.Unmarshal(data, &pairs); err != nil {
		return OptionPair{}, fmt.Errorf("%w %d: %w", errLevelNotFound, level, err)
	}

	if len(pairs) == 0 {
		return OptionPair{}, fmt.Errorf("%w %d: empty list", errLevelNotFound, level)
	}

	return pairs[rand.IntN(len(pairs))], nil
}
