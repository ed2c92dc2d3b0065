package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vitos/strategy_bot/internal/strategy"
	"gopkg.in/yaml.v3"
)

// strategyFile is a custom strategy as users author it.
type strategyFile struct {
	Name string              `yaml:"name" json:"name"`
	Buy  strategy.Conditions `yaml:"buy" json:"buy"`
	Sell strategy.Conditions `yaml:"sell" json:"sell"`
}

// Usage: validate_strategy FILE
// FILE is yaml or json. Exits 1 when the strategy has errors.
func main() {
	if len(os.Args) != 2 {
		fmt.Println("Usage: validate_strategy <strategy.yaml|strategy.json>")
		os.Exit(2)
	}
	path := os.Args[1]

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Printf("Error reading file: %v\n", err)
		os.Exit(2)
	}

	var sf strategyFile
	if filepath.Ext(path) == ".json" {
		err = json.Unmarshal(data, &sf)
	} else {
		err = yaml.Unmarshal(data, &sf)
	}
	if err != nil {
		fmt.Printf("Error parsing %s: %v\n", path, err)
		os.Exit(2)
	}

	res := strategy.Validate(sf.Buy, sf.Sell)
	if res.Valid {
		if _, err := strategy.Build(strategy.Config{Name: sf.Name, Kind: strategy.KindCustom, Buy: sf.Buy, Sell: sf.Sell}); err != nil {
			res.Valid = false
			res.Errors = append(res.Errors, err.Error())
		}
	}

	name := sf.Name
	if name == "" {
		name = filepath.Base(path)
	}
	fmt.Printf("Strategy: %s\n", name)
	for _, e := range res.Errors {
		fmt.Printf("  ERROR   %s\n", e)
	}
	for _, w := range res.Warnings {
		fmt.Printf("  WARNING %s\n", w)
	}
	if !res.Valid {
		fmt.Println("Result: invalid")
		os.Exit(1)
	}
	fmt.Println("Result: valid")
}
