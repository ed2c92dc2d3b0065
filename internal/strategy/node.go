package strategy

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Node types of a user-authored condition tree.
const (
	NodeIndicator = "indicator"
	NodeAnd       = "and"
	NodeOr        = "or"
	NodeNot       = "not"
)

// ConditionNode is one node of a condition tree as stored in strategy files
// and API payloads.
type ConditionNode struct {
	Type      string          `json:"type" yaml:"type"`
	Indicator *IndicatorSpec  `json:"indicator,omitempty" yaml:"indicator,omitempty"`
	Children  []ConditionNode `json:"children,omitempty" yaml:"children,omitempty"`
}

// IndicatorSpec is the payload of an indicator leaf.
type IndicatorSpec struct {
	Type         string             `json:"type" yaml:"type"`
	Params       map[string]float64 `json:"params,omitempty" yaml:"params,omitempty"`
	Source       string             `json:"source,omitempty" yaml:"source,omitempty"`
	Output       string             `json:"output,omitempty" yaml:"output,omitempty"` // macd line or band selector
	Condition    string             `json:"condition" yaml:"condition"`
	Value        *float64           `json:"value,omitempty" yaml:"value,omitempty"`
	RefIndicator *IndicatorRef      `json:"refIndicator,omitempty" yaml:"ref_indicator,omitempty"`
}

// IndicatorRef names the right-hand indicator of an indicator-vs-indicator
// condition.
type IndicatorRef struct {
	Type   string             `json:"type" yaml:"type"`
	Params map[string]float64 `json:"params,omitempty" yaml:"params,omitempty"`
	Source string             `json:"source,omitempty" yaml:"source,omitempty"`
	Output string             `json:"output,omitempty" yaml:"output,omitempty"`
}

// Conditions is either a single node or a list of nodes combined with an
// implicit AND.
type Conditions []ConditionNode

// Root returns the tree the conditions stand for, or nil when there are none.
func (c Conditions) Root() *ConditionNode {
	switch len(c) {
	case 0:
		return nil
	case 1:
		n := c[0]
		return &n
	}
	return &ConditionNode{Type: NodeAnd, Children: []ConditionNode(c)}
}

// Single wraps one node.
func Single(n ConditionNode) Conditions { return Conditions{n} }

func (c *Conditions) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = nil
		return nil
	}
	if data[0] == '[' {
		var nodes []ConditionNode
		if err := json.Unmarshal(data, &nodes); err != nil {
			return err
		}
		*c = nodes
		return nil
	}
	var n ConditionNode
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*c = Conditions{n}
	return nil
}

func (c *Conditions) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		var nodes []ConditionNode
		if err := value.Decode(&nodes); err != nil {
			return err
		}
		*c = nodes
	case yaml.MappingNode:
		var n ConditionNode
		if err := value.Decode(&n); err != nil {
			return err
		}
		*c = Conditions{n}
	case yaml.ScalarNode:
		if value.Tag == "!!null" {
			*c = nil
			return nil
		}
		return fmt.Errorf("line %d: conditions must be a node or a list of nodes", value.Line)
	default:
		return fmt.Errorf("line %d: conditions must be a node or a list of nodes", value.Line)
	}
	return nil
}
