package config

import (
	"os"

	"github.com/goccy/go-yaml"

	"github.com/btcforks/forksim/pkg/models"
)

type nodeEntry struct {
	ID                   string   `yaml:"id"`
	Partition            string   `yaml:"partition"`
	BitcoinVersion       string   `yaml:"bitcoin_version"`
	AcceptsForeignBlocks bool     `yaml:"accepts_foreign_blocks"`
	Peers                []string `yaml:"peers"`
	Role                 string   `yaml:"role"`
	EntityID             string   `yaml:"entity_id"`
}

type networkMetadataFile struct {
	Scenario string      `yaml:"scenario"`
	Nodes    []nodeEntry `yaml:"nodes"`
}

// LoadNetwork parses the network-topology YAML into the peer graph the
// chain store's nodes are registered from. A node's Peers list is not
// validated for symmetry here — asymmetric propagation (spec.md §4.7) is a
// deliberate, declared property of a v26 node's AcceptsForeignBlocks flag,
// not a config error.
func LoadNetwork(path string) ([]models.Node, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, NewError(path, "file", err.Error())
	}

	var doc networkMetadataFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, NewError(path, "yaml", err.Error())
	}

	nodes := make([]models.Node, 0, len(doc.Nodes))
	seen := make(map[string]bool, len(doc.Nodes))
	for _, e := range doc.Nodes {
		if e.ID == "" {
			return nil, NewError(path, "nodes[].id", "node id must not be empty")
		}
		if seen[e.ID] {
			return nil, NewError(path, "nodes[].id", "duplicate node id "+e.ID)
		}
		seen[e.ID] = true

		partition := models.Partition(e.Partition)
		if partition != models.PartitionV27 && partition != models.PartitionV26 {
			return nil, NewError(path, "nodes["+e.ID+"].partition", "must be one of v27, v26")
		}

		nodes = append(nodes, models.Node{
			ID:                   e.ID,
			Partition:            partition,
			BitcoinVersion:       e.BitcoinVersion,
			AcceptsForeignBlocks: e.AcceptsForeignBlocks,
			Peers:                e.Peers,
			Role:                 e.Role,
			EntityID:             e.EntityID,
		})
	}

	byID := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = true
	}
	for _, n := range nodes {
		for _, p := range n.Peers {
			if !byID[p] {
				return nil, NewError(path, "nodes["+n.ID+"].peers", "references unknown peer "+p)
			}
		}
	}

	return nodes, nil
}
