package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btcforks/forksim/pkg/models"
)

func TestLoadNetworkParsesNodesAndPeers(t *testing.T) {
	path := writeTempYAML(t, "network.yaml", `
nodes:
  - id: node-v27-1
    partition: v27
    bitcoin_version: "27.0"
    accepts_foreign_blocks: false
    peers: [node-v27-2]
  - id: node-v27-2
    partition: v27
    bitcoin_version: "27.0"
    peers: [node-v27-1]
  - id: node-v26-1
    partition: v26
    bitcoin_version: "26.0"
    accepts_foreign_blocks: true
`)

	nodes, err := LoadNetwork(path)
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	assert.Equal(t, models.PartitionV26, nodes[2].Partition)
	assert.True(t, nodes[2].AcceptsForeignBlocks)
}

func TestLoadNetworkRejectsUnknownPeer(t *testing.T) {
	path := writeTempYAML(t, "network.yaml", `
nodes:
  - id: node-a
    partition: v27
    peers: [ghost]
`)
	_, err := LoadNetwork(path)
	assert.Error(t, err)
}
