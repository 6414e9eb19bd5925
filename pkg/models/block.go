package models

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Block is an immutable record of one mined block. Once created it is never
// mutated; a reorg moves it between the live path and a node's orphan set
// but never edits its fields.
type Block struct {
	ID         chainhash.Hash `json:"id"`
	Height     int64          `json:"height"`
	ParentID   chainhash.Hash `json:"parentId"`
	Fork       ForkID         `json:"fork"`
	Producer   string         `json:"producer"` // pool id
	Timestamp  time.Time      `json:"timestamp"`
	Difficulty float64        `json:"difficulty"`
}

// NewBlock builds a Block and derives its identity deterministically from
// its content, the same "hash identifies the record" idiom used for
// Bitcoin txids: two blocks with identical parent/fork/producer/height/
// timestamp/difficulty collide on purpose (re-running a tick with the same
// inputs must reproduce the same id for byte-exact determinism, spec
// invariant 5).
func NewBlock(parent chainhash.Hash, height int64, fork ForkID, producer string, ts time.Time, difficulty float64) Block {
	b := Block{
		Height:     height,
		ParentID:   parent,
		Fork:       fork,
		Producer:   producer,
		Timestamp:  ts,
		Difficulty: difficulty,
	}
	b.ID = b.computeID()
	return b
}

func (b Block) computeID() chainhash.Hash {
	buf := make([]byte, 0, 32+8+8+8+len(b.Fork)+len(b.Producer))
	buf = append(buf, b.ParentID[:]...)
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(b.Height))
	buf = append(buf, tmp[:]...)
	binary.LittleEndian.PutUint64(tmp[:], uint64(b.Timestamp.UnixNano()))
	buf = append(buf, tmp[:]...)
	binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(b.Difficulty))
	buf = append(buf, tmp[:]...)
	buf = append(buf, []byte(b.Fork)...)
	buf = append(buf, []byte(b.Producer)...)
	return chainhash.HashH(buf)
}
