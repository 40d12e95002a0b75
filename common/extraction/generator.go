package extraction

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/rainbow-me/ctxfields/common/fields"
)

// Generator produces a value for a field that resolved empty and has generateIfAbsent set.
type Generator interface {
	Generate(kind fields.GeneratorType) (string, error)
}

// IDGenerator is the default Generator. The snowflake node backing SEQUENCE is created on first use
// with a random node id.
type IDGenerator struct {
	now func() time.Time

	once sync.Once
	node *snowflake.Node
	err  error
}

func NewIDGenerator() *IDGenerator {
	return &IDGenerator{now: time.Now}
}

func (g *IDGenerator) Generate(kind fields.GeneratorType) (string, error) {
	switch kind {
	case fields.GeneratorUUID, "":
		return uuid.NewString(), nil
	case fields.GeneratorUUIDv7:
		id, err := uuid.NewV7()
		if err != nil {
			return "", errors.Wrap(err, "failed to generate uuid v7")
		}
		return id.String(), nil
	case fields.GeneratorTimestamp:
		return g.now().UTC().Format(time.RFC3339Nano), nil
	case fields.GeneratorSequence:
		node, err := g.sequenceNode()
		if err != nil {
			return "", err
		}
		return node.Generate().String(), nil
	default:
		return "", errors.Newf("unknown generator %q", kind)
	}
}

func (g *IDGenerator) sequenceNode() (*snowflake.Node, error) {
	g.once.Do(func() {
		var nodeID int64
		if err := binary.Read(rand.Reader, binary.BigEndian, &nodeID); err != nil {
			g.err = errors.Wrap(err, "failed to pick snowflake node id")
			return
		}
		g.node, g.err = snowflake.NewNode(nodeID & (1<<snowflake.NodeBits - 1))
	})
	return g.node, g.err
}
