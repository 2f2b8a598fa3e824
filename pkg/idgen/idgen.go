// Package idgen 提供基于 snowflake 的业务单号生成
package idgen

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node     *snowflake.Node
	nodeOnce sync.Once
	nodeErr  error
)

// Init 设置节点号，需在首次生成前调用；未调用时使用节点 1
func Init(nodeID int64) error {
	nodeOnce.Do(func() {
		node, nodeErr = snowflake.NewNode(nodeID)
	})
	return nodeErr
}

func current() *snowflake.Node {
	nodeOnce.Do(func() {
		node, nodeErr = snowflake.NewNode(1)
	})
	if nodeErr != nil {
		panic(fmt.Sprintf("idgen: snowflake node unavailable: %v", nodeErr))
	}
	return node
}

// Next 生成下一个 snowflake ID
func Next() snowflake.ID {
	return current().Generate()
}

// WithPrefix 生成带前缀的业务单号，例如 LIQ-1780000000000000000
func WithPrefix(prefix string) string {
	return prefix + "-" + Next().String()
}
