package db

import (
	"context"

	"gorm.io/gorm"
)

type txKey struct{}

// Transaction 在事务中执行 fn，事务句柄通过 context 传递给仓储
// 已处于事务中时直接复用外层事务
func Transaction(ctx context.Context, db *gorm.DB, fn func(txCtx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// Conn 返回 context 中的事务句柄，不存在时返回普通连接
func Conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return db.WithContext(ctx)
}
