package mysql

import (
	"fmt"

	"gorm.io/gorm"
)

// AutoMigrate 创建或更新结算上下文的全部表
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&SettlementPO{},
		&ItemLinkPO{},
		&LabReportPO{},
		&DeductionRecordPO{},
		&QuoteSnapshotPO{},
		&PriceBracketPO{},
		&DeductionRulePO{},
		&AuditPO{},
	); err != nil {
		return fmt.Errorf("failed to migrate settlement tables: %w", err)
	}
	for _, table := range []string{tableConcentrates, tableLots} {
		if err := db.Table(table).AutoMigrate(&PhysicalItemPO{}); err != nil {
			return fmt.Errorf("failed to migrate %s: %w", table, err)
		}
	}
	return nil
}
