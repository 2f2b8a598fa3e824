package domain

import "fmt"

// Role 参与方角色
type Role string

const (
	RoleSocio            Role = "socio"            // 矿山合伙人
	RolePlanta           Role = "planta"           // 加工厂
	RoleComercializadora Role = "comercializadora" // 贸易公司
	RoleCooperativa      Role = "cooperativa"      // 合作社
	RoleTransportista    Role = "transportista"    // 承运人
)

// Valid 是否为已知角色
func (r Role) Valid() bool {
	switch r {
	case RoleSocio, RolePlanta, RoleComercializadora, RoleCooperativa, RoleTransportista:
		return true
	}
	return false
}

// Actor 发起操作的用户
type Actor struct {
	UserID  string `json:"user_id"`
	Role    Role   `json:"role"`
	PartyID string `json:"party_id"` // 所属主体（socio / 加工厂 / 贸易公司）ID
	IP      string `json:"ip,omitempty"`
}

func (a Actor) String() string {
	return fmt.Sprintf("%s:%s", a.Role, a.UserID)
}

// Represents 是否代表该对手方
func (a Actor) Represents(cp Counterparty) bool {
	if cp == nil {
		return false
	}
	return string(a.Role) == string(cp.Type()) && a.PartyID == cp.PartyID()
}

// IsSocio 是否为指定 socio
func (a Actor) IsSocio(socioID string) bool {
	return a.Role == RoleSocio && a.PartyID == socioID
}
