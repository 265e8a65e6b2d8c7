// Package authz はレコード変更の認可判定を提供する。
package authz

// Actor は認可判定の対象となる呼び出し元を表す。
type Actor struct {
	UID   string
	Admin bool
}

// CanModify はactorがcreatedByのレコードを変更できるか判定する。
// 作成者本人または管理者のみ変更できる。
// 作成者が記録されていない古いレコードは誰でも変更できる。
func CanModify(actor Actor, createdBy string) bool {
	if createdBy == "" {
		return true
	}
	if actor.Admin {
		return true
	}
	return actor.UID == createdBy
}
