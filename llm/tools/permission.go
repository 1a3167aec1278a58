package tools

import (
	"slices"

	"github.com/bmatcuk/doublestar/v4"
)

// Permissions 是调用方（Agent）持有的权限集合。
// 支持 glob 模式："fs:*"、"net/**"、"{fs:read,net}"；单独的 "*" 授予全部。
type Permissions []string

// Allows reports whether the set grants required. An empty requirement is
// always granted.
func (p Permissions) Allows(required string) bool {
	if required == "" {
		return true
	}
	for _, pattern := range p {
		if pattern == required || pattern == "*" {
			return true
		}
		if ok, _ := doublestar.Match(pattern, required); ok {
			return true
		}
	}
	return false
}

// Narrow 返回 p 与 child 的交集，子 Agent 的权限不得超过父 Agent。
// child 为空时继承 p。
func (p Permissions) Narrow(child Permissions) Permissions {
	if len(child) == 0 {
		return slices.Clone(p)
	}
	out := make(Permissions, 0, len(child))
	for _, c := range child {
		if p.Allows(c) {
			out = append(out, c)
		}
	}
	return out
}
