package feed

import (
	"strconv"
	"strings"
)

// MaxDepth 路径解析与递归查找的最大层级
const MaxDepth = 12

// SplitPath 拆分点分路径
// 空段、"."、".." 以及超过 MaxDepth 的路径视为非法
func SplitPath(path string) ([]string, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, false
	}
	segs := strings.Split(path, ".")
	if len(segs) > MaxDepth {
		return nil, false
	}
	for _, s := range segs {
		if s == "" || s == "." || s == ".." {
			return nil, false
		}
	}
	return segs, true
}

// Lookup 按点分路径查找子节点
// 任一段缺失时返回 false（与值为 0 区分）
func (v Value) Lookup(path string) (Value, bool) {
	segs, ok := SplitPath(path)
	if !ok {
		return Value{}, false
	}

	cur := v
	for _, seg := range segs {
		next, found := cur.step(seg)
		if !found {
			return Value{}, false
		}
		cur = next
	}
	return cur, true
}

// step 先精确匹配键，再按字符串化的下标匹配列表元素
func (v Value) step(seg string) (Value, bool) {
	switch v.kind {
	case KindMap:
		if child, ok := v.fields[seg]; ok {
			return child, true
		}
		for _, key := range v.keys {
			if strings.TrimSpace(key) == seg {
				return v.fields[key], true
			}
		}
	case KindList:
		if i, err := strconv.Atoi(seg); err == nil {
			return v.Index(i)
		}
	}
	return Value{}, false
}
