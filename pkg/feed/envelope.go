package feed

// ExtractProducts 展开三种信封格式：{data:[...]}、{items:[...]}、[...]
// 其余形态返回空切片
func ExtractProducts(doc Value) []Value {
	switch doc.kind {
	case KindList:
		return doc.list
	case KindMap:
		for _, key := range []string{"data", "items"} {
			if child, ok := doc.fields[key]; ok && child.kind == KindList {
				return child.list
			}
		}
	}
	return []Value{}
}

// IndexBySKU 按大写 SKU 建立索引，重复 SKU 以首次出现为准
func IndexBySKU(items []Value) map[string]Value {
	index := make(map[string]Value, len(items))
	for _, item := range items {
		sku := NormalizeSKU(SKU(item))
		if sku == "" || !ValidSKU(sku) {
			continue
		}
		if _, exists := index[sku]; !exists {
			index[sku] = item
		}
	}
	return index
}
