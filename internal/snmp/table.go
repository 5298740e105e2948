package snmp

import (
	"sort"
	"strings"
)

// OIDEnd 特殊列：取值为行索引（OID 在 base.column 之后的部分）
const OIDEnd = "END"

// TableSpec 一个 OID 表：基 OID 与相对列 OID
type TableSpec struct {
	Base    string
	Columns []string
}

// Spec 检查声明的 SNMP 数据：一个或多个表。Multi 为 true 时检查接收多表结果。
type Spec struct {
	Tables []TableSpec
	Multi  bool
}

// Single 单表声明
func Single(base string, columns ...string) Spec {
	return Spec{Tables: []TableSpec{{Base: base, Columns: columns}}}
}

// Table 按索引对齐后的行
type Table [][]string

// Varbind SNMP walk 返回的一项
type Varbind struct {
	OID   string
	Value string
}

func normalizeOID(oid string) string {
	if oid == "" || strings.HasPrefix(oid, ".") {
		return oid
	}
	return "." + oid
}

func columnOID(base, column string) string {
	return normalizeOID(strings.TrimSuffix(base, ".") + "." + strings.TrimPrefix(column, "."))
}

// assemble 把各列的 walk 结果按索引对齐成行。行顺序取各列首次出现索引的顺序，
// 某列缺失的索引填空字符串。
func assemble(spec TableSpec, columns map[string][]Varbind) Table {
	var order []string
	seen := make(map[string]bool)
	values := make([]map[string]string, len(spec.Columns))

	for i, col := range spec.Columns {
		if col == OIDEnd {
			continue
		}
		colOID := columnOID(spec.Base, col)
		values[i] = make(map[string]string)
		for _, vb := range columns[col] {
			index, ok := indexOf(normalizeOID(vb.OID), colOID)
			if !ok {
				continue
			}
			values[i][index] = vb.Value
			if !seen[index] {
				seen[index] = true
				order = append(order, index)
			}
		}
	}

	table := make(Table, 0, len(order))
	for _, index := range order {
		row := make([]string, len(spec.Columns))
		for i, col := range spec.Columns {
			if col == OIDEnd {
				row[i] = index
				continue
			}
			row[i] = values[i][index]
		}
		table = append(table, row)
	}
	return table
}

// indexOf 返回 oid 相对 colOID 的索引；标量（oid 与 colOID 相同）的索引为空
func indexOf(oid, colOID string) (string, bool) {
	if oid == colOID {
		return "", true
	}
	return strings.CutPrefix(oid, colOID+".")
}

// sortOIDs 按数值顺序排序 OID
func sortOIDs(vbs []Varbind) {
	sort.SliceStable(vbs, func(i, j int) bool {
		return lessOID(vbs[i].OID, vbs[j].OID)
	})
}

func lessOID(a, b string) bool {
	pa := strings.Split(strings.TrimPrefix(a, "."), ".")
	pb := strings.Split(strings.TrimPrefix(b, "."), ".")
	for i := 0; i < len(pa) && i < len(pb); i++ {
		if pa[i] == pb[i] {
			continue
		}
		if len(pa[i]) != len(pb[i]) {
			return len(pa[i]) < len(pb[i])
		}
		return pa[i] < pb[i]
	}
	return len(pa) < len(pb)
}
