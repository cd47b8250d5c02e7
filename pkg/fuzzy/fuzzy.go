package fuzzy

import (
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/xrash/smetrics"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"supplier_feed_v1/pkg/feed"
)

const (
	// DefaultThreshold 低于该分数的条目被丢弃
	DefaultThreshold = 0.30
	// MaxItems 单次排序最多处理的条目数
	MaxItems = 5000

	coverageWeight = 0.55
	trigramWeight  = 0.30
	partialWeight  = 0.15
)

// 无法通过 NFKD 分解得到的拉丁字母
var latinFold = strings.NewReplacer(
	"ß", "ss", "æ", "ae", "Æ", "AE", "œ", "oe", "Œ", "OE",
	"ø", "o", "Ø", "O", "ł", "l", "Ł", "L", "đ", "d", "Đ", "D",
	"ð", "d", "Ð", "D", "þ", "th", "Þ", "TH", "ı", "i",
)

// Normalize 小写、音译为 ASCII 近似、非字母数字替换为空格并折叠空白
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	s = latinFold.Replace(s)

	// transform.Transformer 有内部状态，每次调用单独创建
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(t, s); err == nil {
		s = folded
	}

	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// Match 排序结果
type Match struct {
	Index int // 在输入中的位置
	Item  feed.Value
	Score float64
}

// Matcher 模糊匹配器
type Matcher struct {
	Threshold float64
	MaxItems  int
}

func NewMatcher() *Matcher {
	return &Matcher{Threshold: DefaultThreshold, MaxItems: MaxItems}
}

// Rank 使用默认参数排序
func Rank(items []feed.Value, keyword string, skuOnly bool) []Match {
	return NewMatcher().Rank(items, keyword, skuOnly)
}

// Rank 按关键词对条目评分并排序，分数相同时保持原顺序
func (m *Matcher) Rank(items []feed.Value, keyword string, skuOnly bool) []Match {
	query := Normalize(keyword)
	if query == "" {
		return []Match{}
	}

	if skuOnly {
		out := make([]Match, 0, 1)
		for i, item := range items {
			if Normalize(feed.SKU(item)) == query {
				out = append(out, Match{Index: i, Item: item, Score: 1})
			}
		}
		return out
	}

	if m.MaxItems > 0 && len(items) > m.MaxItems {
		items = items[:m.MaxItems]
	}

	q := newQuery(query)
	out := make([]Match, 0, len(items))
	for i, item := range items {
		score := q.score(Normalize(Haystack(item)))
		if score < m.Threshold {
			continue
		}
		out = append(out, Match{Index: i, Item: item, Score: score})
	}

	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Score > out[b].Score
	})
	return out
}

// Haystack 拼接 name、title、sku、description 中的非空字段
func Haystack(item feed.Value) string {
	parts := make([]string, 0, 4)
	for _, key := range []string{"name", "title", "sku", "description"} {
		if s := feed.Text(item, key); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// Score 计算原始文本与关键词的相似度，范围 [0,1]
func Score(hay, keyword string) float64 {
	return newQuery(Normalize(keyword)).score(Normalize(hay))
}

// ==================== 评分 ====================

type query struct {
	text     string
	tokens   []string
	trigrams map[string]struct{}
}

func newQuery(normalized string) *query {
	return &query{
		text:     normalized,
		tokens:   strings.Fields(normalized),
		trigrams: trigrams(normalized),
	}
}

func (q *query) score(hay string) float64 {
	if q.text == "" {
		return 0
	}
	if strings.Contains(hay, q.text) {
		return 1
	}
	if len(q.tokens) == 0 {
		return 0
	}

	hayTokens := strings.Fields(hay)

	covered, partial := 0, 0
	for _, qt := range q.tokens {
		if tokenHit(qt, hayTokens) {
			covered++
		}
		if containedIn(qt, hayTokens) {
			partial++
		}
	}

	n := float64(len(q.tokens))
	score := coverageWeight*float64(covered)/n +
		trigramWeight*jaccard(trigrams(hay), q.trigrams) +
		partialWeight*float64(partial)/n

	return math.Max(0, math.Min(1, score))
}

// tokenHit 精确匹配、互相包含或编辑距离 <= ceil(len/4)
func tokenHit(qt string, hayTokens []string) bool {
	qLen := utf8.RuneCountInString(qt)
	maxDist := int(math.Ceil(float64(qLen) / 4))

	for _, ht := range hayTokens {
		if ht == qt || strings.Contains(ht, qt) {
			return true
		}
		if utf8.RuneCountInString(ht) >= 3 && strings.Contains(qt, ht) {
			return true
		}
		if abs(utf8.RuneCountInString(ht)-qLen) > maxDist {
			continue
		}
		if editDistance(qt, ht) <= maxDist {
			return true
		}
	}
	return false
}

// editDistance 按字符计算编辑距离
// smetrics 按字节比较，非 ASCII 时先把两边的字符映射为单字节
func editDistance(a, b string) int {
	a, b = byteAlphabet(a, b)
	return smetrics.WagnerFischer(a, b, 1, 1, 1)
}

// byteAlphabet 两边不同字符超过 256 个时返回原串
func byteAlphabet(a, b string) (string, string) {
	if isASCII(a) && isASCII(b) {
		return a, b
	}
	codes := make(map[rune]byte)
	encode := func(s string) ([]byte, bool) {
		out := make([]byte, 0, len(s))
		for _, r := range s {
			c, ok := codes[r]
			if !ok {
				if len(codes) == 256 {
					return nil, false
				}
				c = byte(len(codes))
				codes[r] = c
			}
			out = append(out, c)
		}
		return out, true
	}
	ea, ok := encode(a)
	if !ok {
		return a, b
	}
	eb, ok := encode(b)
	if !ok {
		return a, b
	}
	return string(ea), string(eb)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func containedIn(qt string, hayTokens []string) bool {
	for _, ht := range hayTokens {
		if strings.Contains(ht, qt) {
			return true
		}
	}
	return false
}

// trigrams 两侧各补两个空格后取 3 字符切片
func trigrams(s string) map[string]struct{} {
	padded := []rune("  " + s + "  ")
	set := make(map[string]struct{}, len(padded))
	for i := 0; i+3 <= len(padded); i++ {
		set[string(padded[i:i+3])] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
