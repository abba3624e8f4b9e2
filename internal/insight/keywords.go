// Package insight 生成会话、全局、每日与分类维度的情绪洞察。
package insight

import (
	"regexp"
	"sort"
	"strings"

	"github.com/easeaico/project-kairos/internal/types"
)

var nonWord = regexp.MustCompile(`[^\w\s]`)

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`the a an and or but in on at to for of with by from as is was are were
		been be have has had do does did will would could should may might can i you he she it we they
		my your his her its our their this that these those am me im ive dont cant wont didnt`) {
		stopWords[w] = struct{}{}
	}
}

// ExtractKeywords ranks words of the given texts by frequency. Ties keep
// first-occurrence order.
func ExtractKeywords(texts []string) []string {
	freq := make(map[string]int)
	var order []string
	for _, text := range texts {
		cleaned := nonWord.ReplaceAllString(strings.ToLower(text), "")
		for _, word := range strings.Fields(cleaned) {
			if len([]rune(word)) <= 3 {
				continue
			}
			if _, stop := stopWords[word]; stop {
				continue
			}
			if freq[word] == 0 {
				order = append(order, word)
			}
			freq[word]++
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return freq[order[i]] > freq[order[j]]
	})
	if len(order) > types.MaxInsightKeywords {
		order = order[:types.MaxInsightKeywords]
	}
	return order
}
