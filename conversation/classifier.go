package conversation

import "strings"

var sqlKeywords = []string{"SELECT", "FROM", "WHERE", "INSERT", "UPDATE", "DELETE", "CREATE", "ALTER", "DROP", "JOIN"}

// Classification is a rendering hint for a message body.
type Classification struct {
	IsQuery bool `json:"is_query"`
}

// Classify reports whether content looks like SQL by plain case-insensitive
// substring search. Not a parser; never use it for validation.
func Classify(content string) Classification {
	upper := strings.ToUpper(content)
	for _, kw := range sqlKeywords {
		if strings.Contains(upper, kw) {
			return Classification{IsQuery: true}
		}
	}
	return Classification{}
}
