package features

var stopwords = toSet(
	// english
	"a", "about", "above", "after", "again", "against", "all", "also", "am", "an", "and", "any", "are",
	"as", "at", "be", "because", "been", "before", "being", "below", "between", "both", "but", "by",
	"can", "could", "did", "do", "does", "doing", "down", "during", "each", "few", "for", "from",
	"further", "had", "has", "have", "having", "he", "her", "here", "hers", "herself", "him",
	"himself", "his", "how", "i", "if", "in", "into", "is", "it", "its", "itself", "just", "let",
	"like", "may", "me", "might", "more", "most", "must", "my", "myself", "no", "nor", "not", "now",
	"of", "off", "on", "once", "only", "or", "other", "our", "ours", "ourselves", "out", "over",
	"own", "same", "shall", "she", "should", "so", "some", "such", "than", "that", "the", "their",
	"theirs", "them", "themselves", "then", "there", "these", "they", "this", "those", "through",
	"to", "too", "under", "until", "up", "us", "very", "was", "we", "were", "what", "when", "where",
	"which", "while", "who", "whom", "why", "will", "with", "would", "you", "your", "yours",
	"yourself", "yourselves", "get", "got", "one", "two", "new", "see", "use", "via", "within",
	// mail boilerplate
	"dear", "hello", "hey", "thanks", "thank", "regards", "best", "sincerely", "cheers", "kind",
	"please", "sent", "email", "mail", "message", "reply", "forwarded", "original", "subject",
	"unsubscribe", "click", "view", "browser", "http", "https", "www", "com", "org", "net",
	"html", "nbsp", "amp", "gmail", "outlook", "hotmail", "yahoo", "noreply", "reply",
)

func toSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// IsStopword reports whether word is dropped by the tokenizer.
func IsStopword(word string) bool {
	_, ok := stopwords[word]
	return ok
}
